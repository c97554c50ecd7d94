// Package memory provides an in-memory Repository used for development mode
// and tests. It enforces the same allocation and settlement semantics as the
// PostgreSQL store, with a single mutex standing in for the serializable
// transaction.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"angkorpos/backend/internal/currency"
	"angkorpos/backend/internal/domain"
	"angkorpos/backend/internal/store"
)

type Store struct {
	mu          sync.Mutex
	products    map[string]domain.Product
	serialItems map[string]domain.SerialItem
	salesByID   map[string]*domain.Sale
	warranties  map[string]domain.Warranty
	ratesByDate map[string]domain.ExchangeRate

	now func() time.Time
}

func New() *Store {
	return &Store{
		products:    make(map[string]domain.Product),
		serialItems: make(map[string]domain.SerialItem),
		salesByID:   make(map[string]*domain.Sale),
		warranties:  make(map[string]domain.Warranty),
		ratesByDate: make(map[string]domain.ExchangeRate),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// NewSeeded returns a store pre-loaded with a small phone-shop catalog:
// serialized handsets with registered IMEIs plus bulk accessories.
func NewSeeded() *Store {
	s := New()

	products := []domain.Product{
		{ID: "prod-ip15-128", SKU: "PHN-IP15-128", Name: "iPhone 15 128GB", CostPrice: 720, SellingPrice: 849, IsSerialized: true, IsActive: true},
		{ID: "prod-s24-256", SKU: "PHN-S24-256", Name: "Galaxy S24 256GB", CostPrice: 610, SellingPrice: 749, IsSerialized: true, IsActive: true},
		{ID: "prod-a15-128", SKU: "PHN-A15-128", Name: "Galaxy A15 128GB", CostPrice: 135, SellingPrice: 179, IsSerialized: true, IsActive: true},
		{ID: "prod-case-clear", SKU: "ACC-CASE-01", Name: "Clear Case", CostPrice: 1.8, SellingPrice: 5, IsSerialized: false, Quantity: 80, LowStockThreshold: 10, IsActive: true},
		{ID: "prod-glass-01", SKU: "ACC-GLASS-01", Name: "Tempered Glass", CostPrice: 0.9, SellingPrice: 3, IsSerialized: false, Quantity: 120, LowStockThreshold: 20, IsActive: true},
		{ID: "prod-cable-c", SKU: "ACC-CABLE-C", Name: "USB-C Cable 1m", CostPrice: 1.2, SellingPrice: 4.5, IsSerialized: false, Quantity: 60, LowStockThreshold: 10, IsActive: true},
		{ID: "prod-charger-20w", SKU: "ACC-CHG-20W", Name: "20W Charger", CostPrice: 4.5, SellingPrice: 12, IsSerialized: false, Quantity: 40, LowStockThreshold: 8, IsActive: true},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}

	cost := func(v float64) *float64 { return &v }
	serials := []domain.SerialItem{
		{ID: "ser-ip15-1", ProductID: "prod-ip15-128", IMEI: "356789104563217", Status: domain.SerialStatusInStock, CostPrice: cost(715)},
		{ID: "ser-ip15-2", ProductID: "prod-ip15-128", IMEI: "356789104563225", Status: domain.SerialStatusInStock, CostPrice: cost(722)},
		{ID: "ser-ip15-3", ProductID: "prod-ip15-128", IMEI: "356789104563233", Status: domain.SerialStatusInStock},
		{ID: "ser-s24-1", ProductID: "prod-s24-256", IMEI: "354412089116544", Status: domain.SerialStatusInStock},
		{ID: "ser-s24-2", ProductID: "prod-s24-256", IMEI: "354412089116551", SerialNumber: "R5CX20AB1QK", Status: domain.SerialStatusInStock},
		{ID: "ser-a15-1", ProductID: "prod-a15-128", IMEI: "351234567890127", Status: domain.SerialStatusInStock},
	}
	for _, item := range serials {
		s.serialItems[item.ID] = item
	}

	return s
}

func (s *Store) CreateSale(_ context.Context, draft store.SaleDraft) (*domain.Sale, *domain.PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(draft.Lines) == 0 {
		return nil, nil, fmt.Errorf("%w: sale has no items", store.ErrValidation)
	}

	now := s.now()
	saleID := uuid.NewString()
	subtotal := 0.0
	items := make([]domain.SaleItem, 0, len(draft.Lines))

	type allocation struct {
		serialItemID string
		productID    string
		qty          int
	}
	allocations := make([]allocation, 0, len(draft.Lines))
	// Running per-product tally so split lines for the same bulk product are
	// checked against what the earlier lines already claimed.
	bulkClaimed := make(map[string]int, len(draft.Lines))

	for _, line := range draft.Lines {
		product, ok := s.products[line.ProductID]
		if !ok || !product.IsActive {
			return nil, nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}

		qty := line.Quantity
		unitPrice := product.SellingPrice
		if line.UnitPrice != nil {
			unitPrice = *line.UnitPrice
		}
		costPrice := product.CostPrice

		item := domain.SaleItem{
			ID:          uuid.NewString(),
			SaleID:      saleID,
			ProductID:   product.ID,
			ProductName: product.Name,
			UnitPrice:   unitPrice,
			Discount:    line.Discount,
		}

		if product.IsSerialized {
			if line.SerialItemID == "" {
				return nil, nil, fmt.Errorf("%w: serialized product %s requires serial_item_id", store.ErrValidation, product.Name)
			}
			unit, ok := s.serialItems[line.SerialItemID]
			if !ok || unit.ProductID != product.ID {
				return nil, nil, fmt.Errorf("%w: serial item %s", store.ErrNotFound, line.SerialItemID)
			}
			if unit.Status != domain.SerialStatusInStock {
				return nil, nil, fmt.Errorf("%w: serial item %s is %s", store.ErrSerialUnavailable, line.SerialItemID, unit.Status)
			}
			for _, a := range allocations {
				if a.serialItemID == line.SerialItemID {
					return nil, nil, fmt.Errorf("%w: serial item %s appears twice", store.ErrValidation, line.SerialItemID)
				}
			}
			if unit.CostPrice != nil {
				costPrice = *unit.CostPrice
			}
			qty = 1
			item.SerialItemID = unit.ID
			allocations = append(allocations, allocation{serialItemID: unit.ID})
		} else {
			if qty < 1 {
				return nil, nil, fmt.Errorf("%w: quantity must be at least 1", store.ErrValidation)
			}
			available := product.Quantity - bulkClaimed[product.ID]
			if available < qty {
				return nil, nil, fmt.Errorf("%w: %s has %d available, requested %d", store.ErrInsufficientStock, product.Name, available, qty)
			}
			bulkClaimed[product.ID] += qty
			allocations = append(allocations, allocation{productID: product.ID, qty: qty})
		}

		item.Quantity = qty
		item.CostPrice = costPrice
		item.Total = currency.Round2(unitPrice*float64(qty) - line.Discount)
		if item.Total < 0 {
			return nil, nil, fmt.Errorf("%w: line discount exceeds line amount", store.ErrValidation)
		}
		subtotal += item.Total
		items = append(items, item)
	}

	subtotal = currency.Round2(subtotal)
	total := currency.Round2(subtotal - draft.DiscountUSD)
	if total < 0 {
		return nil, nil, fmt.Errorf("%w: discount exceeds subtotal", store.ErrValidation)
	}

	result := currency.Settle(total, draft.PaidUSD, draft.PaidKHR, draft.ExchangeRate)
	if !result.IsPaid {
		return nil, nil, fmt.Errorf("%w: need $%.2f more (or ៛%.0f)", store.ErrPaymentInsufficient, result.RemainingUSD, result.RemainingKHR)
	}

	sale := &domain.Sale{
		ID:            saleID,
		InvoiceNumber: domain.FormatInvoiceNumber(now, s.countSalesOnLocked(now)+1),
		CashierID:     draft.CashierID,
		CustomerID:    draft.CustomerID,
		SubtotalUSD:   subtotal,
		DiscountUSD:   currency.Round2(draft.DiscountUSD),
		TotalUSD:      total,
		PaidUSD:       result.PaidUSD,
		PaidKHR:       result.PaidKHR,
		ChangeUSD:     result.ChangeUSD,
		ChangeKHR:     result.ChangeKHR,
		ExchangeRate:  draft.ExchangeRate,
		PaymentMethod: draft.PaymentMethod,
		KHQRReference: draft.KHQRReference,
		Status:        domain.SaleStatusCompleted,
		Notes:         draft.Notes,
		CreatedAt:     now,
	}

	// Point of no return: mutate inventory, issue warranties, persist.
	for _, a := range allocations {
		if a.serialItemID != "" {
			unit := s.serialItems[a.serialItemID]
			unit.Status = domain.SerialStatusSold
			unit.SaleID = saleID
			soldAt := now
			unit.SoldAt = &soldAt
			s.serialItems[a.serialItemID] = unit
			continue
		}
		product := s.products[a.productID]
		product.Quantity -= a.qty
		s.products[a.productID] = product
	}

	for i := range items {
		if items[i].SerialItemID == "" {
			continue
		}
		warranty := domain.Warranty{
			ID:             uuid.NewString(),
			SerialItemID:   items[i].SerialItemID,
			SaleID:         saleID,
			StartDate:      now,
			EndDate:        now.AddDate(0, draft.WarrantyMonths, 0),
			DurationMonths: draft.WarrantyMonths,
			Terms:          domain.DefaultWarrantyTerms,
			Status:         domain.WarrantyStatusActive,
		}
		s.warranties[warranty.ID] = warranty
		w := warranty
		items[i].Warranty = &w
	}

	sale.Items = items
	s.salesByID[saleID] = sale

	saved := cloneSale(sale)
	return &saved, &result, nil
}

func (s *Store) countSalesOnLocked(day time.Time) int {
	y, m, d := day.Date()
	count := 0
	for _, sale := range s.salesByID {
		sy, sm, sd := sale.CreatedAt.Date()
		if sy == y && sm == m && sd == d {
			count++
		}
	}
	return count
}

func (s *Store) VoidSale(_ context.Context, saleID string, actor domain.Actor, reason string, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status == domain.SaleStatusVoided {
		return nil, store.ErrAlreadyVoided
	}
	if sale.Status != domain.SaleStatusCompleted {
		return nil, fmt.Errorf("%w: cannot void a %s sale", store.ErrValidation, sale.Status)
	}

	for _, item := range sale.Items {
		if item.SerialItemID != "" {
			unit := s.serialItems[item.SerialItemID]
			unit.Status = domain.SerialStatusInStock
			unit.SaleID = ""
			unit.SoldAt = nil
			s.serialItems[item.SerialItemID] = unit
			continue
		}
		product := s.products[item.ProductID]
		product.Quantity += item.Quantity
		s.products[item.ProductID] = product
	}

	for id, w := range s.warranties {
		if w.SaleID == saleID && w.Status == domain.WarrantyStatusActive {
			w.Status = domain.WarrantyStatusVoided
			s.warranties[id] = w
		}
	}
	for i := range sale.Items {
		if sale.Items[i].Warranty != nil {
			sale.Items[i].Warranty.Status = domain.WarrantyStatusVoided
		}
	}

	sale.Status = domain.SaleStatusVoided
	voidedAt := at
	sale.VoidedAt = &voidedAt
	sale.Notes = appendVoidNote(sale.Notes, actor, reason, at)

	saved := cloneSale(sale)
	return &saved, nil
}

func appendVoidNote(notes string, actor domain.Actor, reason string, at time.Time) string {
	who := actor.Name
	if who == "" {
		who = actor.ID
	}
	note := fmt.Sprintf("[VOIDED by %s on %s]", who, at.UTC().Format(time.RFC3339))
	if reason != "" {
		note += " Reason: " + reason
	}
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}

func (s *Store) GetSaleByID(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := cloneSale(sale)
	return &saved, nil
}

func (s *Store) ListSales(_ context.Context, q domain.SalesQuery) (*domain.SalesPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if q.CashierID != "" && sale.CashierID != q.CashierID {
			continue
		}
		if q.PaymentMethod != "" && sale.PaymentMethod != q.PaymentMethod {
			continue
		}
		if q.Status != "" && sale.Status != q.Status {
			continue
		}
		day := sale.CreatedAt.UTC().Format("2006-01-02")
		if q.StartDate != "" && day < q.StartDate {
			continue
		}
		if q.EndDate != "" && day > q.EndDate {
			continue
		}
		matched = append(matched, cloneSale(sale))
	}

	slices.SortFunc(matched, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.InvoiceNumber, a.InvoiceNumber)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = 20
	}

	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}

	return &domain.SalesPage{
		Sales: matched[start:end],
		Pagination: domain.Pagination{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: totalPages,
		},
	}, nil
}

func (s *Store) GetProductByID(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := product
	return &saved, nil
}

// SetProductPrices updates catalog pricing. Used by tests to verify that sale
// item snapshots are independent of later catalog edits.
func (s *Store) SetProductPrices(productID string, costPrice, sellingPrice float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	product.CostPrice = costPrice
	product.SellingPrice = sellingPrice
	s.products[productID] = product
	return nil
}

func (s *Store) CreateSerialItem(_ context.Context, item domain.SerialItem) (*domain.SerialItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[item.ProductID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
	}
	if !product.IsSerialized {
		return nil, fmt.Errorf("%w: product %s is not serialized", store.ErrValidation, product.Name)
	}
	for _, existing := range s.serialItems {
		if item.IMEI != "" && existing.IMEI == item.IMEI {
			return nil, fmt.Errorf("%w: IMEI %s already registered", store.ErrConflict, item.IMEI)
		}
		if item.SerialNumber != "" && existing.SerialNumber == item.SerialNumber {
			return nil, fmt.Errorf("%w: serial number %s already registered", store.ErrConflict, item.SerialNumber)
		}
	}

	item.ID = uuid.NewString()
	item.Status = domain.SerialStatusInStock
	s.serialItems[item.ID] = item
	saved := item
	return &saved, nil
}

func (s *Store) GetSerialItemByID(_ context.Context, serialItemID string) (*domain.SerialItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.serialItems[serialItemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := item
	return &saved, nil
}

func (s *Store) ListSerialItems(_ context.Context, productID string, status string) ([]domain.SerialItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]domain.SerialItem, 0, len(s.serialItems))
	for _, item := range s.serialItems {
		if productID != "" && item.ProductID != productID {
			continue
		}
		if status != "" && item.Status != status {
			continue
		}
		items = append(items, item)
	}

	slices.SortFunc(items, func(a, b domain.SerialItem) int {
		return strings.Compare(a.ID, b.ID)
	})
	return items, nil
}

func (s *Store) GetRateForDate(_ context.Context, rateDate string) (*domain.ExchangeRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rate, ok := s.ratesByDate[rateDate]
	if !ok {
		return nil, store.ErrNotFound
	}
	saved := rate
	return &saved, nil
}

func (s *Store) UpsertRateForDate(_ context.Context, rate domain.ExchangeRate) (*domain.ExchangeRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.ratesByDate[rate.RateDate]
	if ok {
		rate.ID = existing.ID
	} else {
		rate.ID = uuid.NewString()
	}
	s.ratesByDate[rate.RateDate] = rate
	saved := rate
	return &saved, nil
}

func (s *Store) ListRates(_ context.Context, days int) ([]domain.ExchangeRate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := ""
	if days > 0 {
		cutoff = s.now().AddDate(0, 0, -days).Format("2006-01-02")
	}

	rates := make([]domain.ExchangeRate, 0, len(s.ratesByDate))
	for _, rate := range s.ratesByDate {
		if cutoff != "" && rate.RateDate < cutoff {
			continue
		}
		rates = append(rates, rate)
	}

	slices.SortFunc(rates, func(a, b domain.ExchangeRate) int {
		return strings.Compare(b.RateDate, a.RateDate)
	})
	return rates, nil
}

func cloneSale(sale *domain.Sale) domain.Sale {
	saved := *sale
	saved.Items = make([]domain.SaleItem, len(sale.Items))
	copy(saved.Items, sale.Items)
	for i := range saved.Items {
		if saved.Items[i].Warranty != nil {
			w := *saved.Items[i].Warranty
			saved.Items[i].Warranty = &w
		}
	}
	return saved
}
