package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"angkorpos/backend/internal/currency"
	"angkorpos/backend/internal/domain"
	"angkorpos/backend/internal/khqr"
	"angkorpos/backend/internal/rate"
	"angkorpos/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var imeiPattern = regexp.MustCompile(`^\d{15}$`)

type Service struct {
	repo                  store.Repository
	rates                 rate.Provider
	verifier              khqr.Verifier
	defaultWarrantyMonths int
	logger                *zap.Logger
}

func New(repo store.Repository, rates rate.Provider, verifier khqr.Verifier, defaultWarrantyMonths int, logger *zap.Logger) *Service {
	if defaultWarrantyMonths < 1 {
		defaultWarrantyMonths = 12
	}

	return &Service{
		repo:                  repo,
		rates:                 rates,
		verifier:              verifier,
		defaultWarrantyMonths: defaultWarrantyMonths,
		logger:                logger,
	}
}

func validPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodCard, domain.PaymentMethodKHQR, domain.PaymentMethodSplit:
		return true
	}
	return false
}

func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (*domain.SaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ID == "" {
		return nil, fmt.Errorf("%w: cashier identity required", store.ErrValidation)
	}

	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: sale has no items", store.ErrValidation)
	}
	if !validPaymentMethod(req.PaymentMethod) {
		return nil, fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, req.PaymentMethod)
	}
	if req.PaidUSD < 0 || req.PaidKHR < 0 || req.DiscountUSD < 0 {
		return nil, fmt.Errorf("%w: amounts must not be negative", store.ErrValidation)
	}
	if req.PaymentMethod == domain.PaymentMethodKHQR && req.KHQRReference == "" {
		return nil, fmt.Errorf("%w: khqr payment requires khqr_reference", store.ErrValidation)
	}

	lines := make([]store.SaleLine, 0, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: item missing product_id", store.ErrValidation)
		}
		if item.UnitPrice != nil && *item.UnitPrice < 0 {
			return nil, fmt.Errorf("%w: unit price must not be negative", store.ErrValidation)
		}
		if item.Discount < 0 {
			return nil, fmt.Errorf("%w: item discount must not be negative", store.ErrValidation)
		}
		qty := item.Quantity
		if qty == 0 {
			qty = 1
		}
		lines = append(lines, store.SaleLine{
			ProductID:    item.ProductID,
			SerialItemID: item.SerialItemID,
			Quantity:     qty,
			UnitPrice:    item.UnitPrice,
			Discount:     item.Discount,
		})
	}

	warrantyMonths := req.WarrantyMonths
	if warrantyMonths == 0 {
		warrantyMonths = s.defaultWarrantyMonths
	}
	if warrantyMonths < 0 {
		return nil, fmt.Errorf("%w: warranty_months must not be negative", store.ErrValidation)
	}

	now := time.Now().UTC()
	exchangeRate := s.rates.Current(ctx, now.Format("2006-01-02"))

	draft := store.SaleDraft{
		Lines:          lines,
		CashierID:      actor.ID,
		CustomerID:     strings.TrimSpace(req.CustomerID),
		PaymentMethod:  req.PaymentMethod,
		KHQRReference:  strings.TrimSpace(req.KHQRReference),
		Notes:          strings.TrimSpace(req.Notes),
		PaidUSD:        req.PaidUSD,
		PaidKHR:        req.PaidKHR,
		DiscountUSD:    req.DiscountUSD,
		WarrantyMonths: warrantyMonths,
		ExchangeRate:   exchangeRate,
	}

	// Card and KHQR settle electronically for the exact total; the tender
	// fields only matter for cash (and the cash leg of a split).
	if req.PaymentMethod == domain.PaymentMethodCard || req.PaymentMethod == domain.PaymentMethodKHQR {
		if draft.PaidUSD == 0 && draft.PaidKHR == 0 {
			total, err := s.previewTotal(ctx, lines, req.DiscountUSD)
			if err != nil {
				return nil, err
			}
			draft.PaidUSD = total
		}
	}

	sale, result, err := s.repo.CreateSale(ctx, draft)
	if err != nil {
		return nil, err
	}

	s.logger.Info("sale completed",
		zap.String("sale_id", sale.ID),
		zap.String("invoice_number", sale.InvoiceNumber),
		zap.String("cashier_id", sale.CashierID),
		zap.String("payment_method", sale.PaymentMethod),
		zap.Float64("total_usd", sale.TotalUSD))

	return &domain.SaleResponse{Sale: *sale, Payment: *result}, nil
}

// previewTotal prices the cart without touching inventory so electronic
// payment methods can be charged for the exact amount due.
func (s *Service) previewTotal(ctx context.Context, lines []store.SaleLine, discount float64) (float64, error) {
	subtotal := 0.0
	for _, line := range lines {
		product, err := s.repo.GetProductByID(ctx, line.ProductID)
		if err != nil {
			return 0, err
		}
		unitPrice := product.SellingPrice
		if line.UnitPrice != nil {
			unitPrice = *line.UnitPrice
		}
		qty := line.Quantity
		if product.IsSerialized {
			qty = 1
		}
		subtotal += currency.Round2(unitPrice*float64(qty) - line.Discount)
	}
	total := currency.Round2(subtotal - discount)
	if total < 0 {
		return 0, fmt.Errorf("%w: discount exceeds subtotal", store.ErrValidation)
	}
	return total, nil
}

func (s *Service) VoidSale(ctx context.Context, saleID string, req domain.VoidSaleRequest) (*domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ID == "" {
		return nil, fmt.Errorf("%w: actor identity required", store.ErrValidation)
	}
	if saleID == "" {
		return nil, store.ErrNotFound
	}

	sale, err := s.repo.VoidSale(ctx, saleID, actor, strings.TrimSpace(req.Reason), time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.logger.Info("sale voided",
		zap.String("sale_id", sale.ID),
		zap.String("invoice_number", sale.InvoiceNumber),
		zap.String("voided_by", actor.ID))

	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if actor, ok := ActorFromContext(ctx); ok && actor.Role == domain.RoleCashier {
		redactCosts(sale)
	}
	return sale, nil
}

func (s *Service) ListSales(ctx context.Context, q domain.SalesQuery) (*domain.SalesPage, error) {
	actor, ok := ActorFromContext(ctx)
	cashier := ok && actor.Role == domain.RoleCashier
	if cashier {
		// Cashiers only see their own sales.
		q.CashierID = actor.ID
	}

	page, err := s.repo.ListSales(ctx, q)
	if err != nil {
		return nil, err
	}
	if cashier {
		for i := range page.Sales {
			redactCosts(&page.Sales[i])
		}
	}
	return page, nil
}

// redactCosts strips purchase costs from a sale before it reaches a cashier.
func redactCosts(sale *domain.Sale) {
	for i := range sale.Items {
		sale.Items[i].CostPrice = 0
	}
}

func (s *Service) RegisterSerialItem(ctx context.Context, req domain.SerialItemCreateRequest) (*domain.SerialItem, error) {
	req.IMEI = strings.TrimSpace(req.IMEI)
	req.SerialNumber = strings.TrimSpace(req.SerialNumber)

	if req.ProductID == "" {
		return nil, fmt.Errorf("%w: product_id required", store.ErrValidation)
	}
	if req.IMEI == "" && req.SerialNumber == "" {
		return nil, fmt.Errorf("%w: either imei or serial_number required", store.ErrValidation)
	}
	if req.IMEI != "" && !imeiPattern.MatchString(req.IMEI) {
		return nil, fmt.Errorf("%w: imei must be exactly 15 digits", store.ErrValidation)
	}
	if req.CostPrice != nil && *req.CostPrice < 0 {
		return nil, fmt.Errorf("%w: cost price must not be negative", store.ErrValidation)
	}

	return s.repo.CreateSerialItem(ctx, domain.SerialItem{
		ProductID:    req.ProductID,
		IMEI:         req.IMEI,
		SerialNumber: req.SerialNumber,
		CostPrice:    req.CostPrice,
		Notes:        strings.TrimSpace(req.Notes),
	})
}

func (s *Service) ListSerialItems(ctx context.Context, productID string, status string) ([]domain.SerialItem, error) {
	if status != "" {
		switch status {
		case domain.SerialStatusInStock, domain.SerialStatusSold, domain.SerialStatusReturned, domain.SerialStatusDefective:
		default:
			return nil, fmt.Errorf("%w: unknown serial status %q", store.ErrValidation, status)
		}
	}
	return s.repo.ListSerialItems(ctx, productID, status)
}

func (s *Service) TodayRate(ctx context.Context) (*domain.TodayRateResponse, error) {
	today := time.Now().UTC().Format("2006-01-02")
	row, err := s.repo.GetRateForDate(ctx, today)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &domain.TodayRateResponse{
				RateDate:  today,
				UsdToKhr:  s.rates.Current(ctx, today),
				IsDefault: true,
			}, nil
		}
		return nil, err
	}
	return &domain.TodayRateResponse{
		RateDate: row.RateDate,
		UsdToKhr: row.UsdToKhr,
		SetBy:    row.SetBy,
	}, nil
}

func (s *Service) SetTodayRate(ctx context.Context, req domain.SetExchangeRateRequest) (*domain.ExchangeRate, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || (actor.Role != domain.RoleAdmin && actor.Role != domain.RoleManager) {
		return nil, fmt.Errorf("%w: manager role required", store.ErrValidation)
	}
	if req.UsdToKhr < 1000 || req.UsdToKhr > 10000 {
		return nil, fmt.Errorf("%w: usd_to_khr out of range", store.ErrValidation)
	}

	today := time.Now().UTC().Format("2006-01-02")
	saved, err := s.repo.UpsertRateForDate(ctx, domain.ExchangeRate{
		RateDate: today,
		UsdToKhr: req.UsdToKhr,
		SetBy:    actor.ID,
	})
	if err != nil {
		return nil, err
	}

	if invalidator, ok := s.rates.(interface {
		Invalidate(ctx context.Context, rateDate string)
	}); ok {
		invalidator.Invalidate(ctx, today)
	}

	s.logger.Info("exchange rate updated",
		zap.String("rate_date", saved.RateDate),
		zap.Float64("usd_to_khr", saved.UsdToKhr),
		zap.String("set_by", actor.ID))

	return saved, nil
}

func (s *Service) RateHistory(ctx context.Context, days int) ([]domain.ExchangeRate, error) {
	if days < 1 {
		days = 30
	}
	if days > 365 {
		days = 365
	}
	return s.repo.ListRates(ctx, days)
}

func (s *Service) VerifyKHQR(ctx context.Context, req domain.KHQRVerifyRequest) (*domain.KHQRVerifyResponse, error) {
	if s.verifier == nil {
		return nil, khqr.ErrNotConfigured
	}
	if strings.TrimSpace(req.MD5) == "" {
		return nil, fmt.Errorf("%w: md5 required", store.ErrValidation)
	}

	tx, err := s.verifier.CheckByMD5(ctx, req.MD5)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return &domain.KHQRVerifyResponse{Paid: false}, nil
	}
	return &domain.KHQRVerifyResponse{
		Paid:      true,
		Amount:    tx.Amount,
		Currency:  tx.Currency,
		Reference: tx.ExternalRef,
	}, nil
}
