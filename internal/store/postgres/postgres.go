// Package postgres implements the Repository on PostgreSQL. Checkout and void
// run as single serializable transactions with row locks on the products and
// serial units they touch, so two terminals can never sell the same IMEI or
// oversell a bulk product.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"angkorpos/backend/internal/currency"
	"angkorpos/backend/internal/domain"
	"angkorpos/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSale(ctx context.Context, draft store.SaleDraft) (*domain.Sale, *domain.PaymentResult, error) {
	sale, result, err := s.createSale(ctx, draft)
	if err != nil && isSerializationFailure(err) {
		// The competing transaction has committed, so a second attempt reads
		// its writes: a lost race over a serial unit now reports the unit as
		// sold, and a lost invoice-number race picks the next free number.
		return s.createSale(ctx, draft)
	}
	return sale, result, err
}

func (s *Store) createSale(ctx context.Context, draft store.SaleDraft) (*domain.Sale, *domain.PaymentResult, error) {
	if len(draft.Lines) == 0 {
		return nil, nil, fmt.Errorf("%w: sale has no items", store.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	saleID := uuid.NewString()
	subtotal := 0.0
	items := make([]domain.SaleItem, 0, len(draft.Lines))
	seenSerials := make(map[string]bool, len(draft.Lines))

	for _, line := range draft.Lines {
		var product domain.Product
		err := tx.QueryRowContext(ctx, `
			SELECT id, sku, name, cost_price, selling_price, is_serialized, quantity, is_active
			FROM products
			WHERE id = $1
			FOR UPDATE
		`, line.ProductID).Scan(&product.ID, &product.SKU, &product.Name, &product.CostPrice,
			&product.SellingPrice, &product.IsSerialized, &product.Quantity, &product.IsActive)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
			}
			return nil, nil, mapTxError(err)
		}
		if !product.IsActive {
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
			if seenSerials[line.SerialItemID] {
				return nil, nil, fmt.Errorf("%w: serial item %s appears twice", store.ErrValidation, line.SerialItemID)
			}
			seenSerials[line.SerialItemID] = true

			var status string
			var unitCost sql.NullFloat64
			err := tx.QueryRowContext(ctx, `
				SELECT status, cost_price
				FROM serial_items
				WHERE id = $1 AND product_id = $2
				FOR UPDATE
			`, line.SerialItemID, product.ID).Scan(&status, &unitCost)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, nil, fmt.Errorf("%w: serial item %s", store.ErrNotFound, line.SerialItemID)
				}
				return nil, nil, mapTxError(err)
			}
			if status != domain.SerialStatusInStock {
				return nil, nil, fmt.Errorf("%w: serial item %s is %s", store.ErrSerialUnavailable, line.SerialItemID, status)
			}
			if unitCost.Valid {
				costPrice = unitCost.Float64
			}
			qty = 1
			item.SerialItemID = line.SerialItemID
		} else {
			if qty < 1 {
				return nil, nil, fmt.Errorf("%w: quantity must be at least 1", store.ErrValidation)
			}
			if product.Quantity < qty {
				return nil, nil, fmt.Errorf("%w: %s has %d available, requested %d", store.ErrInsufficientStock, product.Name, product.Quantity, qty)
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE products
				SET quantity = quantity - $1, updated_at = now()
				WHERE id = $2
			`, qty, product.ID)
			if err != nil {
				return nil, nil, mapTxError(err)
			}
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

	// Daily sequence is counted inside the serializable transaction; the
	// unique index on invoice_number turns a lost race into a retryable
	// conflict rather than a duplicate.
	var seq int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sales
		WHERE created_at >= $1 AND created_at < $2
	`, startOfDayUTC(now), startOfDayUTC(now).AddDate(0, 0, 1)).Scan(&seq)
	if err != nil {
		return nil, nil, mapTxError(err)
	}
	invoiceNumber := domain.FormatInvoiceNumber(now, seq+1)

	sale := &domain.Sale{
		ID:            saleID,
		InvoiceNumber: invoiceNumber,
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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, invoice_number, cashier_id, customer_id, subtotal_usd, discount_usd,
			total_usd, paid_usd, paid_khr, change_usd, change_khr, exchange_rate,
			payment_method, khqr_reference, status, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, sale.ID, sale.InvoiceNumber, sale.CashierID, nullIfEmpty(sale.CustomerID),
		sale.SubtotalUSD, sale.DiscountUSD, sale.TotalUSD, sale.PaidUSD, sale.PaidKHR,
		sale.ChangeUSD, sale.ChangeKHR, sale.ExchangeRate, sale.PaymentMethod,
		nullIfEmpty(sale.KHQRReference), sale.Status, nullIfEmpty(sale.Notes), sale.CreatedAt)
	if err != nil {
		return nil, nil, mapTxError(err)
	}

	for i := range items {
		item := &items[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				id, sale_id, product_id, product_name, serial_item_id,
				quantity, unit_price, cost_price, discount, total
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, item.ID, item.SaleID, item.ProductID, item.ProductName, nullIfEmpty(item.SerialItemID),
			item.Quantity, item.UnitPrice, item.CostPrice, item.Discount, item.Total)
		if err != nil {
			return nil, nil, mapTxError(err)
		}

		if item.SerialItemID == "" {
			continue
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE serial_items
			SET status = $2, sale_id = $3, sold_at = $4, updated_at = now()
			WHERE id = $1
		`, item.SerialItemID, domain.SerialStatusSold, saleID, now)
		if err != nil {
			return nil, nil, mapTxError(err)
		}

		warranty := domain.Warranty{
			ID:             uuid.NewString(),
			SerialItemID:   item.SerialItemID,
			SaleID:         saleID,
			StartDate:      now,
			EndDate:        now.AddDate(0, draft.WarrantyMonths, 0),
			DurationMonths: draft.WarrantyMonths,
			Terms:          domain.DefaultWarrantyTerms,
			Status:         domain.WarrantyStatusActive,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO warranties (
				id, serial_item_id, sale_id, start_date, end_date,
				duration_months, terms, status
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, warranty.ID, warranty.SerialItemID, warranty.SaleID, warranty.StartDate,
			warranty.EndDate, warranty.DurationMonths, warranty.Terms, warranty.Status)
		if err != nil {
			return nil, nil, mapTxError(err)
		}
		w := warranty
		item.Warranty = &w
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, mapTxError(err)
	}

	sale.Items = items
	return sale, &result, nil
}

func (s *Store) VoidSale(ctx context.Context, saleID string, actor domain.Actor, reason string, at time.Time) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status, notes string
	var notesCol sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT status, notes
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID).Scan(&status, &notesCol)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapTxError(err)
	}
	notes = notesCol.String
	if status == domain.SaleStatusVoided {
		return nil, store.ErrAlreadyVoided
	}
	if status != domain.SaleStatusCompleted {
		return nil, fmt.Errorf("%w: cannot void a %s sale", store.ErrValidation, status)
	}

	itemRows, err := tx.QueryContext(ctx, `
		SELECT product_id, serial_item_id, quantity
		FROM sale_items
		WHERE sale_id = $1
	`, saleID)
	if err != nil {
		return nil, mapTxError(err)
	}
	type saleLine struct {
		productID    string
		serialItemID string
		quantity     int
	}
	lines := make([]saleLine, 0, 8)
	for itemRows.Next() {
		var line saleLine
		var serialItemID sql.NullString
		if err := itemRows.Scan(&line.productID, &serialItemID, &line.quantity); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		line.serialItemID = serialItemID.String
		lines = append(lines, line)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	for _, line := range lines {
		if line.serialItemID != "" {
			_, err := tx.ExecContext(ctx, `
				UPDATE serial_items
				SET status = $2, sale_id = NULL, sold_at = NULL, updated_at = now()
				WHERE id = $1
			`, line.serialItemID, domain.SerialStatusInStock)
			if err != nil {
				return nil, mapTxError(err)
			}
			continue
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE products
			SET quantity = quantity + $1, updated_at = now()
			WHERE id = $2
		`, line.quantity, line.productID)
		if err != nil {
			return nil, mapTxError(err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE warranties
		SET status = $2
		WHERE sale_id = $1 AND status = $3
	`, saleID, domain.WarrantyStatusVoided, domain.WarrantyStatusActive)
	if err != nil {
		return nil, mapTxError(err)
	}

	who := actor.Name
	if who == "" {
		who = actor.ID
	}
	note := fmt.Sprintf("[VOIDED by %s on %s]", who, at.UTC().Format(time.RFC3339))
	if reason != "" {
		note += " Reason: " + reason
	}
	if notes != "" {
		note = notes + "\n" + note
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, voided_at = $3, notes = $4
		WHERE id = $1
	`, saleID, domain.SaleStatusVoided, at, note)
	if err != nil {
		return nil, mapTxError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapTxError(err)
	}

	return s.GetSaleByID(ctx, saleID)
}

func (s *Store) GetSaleByID(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := s.scanSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	items, err := s.loadSaleItems(ctx, []string{saleID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[saleID]
	return sale, nil
}

func (s *Store) scanSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	var sale domain.Sale
	var customerID, khqrRef, notes sql.NullString
	var voidedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_number, cashier_id, customer_id, subtotal_usd, discount_usd,
			total_usd, paid_usd, paid_khr, change_usd, change_khr, exchange_rate,
			payment_method, khqr_reference, status, notes, created_at, voided_at
		FROM sales
		WHERE id = $1
	`, saleID).Scan(&sale.ID, &sale.InvoiceNumber, &sale.CashierID, &customerID,
		&sale.SubtotalUSD, &sale.DiscountUSD, &sale.TotalUSD, &sale.PaidUSD, &sale.PaidKHR,
		&sale.ChangeUSD, &sale.ChangeKHR, &sale.ExchangeRate, &sale.PaymentMethod,
		&khqrRef, &sale.Status, &notes, &sale.CreatedAt, &voidedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CustomerID = customerID.String
	sale.KHQRReference = khqrRef.String
	sale.Notes = notes.String
	sale.CreatedAt = sale.CreatedAt.UTC()
	if voidedAt.Valid {
		t := voidedAt.Time.UTC()
		sale.VoidedAt = &t
	}
	return &sale, nil
}

func (s *Store) loadSaleItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleItem, error) {
	result := make(map[string][]domain.SaleItem, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT si.id, si.sale_id, si.product_id, si.product_name, si.serial_item_id,
			si.quantity, si.unit_price, si.cost_price, si.discount, si.total,
			w.id, w.start_date, w.end_date, w.duration_months, w.terms, w.status
		FROM sale_items si
		LEFT JOIN warranties w ON w.sale_id = si.sale_id AND w.serial_item_id = si.serial_item_id
		WHERE si.sale_id = ANY($1)
		ORDER BY si.product_name
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.SaleItem
		var serialItemID sql.NullString
		var wID, wTerms, wStatus sql.NullString
		var wStart, wEnd sql.NullTime
		var wMonths sql.NullInt64
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName,
			&serialItemID, &item.Quantity, &item.UnitPrice, &item.CostPrice,
			&item.Discount, &item.Total,
			&wID, &wStart, &wEnd, &wMonths, &wTerms, &wStatus); err != nil {
			return nil, err
		}
		item.SerialItemID = serialItemID.String
		if wID.Valid {
			item.Warranty = &domain.Warranty{
				ID:             wID.String,
				SerialItemID:   item.SerialItemID,
				SaleID:         item.SaleID,
				StartDate:      wStart.Time.UTC(),
				EndDate:        wEnd.Time.UTC(),
				DurationMonths: int(wMonths.Int64),
				Terms:          wTerms.String,
				Status:         wStatus.String,
			}
		}
		result[item.SaleID] = append(result[item.SaleID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListSales(ctx context.Context, q domain.SalesQuery) (*domain.SalesPage, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = 20
	}

	where := make([]string, 0, 5)
	args := make([]any, 0, 7)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if q.CashierID != "" {
		add("cashier_id = $%d", q.CashierID)
	}
	if q.PaymentMethod != "" {
		add("payment_method = $%d", q.PaymentMethod)
	}
	if q.Status != "" {
		add("status = $%d", q.Status)
	}
	if q.StartDate != "" {
		add("created_at >= $%d::date", q.StartDate)
	}
	if q.EndDate != "" {
		add("created_at < $%d::date + interval '1 day'", q.EndDate)
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sales "+whereSQL, args...).Scan(&total); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, invoice_number, cashier_id, customer_id, subtotal_usd, discount_usd,
			total_usd, paid_usd, paid_khr, change_usd, change_khr, exchange_rate,
			payment_method, khqr_reference, status, notes, created_at, voided_at
		FROM sales
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereSQL, len(args)+1, len(args)+2)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	saleIDs := make([]string, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var customerID, khqrRef, notes sql.NullString
		var voidedAt sql.NullTime
		if err := rows.Scan(&sale.ID, &sale.InvoiceNumber, &sale.CashierID, &customerID,
			&sale.SubtotalUSD, &sale.DiscountUSD, &sale.TotalUSD, &sale.PaidUSD, &sale.PaidKHR,
			&sale.ChangeUSD, &sale.ChangeKHR, &sale.ExchangeRate, &sale.PaymentMethod,
			&khqrRef, &sale.Status, &notes, &sale.CreatedAt, &voidedAt); err != nil {
			return nil, err
		}
		sale.CustomerID = customerID.String
		sale.KHQRReference = khqrRef.String
		sale.Notes = notes.String
		sale.CreatedAt = sale.CreatedAt.UTC()
		if voidedAt.Valid {
			t := voidedAt.Time.UTC()
			sale.VoidedAt = &t
		}
		sales = append(sales, sale)
		saleIDs = append(saleIDs, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	itemsBySale, err := s.loadSaleItems(ctx, saleIDs)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = itemsBySale[sales[i].ID]
	}

	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}

	return &domain.SalesPage{
		Sales: sales,
		Pagination: domain.Pagination{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: totalPages,
		},
	}, nil
}

func (s *Store) GetProductByID(ctx context.Context, productID string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, cost_price, selling_price, is_serialized, quantity,
			low_stock_threshold, is_active
		FROM products
		WHERE id = $1
	`, productID).Scan(&product.ID, &product.SKU, &product.Name, &product.CostPrice,
		&product.SellingPrice, &product.IsSerialized, &product.Quantity,
		&product.LowStockThreshold, &product.IsActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) CreateSerialItem(ctx context.Context, item domain.SerialItem) (*domain.SerialItem, error) {
	var isSerialized bool
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT name, is_serialized FROM products WHERE id = $1
	`, item.ProductID).Scan(&name, &isSerialized)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		return nil, err
	}
	if !isSerialized {
		return nil, fmt.Errorf("%w: product %s is not serialized", store.ErrValidation, name)
	}

	item.ID = uuid.NewString()
	item.Status = domain.SerialStatusInStock
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO serial_items (id, product_id, imei, serial_number, status, cost_price, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, item.ID, item.ProductID, nullIfEmpty(item.IMEI), nullIfEmpty(item.SerialNumber),
		item.Status, item.CostPrice, nullIfEmpty(item.Notes))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: IMEI or serial number already registered", store.ErrConflict)
		}
		return nil, err
	}

	saved := item
	return &saved, nil
}

func (s *Store) GetSerialItemByID(ctx context.Context, serialItemID string) (*domain.SerialItem, error) {
	var item domain.SerialItem
	var imei, serialNumber, saleID, notes sql.NullString
	var soldAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, imei, serial_number, status, sale_id, sold_at, cost_price, notes
		FROM serial_items
		WHERE id = $1
	`, serialItemID).Scan(&item.ID, &item.ProductID, &imei, &serialNumber, &item.Status,
		&saleID, &soldAt, &item.CostPrice, &notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	item.IMEI = imei.String
	item.SerialNumber = serialNumber.String
	item.SaleID = saleID.String
	item.Notes = notes.String
	if soldAt.Valid {
		t := soldAt.Time.UTC()
		item.SoldAt = &t
	}
	return &item, nil
}

func (s *Store) ListSerialItems(ctx context.Context, productID string, status string) ([]domain.SerialItem, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if productID != "" {
		args = append(args, productID)
		where = append(where, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if status != "" {
		args = append(args, status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, imei, serial_number, status, sale_id, sold_at, cost_price, notes
		FROM serial_items
		`+whereSQL+`
		ORDER BY created_at DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SerialItem, 0, 64)
	for rows.Next() {
		var item domain.SerialItem
		var imei, serialNumber, saleID, notes sql.NullString
		var soldAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.ProductID, &imei, &serialNumber, &item.Status,
			&saleID, &soldAt, &item.CostPrice, &notes); err != nil {
			return nil, err
		}
		item.IMEI = imei.String
		item.SerialNumber = serialNumber.String
		item.SaleID = saleID.String
		item.Notes = notes.String
		if soldAt.Valid {
			t := soldAt.Time.UTC()
			item.SoldAt = &t
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetRateForDate(ctx context.Context, rateDate string) (*domain.ExchangeRate, error) {
	var rate domain.ExchangeRate
	var setBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, rate_date::text, usd_to_khr, set_by
		FROM exchange_rates
		WHERE rate_date = $1
	`, rateDate).Scan(&rate.ID, &rate.RateDate, &rate.UsdToKhr, &setBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	rate.SetBy = setBy.String
	return &rate, nil
}

func (s *Store) UpsertRateForDate(ctx context.Context, rate domain.ExchangeRate) (*domain.ExchangeRate, error) {
	rate.ID = uuid.NewString()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO exchange_rates (id, rate_date, usd_to_khr, set_by, created_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (rate_date)
		DO UPDATE SET usd_to_khr = EXCLUDED.usd_to_khr, set_by = EXCLUDED.set_by, updated_at = now()
		RETURNING id
	`, rate.ID, rate.RateDate, rate.UsdToKhr, nullIfEmpty(rate.SetBy)).Scan(&rate.ID)
	if err != nil {
		return nil, err
	}
	saved := rate
	return &saved, nil
}

func (s *Store) ListRates(ctx context.Context, days int) ([]domain.ExchangeRate, error) {
	if days < 1 {
		days = 30
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rate_date::text, usd_to_khr, set_by
		FROM exchange_rates
		WHERE rate_date >= current_date - $1::int
		ORDER BY rate_date DESC
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rates := make([]domain.ExchangeRate, 0, days)
	for rows.Next() {
		var rate domain.ExchangeRate
		var setBy sql.NullString
		if err := rows.Scan(&rate.ID, &rate.RateDate, &rate.UsdToKhr, &setBy); err != nil {
			return nil, err
		}
		rate.SetBy = setBy.String
		rates = append(rates, rate)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rates, nil
}

// mapTxError converts serialization failures and unique violations into
// ErrConflict so callers can map them to a retryable response. The driver
// error stays in the chain so the retry logic can tell the two apart.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "40001" || pgErr.Code == "23505" {
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		}
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func startOfDayUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
