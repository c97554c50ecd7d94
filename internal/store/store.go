package store

import (
	"context"
	"errors"
	"time"

	"angkorpos/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrSerialUnavailable   = errors.New("serial item unavailable")
	ErrPaymentInsufficient = errors.New("payment insufficient")
	ErrAlreadyVoided       = errors.New("sale already voided")
	ErrConflict            = errors.New("conflicting concurrent update")
)

// SaleLine is one resolved line of a sale draft. For serialized products
// Quantity is always 1 and SerialItemID names the exact unit to allocate.
type SaleLine struct {
	ProductID    string
	SerialItemID string
	Quantity     int
	UnitPrice    *float64
	Discount     float64
}

// SaleDraft carries everything a repository needs to execute a checkout
// atomically: allocate stock, settle payment, number the invoice, persist the
// sale with item snapshots, and issue warranties for serialized units.
type SaleDraft struct {
	Lines          []SaleLine
	CashierID      string
	CustomerID     string
	PaymentMethod  string
	KHQRReference  string
	Notes          string
	PaidUSD        float64
	PaidKHR        float64
	DiscountUSD    float64
	WarrantyMonths int
	ExchangeRate   float64
}

type Repository interface {
	CreateSale(ctx context.Context, draft SaleDraft) (*domain.Sale, *domain.PaymentResult, error)
	VoidSale(ctx context.Context, saleID string, actor domain.Actor, reason string, at time.Time) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, saleID string) (*domain.Sale, error)
	ListSales(ctx context.Context, q domain.SalesQuery) (*domain.SalesPage, error)
	GetProductByID(ctx context.Context, productID string) (*domain.Product, error)
	CreateSerialItem(ctx context.Context, item domain.SerialItem) (*domain.SerialItem, error)
	GetSerialItemByID(ctx context.Context, serialItemID string) (*domain.SerialItem, error)
	ListSerialItems(ctx context.Context, productID string, status string) ([]domain.SerialItem, error)
	GetRateForDate(ctx context.Context, rateDate string) (*domain.ExchangeRate, error)
	UpsertRateForDate(ctx context.Context, rate domain.ExchangeRate) (*domain.ExchangeRate, error)
	ListRates(ctx context.Context, days int) ([]domain.ExchangeRate, error)
}
