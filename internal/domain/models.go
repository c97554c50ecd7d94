package domain

import "time"

// Product is the catalog read subset the sale engine needs. Catalog editing
// (categories, brands, images) lives outside this service; the engine only
// reads pricing/stock fields and mutates Quantity for non-serialized products.
type Product struct {
	ID                string  `json:"id"`
	SKU               string  `json:"sku"`
	Name              string  `json:"name"`
	CostPrice         float64 `json:"cost_price,omitempty"`
	SellingPrice      float64 `json:"selling_price"`
	IsSerialized      bool    `json:"is_serialized"`
	Quantity          int     `json:"quantity"`
	LowStockThreshold int     `json:"low_stock_threshold"`
	IsActive          bool    `json:"is_active"`
}

// StockStatus reports the display state of a product's inventory.
func (p Product) StockStatus() string {
	if p.IsSerialized {
		return "serialized"
	}
	if p.Quantity <= 0 {
		return "out_of_stock"
	}
	if p.Quantity <= p.LowStockThreshold {
		return "low_stock"
	}
	return "in_stock"
}

// SerialItem is an individually tracked unit (phone, laptop). At least one of
// IMEI or SerialNumber must be set; both are unique across the fleet.
type SerialItem struct {
	ID           string     `json:"id"`
	ProductID    string     `json:"product_id"`
	IMEI         string     `json:"imei,omitempty"`
	SerialNumber string     `json:"serial_number,omitempty"`
	Status       string     `json:"status"`
	SaleID       string     `json:"sale_id,omitempty"`
	SoldAt       *time.Time `json:"sold_at,omitempty"`
	CostPrice    *float64   `json:"cost_price,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

type Warranty struct {
	ID             string    `json:"id"`
	SerialItemID   string    `json:"serial_item_id"`
	SaleID         string    `json:"sale_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	DurationMonths int       `json:"duration_months"`
	Terms          string    `json:"terms"`
	Status         string    `json:"status"`
}

// Valid reports whether the warranty is active and not past its end date.
func (w Warranty) Valid(at time.Time) bool {
	return w.Status == WarrantyStatusActive && !w.EndDate.Before(at)
}

type SaleItem struct {
	ID           string    `json:"id"`
	SaleID       string    `json:"sale_id"`
	ProductID    string    `json:"product_id"`
	ProductName  string    `json:"product_name,omitempty"`
	SerialItemID string    `json:"serial_item_id,omitempty"`
	Quantity     int       `json:"quantity"`
	UnitPrice    float64   `json:"unit_price"`
	CostPrice    float64   `json:"cost_price,omitempty"`
	Discount     float64   `json:"discount"`
	Total        float64   `json:"total"`
	Warranty     *Warranty `json:"warranty,omitempty"`
}

type Sale struct {
	ID            string     `json:"id"`
	InvoiceNumber string     `json:"invoice_number"`
	CashierID     string     `json:"cashier_id"`
	CustomerID    string     `json:"customer_id,omitempty"`
	SubtotalUSD   float64    `json:"subtotal_usd"`
	DiscountUSD   float64    `json:"discount_usd"`
	TotalUSD      float64    `json:"total_usd"`
	PaidUSD       float64    `json:"paid_usd"`
	PaidKHR       float64    `json:"paid_khr"`
	ChangeUSD     float64    `json:"change_usd"`
	ChangeKHR     float64    `json:"change_khr"`
	ExchangeRate  float64    `json:"exchange_rate"`
	PaymentMethod string     `json:"payment_method"`
	KHQRReference string     `json:"khqr_reference,omitempty"`
	Status        string     `json:"status"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	VoidedAt      *time.Time `json:"voided_at,omitempty"`
	Items         []SaleItem `json:"items,omitempty"`
}

// ExchangeRate is one USD-to-KHR rate row per calendar date (YYYY-MM-DD).
type ExchangeRate struct {
	ID       string  `json:"id"`
	RateDate string  `json:"rate_date"`
	UsdToKhr float64 `json:"usd_to_khr"`
	SetBy    string  `json:"set_by,omitempty"`
}

// PaymentResult is the outcome of settling a dual-currency payment against a
// USD total. USD fields are rounded to two decimals, KHR fields to whole riel.
type PaymentResult struct {
	TotalUSD      float64 `json:"total_usd"`
	PaidUSD       float64 `json:"paid_usd"`
	PaidKHR       float64 `json:"paid_khr"`
	PaidKHRInUSD  float64 `json:"paid_khr_in_usd"`
	TotalPaidUSD  float64 `json:"total_paid_usd"`
	ExchangeRate  float64 `json:"exchange_rate"`
	IsExact       bool    `json:"is_exact"`
	IsPaid        bool    `json:"is_paid"`
	RemainingUSD  float64 `json:"remaining_usd"`
	RemainingKHR  float64 `json:"remaining_khr"`
	ChangeUSD     float64 `json:"change_usd"`
	ChangeKHR     float64 `json:"change_khr"`
	ChangeMessage string  `json:"change_message,omitempty"`
}

// Actor identifies who is performing an operation. Identity is resolved by an
// upstream gateway; this service trusts the forwarded id/role headers.
type Actor struct {
	ID   string
	Name string
	Role string
}

type SaleLineRequest struct {
	ProductID    string   `json:"product_id"`
	Quantity     int      `json:"quantity,omitempty"`
	SerialItemID string   `json:"serial_item_id,omitempty"`
	UnitPrice    *float64 `json:"unit_price,omitempty"`
	Discount     float64  `json:"discount,omitempty"`
}

type CreateSaleRequest struct {
	Items          []SaleLineRequest `json:"items"`
	CustomerID     string            `json:"customer_id,omitempty"`
	PaymentMethod  string            `json:"payment_method"`
	PaidUSD        float64           `json:"paid_usd,omitempty"`
	PaidKHR        float64           `json:"paid_khr,omitempty"`
	DiscountUSD    float64           `json:"discount_usd,omitempty"`
	KHQRReference  string            `json:"khqr_reference,omitempty"`
	Notes          string            `json:"notes,omitempty"`
	WarrantyMonths int               `json:"warranty_months,omitempty"`
}

type SaleResponse struct {
	Sale    Sale          `json:"sale"`
	Payment PaymentResult `json:"payment"`
}

type VoidSaleRequest struct {
	Reason string `json:"reason,omitempty"`
}

type SalesQuery struct {
	Page          int
	Limit         int
	StartDate     string
	EndDate       string
	CashierID     string
	PaymentMethod string
	Status        string
}

type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}

type SalesPage struct {
	Sales      []Sale     `json:"sales"`
	Pagination Pagination `json:"pagination"`
}

type SerialItemCreateRequest struct {
	ProductID    string   `json:"product_id"`
	IMEI         string   `json:"imei,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
	CostPrice    *float64 `json:"cost_price,omitempty"`
	Notes        string   `json:"notes,omitempty"`
}

type SerialItemListResponse struct {
	SerialItems []SerialItem `json:"serial_items"`
}

type SetExchangeRateRequest struct {
	UsdToKhr float64 `json:"usd_to_khr"`
}

type TodayRateResponse struct {
	RateDate  string  `json:"rate_date"`
	UsdToKhr  float64 `json:"usd_to_khr"`
	IsDefault bool    `json:"is_default"`
	SetBy     string  `json:"set_by,omitempty"`
}

type RateHistoryResponse struct {
	Rates []ExchangeRate `json:"rates"`
}

type KHQRVerifyRequest struct {
	MD5 string `json:"md5"`
}

type KHQRVerifyResponse struct {
	Paid      bool    `json:"paid"`
	Amount    float64 `json:"amount,omitempty"`
	Currency  string  `json:"currency,omitempty"`
	Reference string  `json:"reference,omitempty"`
}

const (
	SaleStatusCompleted = "completed"
	SaleStatusVoided    = "voided"
	SaleStatusRefunded  = "refunded"
)

const (
	SerialStatusInStock   = "in_stock"
	SerialStatusSold      = "sold"
	SerialStatusReturned  = "returned"
	SerialStatusDefective = "defective"
)

const (
	WarrantyStatusActive  = "active"
	WarrantyStatusExpired = "expired"
	WarrantyStatusClaimed = "claimed"
	WarrantyStatusVoided  = "voided"
)

const (
	PaymentMethodCash  = "cash"
	PaymentMethodCard  = "card"
	PaymentMethodKHQR  = "khqr"
	PaymentMethodSplit = "split"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

const DefaultWarrantyTerms = "Standard manufacturer warranty. Does not cover physical damage or water damage."
