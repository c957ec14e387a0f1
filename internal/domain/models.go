package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StockStatusOK       = "OK"
	StockStatusCritical = "CRITIQUE"

	// DateLayout is the calendar-date form used for receipt, sale and invoice
	// dates everywhere in the system.
	DateLayout = "2006-01-02"

	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type Product struct {
	ID               int64           `json:"id"`
	Reference        string          `json:"reference"`
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	SalePrice        decimal.Decimal `json:"sale_price"`
	ReorderThreshold int             `json:"reorder_threshold"`
	CreatedAt        time.Time       `json:"created_at"`
}

type ProductRequest struct {
	Reference        string          `json:"reference" validate:"required,max=64"`
	Name             string          `json:"name" validate:"required,max=200"`
	Category         string          `json:"category" validate:"max=100"`
	SalePrice        decimal.Decimal `json:"sale_price" validate:"gte=0"`
	ReorderThreshold int             `json:"reorder_threshold" validate:"gte=0"`
}

type ProductUpdateResponse struct {
	Changed int64   `json:"changed"`
	Product Product `json:"product"`
}

// Receipt is one entry of the replenishment ledger.
type Receipt struct {
	ID                int64           `json:"id"`
	ProductID         int64           `json:"product_id"`
	ProductReference  string          `json:"product_reference"`
	ProductName       string          `json:"product_name"`
	Supplier          string          `json:"supplier"`
	Quantity          int             `json:"quantity"`
	UnitPurchasePrice decimal.Decimal `json:"unit_purchase_price"`
	ReceivedOn        string          `json:"received_on"`
	CreatedAt         time.Time       `json:"created_at"`
}

type ReceiptRequest struct {
	ProductID         int64           `json:"product_id"`
	Supplier          string          `json:"supplier" validate:"max=200"`
	Quantity          int             `json:"quantity" validate:"gt=0,lte=1000000"`
	UnitPurchasePrice decimal.Decimal `json:"unit_purchase_price" validate:"gte=0"`
	Date              string          `json:"date" validate:"required,datetime=2006-01-02"`
}

// SaleLine is one entry of the sales ledger. InvoiceID is nil for a
// standalone sale.
type SaleLine struct {
	ID               int64           `json:"id"`
	InvoiceID        *string         `json:"invoice_id"`
	ProductID        int64           `json:"product_id"`
	ProductReference string          `json:"product_reference"`
	ProductName      string          `json:"product_name"`
	Quantity         int             `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Total            decimal.Decimal `json:"total"`
	Comment          string          `json:"comment"`
	SoldOn           string          `json:"sold_on"`
	CreatedAt        time.Time       `json:"created_at"`
}

type StandaloneSaleRequest struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity" validate:"gt=0,lte=1000000"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Comment   string          `json:"comment" validate:"max=500"`
	Date      string          `json:"date" validate:"required,datetime=2006-01-02"`
}

type BatchSaleItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity" validate:"gt=0,lte=1000000"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

type BatchSaleRequest struct {
	Items   []BatchSaleItem `json:"items" validate:"min=1,dive"`
	Comment string          `json:"comment" validate:"max=500"`
	Date    string          `json:"date" validate:"required,datetime=2006-01-02"`
}

type BatchSaleResult struct {
	InvoiceID string          `json:"invoice_id"`
	Total     decimal.Decimal `json:"total"`
	LineCount int             `json:"line_count"`
}

type Invoice struct {
	ID           string          `json:"id"`
	Total        decimal.Decimal `json:"total"`
	LineCount    int             `json:"line_count"`
	Comment      string          `json:"comment"`
	InvoicedOn   string          `json:"invoiced_on"`
	CreatedAt    time.Time       `json:"created_at"`
	ProductNames string          `json:"product_names,omitempty"`
}

type StockLevel struct {
	ProductID        int64           `json:"product_id"`
	Reference        string          `json:"reference"`
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	SalePrice        decimal.Decimal `json:"sale_price"`
	ReorderThreshold int             `json:"reorder_threshold"`
	TotalReceived    int             `json:"total_received"`
	TotalSold        int             `json:"total_sold"`
	CurrentStock     int             `json:"current_stock"`
	Status           string          `json:"status"`
}

type CartCheckRequest struct {
	Items []BatchSaleItem `json:"items" validate:"min=1,dive"`
}

type CartAvailability struct {
	ProductID  int64 `json:"product_id"`
	Requested  int   `json:"requested"`
	Available  int   `json:"available"`
	Sufficient bool  `json:"sufficient"`
}

type CartCheckResponse struct {
	Items        []CartAvailability `json:"items"`
	AllAvailable bool               `json:"all_available"`
}

type ProductSales struct {
	ProductID    int64           `json:"product_id"`
	Reference    string          `json:"reference"`
	Name         string          `json:"name"`
	QuantitySold int             `json:"quantity_sold"`
	Revenue      decimal.Decimal `json:"revenue"`
}

type SalesStats struct {
	StartDate        string          `json:"start_date"`
	EndDate          string          `json:"end_date"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	TransactionCount int             `json:"transaction_count"`
	PerProduct       []ProductSales  `json:"per_product"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
