package sqlite

import (
	"time"

	"github.com/shopspring/decimal"

	"boutique/backend/internal/domain"
)

// Money columns are TEXT: SQLite would otherwise keep fractional NUMERIC
// values as REAL. Amounts are summed in Go with decimal.

type productRow struct {
	ID               int64           `gorm:"primaryKey;autoIncrement"`
	Reference        string          `gorm:"not null;uniqueIndex"`
	Name             string          `gorm:"not null;index"`
	Category         string          `gorm:"not null;default:''"`
	SalePrice        decimal.Decimal `gorm:"type:text;not null"`
	ReorderThreshold int             `gorm:"not null;default:0"`
	CreatedAt        time.Time
}

func (productRow) TableName() string { return "products" }

// productReferenceRow reserves a reference for the product that first
// carried it. Rows are never removed.
type productReferenceRow struct {
	Reference string     `gorm:"primaryKey"`
	ProductID int64      `gorm:"not null;index"`
	Product   productRow `gorm:"foreignKey:ProductID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	CreatedAt time.Time
}

func (productReferenceRow) TableName() string { return "product_references" }

type receiptRow struct {
	ID                int64           `gorm:"primaryKey;autoIncrement"`
	ProductID         int64           `gorm:"not null;index"`
	Product           productRow      `gorm:"foreignKey:ProductID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Supplier          string          `gorm:"not null;default:''"`
	Quantity          int             `gorm:"not null"`
	UnitPurchasePrice decimal.Decimal `gorm:"type:text;not null"`
	ReceivedOn        string          `gorm:"type:text;not null;index"`
	CreatedAt         time.Time
}

func (receiptRow) TableName() string { return "receipts" }

type invoiceRow struct {
	ID         string          `gorm:"primaryKey"`
	Total      decimal.Decimal `gorm:"type:text;not null"`
	LineCount  int             `gorm:"not null"`
	Comment    string          `gorm:"not null;default:''"`
	InvoicedOn string          `gorm:"type:text;not null;index"`
	CreatedAt  time.Time       `gorm:"index"`
}

func (invoiceRow) TableName() string { return "invoices" }

type saleLineRow struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	InvoiceID *string         `gorm:"index"`
	Invoice   *invoiceRow     `gorm:"foreignKey:InvoiceID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	ProductID int64           `gorm:"not null;index"`
	Product   productRow      `gorm:"foreignKey:ProductID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
	Quantity  int             `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"type:text;not null"`
	Total     decimal.Decimal `gorm:"type:text;not null"`
	Comment   string          `gorm:"not null;default:''"`
	SoldOn    string          `gorm:"type:text;not null;index"`
	CreatedAt time.Time       `gorm:"index"`
}

func (saleLineRow) TableName() string { return "sale_lines" }

type userRow struct {
	Username  string `gorm:"primaryKey"`
	Password  string `gorm:"not null"`
	Role      string `gorm:"not null"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
}

func (userRow) TableName() string { return "users" }

func toProductRow(p domain.Product) productRow {
	return productRow{
		ID:               p.ID,
		Reference:        p.Reference,
		Name:             p.Name,
		Category:         p.Category,
		SalePrice:        p.SalePrice,
		ReorderThreshold: p.ReorderThreshold,
		CreatedAt:        p.CreatedAt,
	}
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ID:               r.ID,
		Reference:        r.Reference,
		Name:             r.Name,
		Category:         r.Category,
		SalePrice:        r.SalePrice,
		ReorderThreshold: r.ReorderThreshold,
		CreatedAt:        r.CreatedAt,
	}
}

func toSaleLineRow(line domain.SaleLine) saleLineRow {
	return saleLineRow{
		InvoiceID: line.InvoiceID,
		ProductID: line.ProductID,
		Quantity:  line.Quantity,
		UnitPrice: line.UnitPrice,
		Total:     line.Total,
		Comment:   line.Comment,
		SoldOn:    line.SoldOn,
		CreatedAt: line.CreatedAt,
	}
}
