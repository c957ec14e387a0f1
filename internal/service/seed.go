package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"boutique/backend/internal/domain"
)

var sampleProducts = []domain.ProductRequest{
	{Reference: "REF001", Name: "T-shirt Blanc", Category: "Vêtements", SalePrice: decimal.NewFromInt(15000), ReorderThreshold: 5},
	{Reference: "REF002", Name: "Jean Bleu", Category: "Vêtements", SalePrice: decimal.NewFromInt(25000), ReorderThreshold: 3},
	{Reference: "REF003", Name: "Sneakers Blanches", Category: "Chaussures", SalePrice: decimal.NewFromInt(45000), ReorderThreshold: 2},
	{Reference: "REF004", Name: "Sac à Main Noir", Category: "Accessoires", SalePrice: decimal.NewFromInt(20000), ReorderThreshold: 4},
	{Reference: "REF005", Name: "Montre Sport", Category: "Accessoires", SalePrice: decimal.NewFromInt(65000), ReorderThreshold: 2},
}

var sampleReceipts = []struct {
	reference string
	supplier  string
	quantity  int
	price     int64
	date      string
}{
	{"REF001", "Fournisseur A", 20, 8000, "2024-01-15"},
	{"REF002", "Fournisseur B", 15, 12000, "2024-01-15"},
	{"REF003", "Fournisseur C", 10, 22000, "2024-01-16"},
}

// SeedSampleData fills an empty catalog with demo products and receipts.
// It reports whether anything was written.
func (s *Service) SeedSampleData(ctx context.Context) (bool, error) {
	count, err := s.repo.CountProducts(ctx)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	idByRef := make(map[string]int64, len(sampleProducts))
	for _, req := range sampleProducts {
		product, err := s.AddProduct(ctx, req)
		if err != nil {
			return false, fmt.Errorf("seed product %s: %w", req.Reference, err)
		}
		idByRef[product.Reference] = product.ID
	}

	for _, r := range sampleReceipts {
		if _, err := s.RecordReceipt(ctx, domain.ReceiptRequest{
			ProductID:         idByRef[r.reference],
			Supplier:          r.supplier,
			Quantity:          r.quantity,
			UnitPurchasePrice: decimal.NewFromInt(r.price),
			Date:              r.date,
		}); err != nil {
			return false, fmt.Errorf("seed receipt %s: %w", r.reference, err)
		}
	}

	s.log.WithField("products", len(sampleProducts)).Info("sample data seeded")
	return true, nil
}
