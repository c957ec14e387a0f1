package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"boutique/backend/internal/domain"
	"boutique/backend/internal/store"
)

func seedProduct(t *testing.T, s *Store, ref string, name string) domain.Product {
	t.Helper()
	p, err := s.CreateProduct(context.Background(), domain.Product{
		Reference:        ref,
		Name:             name,
		SalePrice:        decimal.NewFromInt(5000),
		ReorderThreshold: 2,
	})
	if err != nil {
		t.Fatalf("create product %s: %v", ref, err)
	}
	return *p
}

func invoiceLines(productIDs ...int64) []domain.SaleLine {
	lines := make([]domain.SaleLine, 0, len(productIDs))
	for _, id := range productIDs {
		lines = append(lines, domain.SaleLine{
			ProductID: id,
			Quantity:  1,
			UnitPrice: decimal.NewFromInt(1000),
			Total:     decimal.NewFromInt(1000),
			SoldOn:    "2026-01-02",
		})
	}
	return lines
}

func TestCreateInvoiceFailingLineLeavesNoRows(t *testing.T) {
	s := New()
	a := seedProduct(t, s, "REF-A", "Alpha")
	b := seedProduct(t, s, "REF-B", "Beta")
	c := seedProduct(t, s, "REF-C", "Gamma")

	s.lineHook = func(index int, _ domain.SaleLine) error {
		if index == 1 {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := s.CreateInvoice(context.Background(), domain.Invoice{
		ID:         "FAC-1-test",
		Total:      decimal.NewFromInt(3000),
		LineCount:  3,
		InvoicedOn: "2026-01-02",
	}, invoiceLines(a.ID, b.ID, c.ID))
	if !errors.Is(err, store.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}

	exists, _ := s.InvoiceExists(context.Background(), "FAC-1-test")
	if exists {
		t.Fatalf("expected invoice header to be absent after failed write")
	}
	sales, _ := s.ListSales(context.Background())
	if len(sales) != 0 {
		t.Fatalf("expected no sale lines after failed write, got %d", len(sales))
	}
}

func TestCreateInvoiceRejectsDuplicateID(t *testing.T) {
	s := New()
	a := seedProduct(t, s, "REF-A", "Alpha")
	invoice := domain.Invoice{ID: "FAC-dup", Total: decimal.NewFromInt(1000), LineCount: 1, InvoicedOn: "2026-01-02"}

	if _, err := s.CreateInvoice(context.Background(), invoice, invoiceLines(a.ID)); err != nil {
		t.Fatalf("first invoice: %v", err)
	}
	_, err := s.CreateInvoice(context.Background(), invoice, invoiceLines(a.ID))
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUpdateProductReferenceCollision(t *testing.T) {
	s := New()
	a := seedProduct(t, s, "REF-A", "Alpha")
	b := seedProduct(t, s, "REF-B", "Beta")

	b.Reference = "REF-A"
	if _, err := s.UpdateProduct(context.Background(), b); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on reference reuse, got %v", err)
	}

	b.Reference = "REF-B2"
	changed, err := s.UpdateProduct(context.Background(), b)
	if err != nil || changed != 1 {
		t.Fatalf("expected rename to succeed, changed=%d err=%v", changed, err)
	}
	if _, err := s.CreateProduct(context.Background(), domain.Product{Reference: "REF-B", Name: "Reuse"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected retired reference to stay reserved, got %v", err)
	}
	a.Reference = "REF-B"
	if _, err := s.UpdateProduct(context.Background(), a); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected rename onto retired reference to conflict, got %v", err)
	}

	b.Reference = "REF-B"
	if _, err := s.UpdateProduct(context.Background(), b); err != nil {
		t.Fatalf("expected product to take back its own reference: %v", err)
	}
}

func TestListInvoiceLinesOrderedByProductName(t *testing.T) {
	s := New()
	z := seedProduct(t, s, "REF-Z", "Zebra")
	a := seedProduct(t, s, "REF-A", "Alpha")

	_, err := s.CreateInvoice(context.Background(), domain.Invoice{
		ID: "FAC-order", Total: decimal.NewFromInt(2000), LineCount: 2, InvoicedOn: "2026-01-02",
	}, invoiceLines(z.ID, a.ID))
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	lines, err := s.ListInvoiceLines(context.Background(), "FAC-order")
	if err != nil {
		t.Fatalf("list lines: %v", err)
	}
	if len(lines) != 2 || lines[0].ProductName != "Alpha" || lines[1].ProductName != "Zebra" {
		t.Fatalf("unexpected line order: %+v", lines)
	}

	invoices, _ := s.ListInvoices(context.Background())
	if len(invoices) != 1 || invoices[0].ProductNames != "Zebra, Alpha" {
		t.Fatalf("unexpected invoice listing: %+v", invoices)
	}
}
