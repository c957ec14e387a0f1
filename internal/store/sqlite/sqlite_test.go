package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"boutique/backend/internal/domain"
	"boutique/backend/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustProduct(t *testing.T, s *Store, ref string, name string, price int64, threshold int) domain.Product {
	t.Helper()
	p, err := s.CreateProduct(context.Background(), domain.Product{
		Reference:        ref,
		Name:             name,
		SalePrice:        decimal.NewFromInt(price),
		ReorderThreshold: threshold,
	})
	if err != nil {
		t.Fatalf("create product %s: %v", ref, err)
	}
	return *p
}

func line(productID int64, qty int64, price int64) domain.SaleLine {
	unit := decimal.NewFromInt(price)
	return domain.SaleLine{
		ProductID: productID,
		Quantity:  int(qty),
		UnitPrice: unit,
		Total:     unit.Mul(decimal.NewFromInt(qty)),
		SoldOn:    "2026-02-10",
	}
}

func TestCreateProductDuplicateReference(t *testing.T) {
	s := newTestStore(t)
	first := mustProduct(t, s, "REF010", "Casquette", 5000, 2)

	_, err := s.CreateProduct(context.Background(), domain.Product{Reference: "REF010", Name: "Autre", SalePrice: decimal.NewFromInt(1)})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	got, err := s.GetProduct(context.Background(), first.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Name != "Casquette" || !got.SalePrice.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("expected first product unchanged, got %+v", got)
	}
}

func TestUpdateProductUnknownID(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateProduct(context.Background(), domain.Product{ID: 999, Reference: "X", Name: "X"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateInvoiceRollsBackOnNthLineFailure(t *testing.T) {
	s := newTestStore(t)
	a := mustProduct(t, s, "REF-A", "Alpha", 1000, 1)
	b := mustProduct(t, s, "REF-B", "Beta", 2000, 1)
	c := mustProduct(t, s, "REF-C", "Gamma", 3000, 1)

	inserted := 0
	err := s.db.Callback().Create().Before("gorm:create").Register("test:fail_second_line", func(tx *gorm.DB) {
		if tx.Statement.Table != "sale_lines" {
			return
		}
		inserted++
		if inserted == 2 {
			_ = tx.AddError(errors.New("injected line failure"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	_, err = s.CreateInvoice(context.Background(), domain.Invoice{
		ID:         "FAC-rollback",
		Total:      decimal.NewFromInt(6000),
		LineCount:  3,
		InvoicedOn: "2026-02-10",
	}, []domain.SaleLine{line(a.ID, 1, 1000), line(b.ID, 1, 2000), line(c.ID, 1, 3000)})
	if !errors.Is(err, store.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}

	exists, err := s.InvoiceExists(context.Background(), "FAC-rollback")
	if err != nil {
		t.Fatalf("invoice exists: %v", err)
	}
	if exists {
		t.Fatalf("expected invoice header to be rolled back")
	}
	sales, err := s.ListSales(context.Background())
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("expected no sale lines after rollback, got %d", len(sales))
	}
}

func TestCreateInvoiceUnknownProduct(t *testing.T) {
	s := newTestStore(t)
	a := mustProduct(t, s, "REF-A", "Alpha", 1000, 1)

	_, err := s.CreateInvoice(context.Background(), domain.Invoice{
		ID: "FAC-missing", Total: decimal.NewFromInt(2000), LineCount: 2, InvoicedOn: "2026-02-10",
	}, []domain.SaleLine{line(a.ID, 1, 1000), line(a.ID+100, 1, 1000)})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if exists, _ := s.InvoiceExists(context.Background(), "FAC-missing"); exists {
		t.Fatalf("expected no invoice row")
	}
}

func TestStockAndStatsAvoidJoinFanOut(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustProduct(t, s, "REF010", "Casquette", 5000, 2)

	for _, qty := range []int{10, 10} {
		if _, err := s.CreateReceipt(ctx, domain.Receipt{
			ProductID:         p.ID,
			Supplier:          "Fournisseur A",
			Quantity:          qty,
			UnitPurchasePrice: decimal.NewFromInt(2000),
			ReceivedOn:        "2026-02-09",
		}); err != nil {
			t.Fatalf("receipt: %v", err)
		}
	}
	if _, err := s.CreateInvoice(ctx, domain.Invoice{
		ID: "FAC-stock", Total: decimal.NewFromInt(15000), LineCount: 3, InvoicedOn: "2026-02-10",
	}, []domain.SaleLine{line(p.ID, 3, 5000)}); err != nil {
		t.Fatalf("invoice: %v", err)
	}
	if _, err := s.CreateSale(ctx, line(p.ID, 1, 4500)); err != nil {
		t.Fatalf("sale: %v", err)
	}

	levels, err := s.GetStockLevels(ctx)
	if err != nil {
		t.Fatalf("stock: %v", err)
	}
	if len(levels) != 1 || levels[0].TotalReceived != 20 || levels[0].TotalSold != 4 {
		t.Fatalf("unexpected stock levels: %+v", levels)
	}

	stats, err := s.GetSalesStats(ctx, "2026-02-01", "2026-02-28")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !stats.TotalRevenue.Equal(decimal.NewFromInt(19500)) {
		t.Fatalf("expected revenue 19500, got %s", stats.TotalRevenue)
	}
	if stats.TransactionCount != 2 {
		t.Fatalf("expected 2 transactions (one invoice, one standalone), got %d", stats.TransactionCount)
	}
	if len(stats.PerProduct) != 1 || stats.PerProduct[0].QuantitySold != 4 {
		t.Fatalf("unexpected per product stats: %+v", stats.PerProduct)
	}

	outside, err := s.GetSalesStats(ctx, "2026-03-01", "2026-03-31")
	if err != nil {
		t.Fatalf("stats outside: %v", err)
	}
	if outside.TransactionCount != 0 || !outside.TotalRevenue.IsZero() {
		t.Fatalf("expected empty window, got %+v", outside)
	}
}

func TestListInvoicesCarriesProductNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustProduct(t, s, "REF-A", "Alpha", 1000, 1)

	if _, err := s.CreateInvoice(ctx, domain.Invoice{
		ID: "FAC-names", Total: decimal.NewFromInt(1000), LineCount: 1, Comment: "client fidèle", InvoicedOn: "2026-02-10",
	}, []domain.SaleLine{line(a.ID, 1, 1000)}); err != nil {
		t.Fatalf("invoice: %v", err)
	}

	invoices, err := s.ListInvoices(ctx)
	if err != nil {
		t.Fatalf("list invoices: %v", err)
	}
	if len(invoices) != 1 || invoices[0].ProductNames != "Alpha" || invoices[0].Comment != "client fidèle" {
		t.Fatalf("unexpected invoices: %+v", invoices)
	}

	detail, err := s.ListInvoiceLines(ctx, "FAC-unknown")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail) != 0 {
		t.Fatalf("expected empty detail for unknown invoice, got %d", len(detail))
	}
}

func TestFractionalAmountsSumExactly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustProduct(t, s, "REF-A", "Alpha", 1, 0)
	b := mustProduct(t, s, "REF-B", "Beta", 1, 0)

	dime := decimal.RequireFromString("0.1")
	fifth := decimal.RequireFromString("0.2")
	lines := []domain.SaleLine{
		{ProductID: a.ID, Quantity: 1, UnitPrice: dime, Total: dime, SoldOn: "2026-02-10"},
		{ProductID: b.ID, Quantity: 1, UnitPrice: fifth, Total: fifth, SoldOn: "2026-02-10"},
	}
	want := decimal.RequireFromString("0.3")
	if _, err := s.CreateInvoice(ctx, domain.Invoice{
		ID: "FAC-cents", Total: want, LineCount: 2, InvoicedOn: "2026-02-10",
	}, lines); err != nil {
		t.Fatalf("invoice: %v", err)
	}

	invoices, err := s.ListInvoices(ctx)
	if err != nil {
		t.Fatalf("list invoices: %v", err)
	}
	if len(invoices) != 1 || !invoices[0].Total.Equal(want) {
		t.Fatalf("unexpected stored invoice total: %+v", invoices)
	}

	detail, err := s.ListInvoiceLines(ctx, "FAC-cents")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	lineSum := decimal.Zero
	for _, l := range detail {
		lineSum = lineSum.Add(l.Total)
	}
	if !lineSum.Equal(want) {
		t.Fatalf("expected line totals to sum to %s, got %s", want, lineSum)
	}

	stats, err := s.GetSalesStats(ctx, "2026-02-01", "2026-02-28")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !stats.TotalRevenue.Equal(want) || stats.TotalRevenue.String() != "0.3" {
		t.Fatalf("expected revenue exactly 0.3, got %s", stats.TotalRevenue)
	}
	if len(stats.PerProduct) != 2 || stats.PerProduct[0].ProductID != b.ID || !stats.PerProduct[0].Revenue.Equal(fifth) {
		t.Fatalf("unexpected per product stats: %+v", stats.PerProduct)
	}
}

func TestRenamedReferenceStaysReserved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := mustProduct(t, s, "REF010", "Casquette", 5000, 2)

	p.Reference = "REF011"
	if _, err := s.UpdateProduct(ctx, p); err != nil {
		t.Fatalf("rename: %v", err)
	}

	_, err := s.CreateProduct(ctx, domain.Product{Reference: "REF010", Name: "Autre", SalePrice: decimal.NewFromInt(1)})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on retired reference, got %v", err)
	}
	other := mustProduct(t, s, "REF020", "Bonnet", 3000, 1)
	other.Reference = "REF010"
	if _, err := s.UpdateProduct(ctx, other); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict renaming onto a retired reference, got %v", err)
	}

	p.Reference = "REF010"
	if _, err := s.UpdateProduct(ctx, p); err != nil {
		t.Fatalf("expected product to take back its own reference: %v", err)
	}
	count, err := s.CountProducts(ctx)
	if err != nil || count != 2 {
		t.Fatalf("expected 2 products, got %d err=%v", count, err)
	}
}

func TestListInvoicesProductNamesFollowLineOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	z := mustProduct(t, s, "REF-Z", "Zebra", 1000, 1)
	a := mustProduct(t, s, "REF-A", "Alpha", 1000, 1)

	if _, err := s.CreateInvoice(ctx, domain.Invoice{
		ID: "FAC-order", Total: decimal.NewFromInt(2000), LineCount: 2, InvoicedOn: "2026-02-10",
	}, []domain.SaleLine{line(z.ID, 1, 1000), line(a.ID, 1, 1000)}); err != nil {
		t.Fatalf("invoice: %v", err)
	}

	invoices, err := s.ListInvoices(ctx)
	if err != nil {
		t.Fatalf("list invoices: %v", err)
	}
	if len(invoices) != 1 || invoices[0].ProductNames != "Zebra, Alpha" {
		t.Fatalf("expected names in line order, got %+v", invoices)
	}
}
