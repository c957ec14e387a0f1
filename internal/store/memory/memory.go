package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"boutique/backend/internal/domain"
	"boutique/backend/internal/store"
)

// Store keeps every table in process memory. It is used for tests and for
// throwaway demo runs; nothing survives a restart.
type Store struct {
	mu sync.RWMutex

	// productByRef keeps every reference a product has ever carried, so a
	// renamed product's old reference stays reserved.
	products      map[int64]domain.Product
	productByRef  map[string]int64
	nextProductID int64

	receipts      []domain.Receipt
	nextReceiptID int64

	sales      []domain.SaleLine
	nextSaleID int64

	invoices     map[string]domain.Invoice
	invoiceOrder []string

	usersByUsername map[string]domain.UserAccount

	// lineHook runs before each staged invoice line is accepted. Tests use
	// it to fail the Nth line.
	lineHook func(index int, line domain.SaleLine) error
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		products:        make(map[int64]domain.Product),
		productByRef:    make(map[string]int64),
		invoices:        make(map[string]domain.Invoice),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name == products[j].Name {
			return products[i].ID < products[j].ID
		}
		return products[i].Name < products[j].Name
	})
	return products, nil
}

func (s *Store) CountProducts(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products), nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.NotFoundf("product %d not found", id)
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := refKey(product.Reference)
	if _, exists := s.productByRef[key]; exists {
		return nil, store.Conflictf("product reference %s already exists", product.Reference)
	}

	s.nextProductID++
	product.ID = s.nextProductID
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	s.productByRef[key] = product.ID

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return 0, store.NotFoundf("product %d not found", product.ID)
	}

	newKey := refKey(product.Reference)
	if owner, taken := s.productByRef[newKey]; taken && owner != product.ID {
		return 0, store.Conflictf("product reference %s already exists", product.Reference)
	}

	product.CreatedAt = existing.CreatedAt
	s.products[product.ID] = product
	s.productByRef[newKey] = product.ID
	return 1, nil
}

func (s *Store) CreateReceipt(_ context.Context, receipt domain.Receipt) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[receipt.ProductID]
	if !ok {
		return nil, store.NotFoundf("product %d not found", receipt.ProductID)
	}

	s.nextReceiptID++
	receipt.ID = s.nextReceiptID
	receipt.ProductReference = product.Reference
	receipt.ProductName = product.Name
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}
	s.receipts = append(s.receipts, receipt)

	created := receipt
	return &created, nil
}

func (s *Store) ListReceipts(_ context.Context) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipts := make([]domain.Receipt, 0, len(s.receipts))
	for _, r := range s.receipts {
		if p, ok := s.products[r.ProductID]; ok {
			r.ProductReference = p.Reference
			r.ProductName = p.Name
		}
		receipts = append(receipts, r)
	}
	sort.SliceStable(receipts, func(i, j int) bool {
		if receipts[i].ReceivedOn == receipts[j].ReceivedOn {
			return receipts[i].ID > receipts[j].ID
		}
		return receipts[i].ReceivedOn > receipts[j].ReceivedOn
	})
	return receipts, nil
}

func (s *Store) CreateSale(_ context.Context, line domain.SaleLine) (*domain.SaleLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[line.ProductID]
	if !ok {
		return nil, store.NotFoundf("product %d not found", line.ProductID)
	}
	if line.InvoiceID != nil {
		if _, ok := s.invoices[*line.InvoiceID]; !ok {
			return nil, store.NotFoundf("invoice %s not found", *line.InvoiceID)
		}
	}

	s.nextSaleID++
	line.ID = s.nextSaleID
	line.ProductReference = product.Reference
	line.ProductName = product.Name
	if line.CreatedAt.IsZero() {
		line.CreatedAt = time.Now().UTC()
	}
	s.sales = append(s.sales, line)

	created := cloneLine(line)
	return &created, nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.SaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.SaleLine, 0, len(s.sales))
	for i := len(s.sales) - 1; i >= 0; i-- {
		lines = append(lines, s.withProduct(s.sales[i]))
	}
	return lines, nil
}

func (s *Store) InvoiceExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.invoices[id]
	return ok, nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice domain.Invoice, lines []domain.SaleLine) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(lines) == 0 {
		return nil, store.Validationf("invoice %s has no lines", invoice.ID)
	}
	if _, exists := s.invoices[invoice.ID]; exists {
		return nil, store.Conflictf("invoice id %s already exists", invoice.ID)
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = time.Now().UTC()
	}

	// Lines are staged and only published once every one of them has been
	// accepted, so a failure leaves both tables untouched.
	staged := make([]domain.SaleLine, 0, len(lines))
	nextID := s.nextSaleID
	for i, line := range lines {
		product, ok := s.products[line.ProductID]
		if !ok {
			return nil, store.NotFoundf("product %d not found", line.ProductID)
		}
		if s.lineHook != nil {
			if err := s.lineHook(i, line); err != nil {
				return nil, store.Storage("insert invoice line", err)
			}
		}
		nextID++
		invoiceID := invoice.ID
		line.ID = nextID
		line.InvoiceID = &invoiceID
		line.ProductReference = product.Reference
		line.ProductName = product.Name
		line.CreatedAt = invoice.CreatedAt
		staged = append(staged, line)
	}

	s.invoices[invoice.ID] = invoice
	s.invoiceOrder = append(s.invoiceOrder, invoice.ID)
	s.sales = append(s.sales, staged...)
	s.nextSaleID = nextID

	created := invoice
	return &created, nil
}

func (s *Store) ListInvoices(_ context.Context) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	namesByInvoice := make(map[string][]string, len(s.invoices))
	for _, line := range s.sales {
		if line.InvoiceID == nil {
			continue
		}
		name := line.ProductName
		if p, ok := s.products[line.ProductID]; ok {
			name = p.Name
		}
		namesByInvoice[*line.InvoiceID] = append(namesByInvoice[*line.InvoiceID], name)
	}

	invoices := make([]domain.Invoice, 0, len(s.invoiceOrder))
	for i := len(s.invoiceOrder) - 1; i >= 0; i-- {
		invoice := s.invoices[s.invoiceOrder[i]]
		invoice.ProductNames = strings.Join(namesByInvoice[invoice.ID], ", ")
		invoices = append(invoices, invoice)
	}
	return invoices, nil
}

func (s *Store) ListInvoiceLines(_ context.Context, invoiceID string) ([]domain.SaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.SaleLine, 0, 8)
	for _, line := range s.sales {
		if line.InvoiceID != nil && *line.InvoiceID == invoiceID {
			lines = append(lines, s.withProduct(line))
		}
	}
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].ProductName < lines[j].ProductName
	})
	return lines, nil
}

func (s *Store) GetStockLevels(_ context.Context) ([]domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	received := make(map[int64]int, len(s.products))
	for _, r := range s.receipts {
		received[r.ProductID] += r.Quantity
	}
	sold := make(map[int64]int, len(s.products))
	for _, line := range s.sales {
		sold[line.ProductID] += line.Quantity
	}

	levels := make([]domain.StockLevel, 0, len(s.products))
	for _, p := range s.products {
		levels = append(levels, domain.StockLevel{
			ProductID:        p.ID,
			Reference:        p.Reference,
			Name:             p.Name,
			Category:         p.Category,
			SalePrice:        p.SalePrice,
			ReorderThreshold: p.ReorderThreshold,
			TotalReceived:    received[p.ID],
			TotalSold:        sold[p.ID],
		})
	}
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].Name == levels[j].Name {
			return levels[i].ProductID < levels[j].ProductID
		}
		return levels[i].Name < levels[j].Name
	})
	return levels, nil
}

func (s *Store) GetSalesStats(_ context.Context, startDate string, endDate string) (domain.SalesStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.SalesStats{
		StartDate:    startDate,
		EndDate:      endDate,
		TotalRevenue: decimal.Zero,
		PerProduct:   []domain.ProductSales{},
	}
	inWindow := func(date string) bool {
		return date >= startDate && date <= endDate
	}

	perProduct := make(map[int64]*domain.ProductSales)
	for _, line := range s.sales {
		if !inWindow(line.SoldOn) {
			continue
		}
		stats.TotalRevenue = stats.TotalRevenue.Add(line.Total)
		if line.InvoiceID == nil {
			stats.TransactionCount++
		}

		entry, ok := perProduct[line.ProductID]
		if !ok {
			p := s.products[line.ProductID]
			entry = &domain.ProductSales{ProductID: p.ID, Reference: p.Reference, Name: p.Name, Revenue: decimal.Zero}
			perProduct[line.ProductID] = entry
		}
		entry.QuantitySold += line.Quantity
		entry.Revenue = entry.Revenue.Add(line.Total)
	}
	for _, invoice := range s.invoices {
		if inWindow(invoice.InvoicedOn) {
			stats.TransactionCount++
		}
	}

	for _, entry := range perProduct {
		stats.PerProduct = append(stats.PerProduct, *entry)
	}
	sort.Slice(stats.PerProduct, func(i, j int) bool {
		cmp := stats.PerProduct[i].Revenue.Cmp(stats.PerProduct[j].Revenue)
		if cmp == 0 {
			return stats.PerProduct[i].ProductID < stats.PerProduct[j].ProductID
		}
		return cmp > 0
	})
	return stats, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if _, exists := s.usersByUsername[username]; exists {
		return store.Conflictf("username %s already exists", username)
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.NotFoundf("user %s not found", username)
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) withProduct(line domain.SaleLine) domain.SaleLine {
	if p, ok := s.products[line.ProductID]; ok {
		line.ProductReference = p.Reference
		line.ProductName = p.Name
	}
	return cloneLine(line)
}

func cloneLine(line domain.SaleLine) domain.SaleLine {
	if line.InvoiceID != nil {
		id := *line.InvoiceID
		line.InvoiceID = &id
	}
	return line
}

func refKey(reference string) string {
	return strings.TrimSpace(reference)
}
