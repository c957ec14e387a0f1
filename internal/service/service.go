package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"boutique/backend/internal/domain"
	"boutique/backend/internal/logging"
	"boutique/backend/internal/store"
	"boutique/backend/internal/xid"
)

const invoicePrefix = "FAC"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service is the stateless core: every call reads or writes through the
// repository and nothing is kept between calls.
type Service struct {
	repo         store.Repository
	validate     *validator.Validate
	log          logrus.FieldLogger
	newInvoiceID func() string
}

type Option func(*Service)

// WithInvoiceIDGenerator replaces the default FAC-<millis>-<hex> generator.
func WithInvoiceIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newInvoiceID = fn
		}
	}
}

func New(repo store.Repository, logger logrus.FieldLogger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Service{
		repo:         repo,
		validate:     newValidator(),
		log:          logger.WithField("module", "service"),
		newInvoiceID: func() string { return xid.New(invoicePrefix) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) AddProduct(ctx context.Context, req domain.ProductRequest) (domain.Product, error) {
	req = normalizeProduct(req)
	if err := s.check(req); err != nil {
		return domain.Product{}, err
	}
	if err := checkAmount("sale_price", req.SalePrice); err != nil {
		return domain.Product{}, err
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Reference:        req.Reference,
		Name:             req.Name,
		Category:         req.Category,
		SalePrice:        req.SalePrice,
		ReorderThreshold: req.ReorderThreshold,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.audit(ctx, "product_create", "product", created.ID, logrus.Fields{
		"reference": created.Reference,
		"price":     created.SalePrice.String(),
	})
	return *created, nil
}

// UpdateProduct overwrites every catalog field of product id. Receipts and
// sales already recorded keep their own prices and quantities.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductRequest) (int64, error) {
	req = normalizeProduct(req)
	if err := s.check(req); err != nil {
		return 0, err
	}
	if err := checkAmount("sale_price", req.SalePrice); err != nil {
		return 0, err
	}

	changed, err := s.repo.UpdateProduct(ctx, domain.Product{
		ID:               id,
		Reference:        req.Reference,
		Name:             req.Name,
		Category:         req.Category,
		SalePrice:        req.SalePrice,
		ReorderThreshold: req.ReorderThreshold,
	})
	if err != nil {
		return 0, err
	}

	s.audit(ctx, "product_update", "product", id, logrus.Fields{
		"reference": req.Reference,
		"price":     req.SalePrice.String(),
		"threshold": req.ReorderThreshold,
	})
	return changed, nil
}

func (s *Service) ListReceipts(ctx context.Context) ([]domain.Receipt, error) {
	return s.repo.ListReceipts(ctx)
}

func (s *Service) RecordReceipt(ctx context.Context, req domain.ReceiptRequest) (domain.Receipt, error) {
	req.Supplier = strings.TrimSpace(req.Supplier)
	req.Date = strings.TrimSpace(req.Date)
	if err := s.check(req); err != nil {
		return domain.Receipt{}, err
	}
	if err := checkAmount("unit_purchase_price", req.UnitPurchasePrice); err != nil {
		return domain.Receipt{}, err
	}

	created, err := s.repo.CreateReceipt(ctx, domain.Receipt{
		ProductID:         req.ProductID,
		Supplier:          req.Supplier,
		Quantity:          req.Quantity,
		UnitPurchasePrice: req.UnitPurchasePrice,
		ReceivedOn:        req.Date,
	})
	if err != nil {
		return domain.Receipt{}, err
	}

	s.audit(ctx, "receipt_record", "receipt", created.ID, logrus.Fields{
		"product_id": created.ProductID,
		"quantity":   created.Quantity,
	})
	return *created, nil
}

func (s *Service) ListSales(ctx context.Context) ([]domain.SaleLine, error) {
	return s.repo.ListSales(ctx)
}

// RecordStandaloneSale writes one sale line outside any invoice. Stock is
// not checked: the sale is recorded even if it drives stock negative, which
// then shows up as CRITIQUE in ComputeStock.
func (s *Service) RecordStandaloneSale(ctx context.Context, req domain.StandaloneSaleRequest) (domain.SaleLine, error) {
	req.Comment = strings.TrimSpace(req.Comment)
	req.Date = strings.TrimSpace(req.Date)
	if err := s.check(req); err != nil {
		return domain.SaleLine{}, err
	}
	if err := checkAmount("unit_price", req.UnitPrice); err != nil {
		return domain.SaleLine{}, err
	}

	created, err := s.repo.CreateSale(ctx, domain.SaleLine{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		Total:     lineTotal(req.Quantity, req.UnitPrice),
		Comment:   req.Comment,
		SoldOn:    req.Date,
	})
	if err != nil {
		return domain.SaleLine{}, err
	}

	s.audit(ctx, "sale_record", "sale_line", created.ID, logrus.Fields{
		"product_id": created.ProductID,
		"quantity":   created.Quantity,
		"total":      created.Total.String(),
	})
	return *created, nil
}

// RecordBatchSale turns a cart into one invoice plus one sale line per item.
// Everything is validated before the first write and the repository commits
// the header and lines as a single unit.
func (s *Service) RecordBatchSale(ctx context.Context, req domain.BatchSaleRequest) (domain.BatchSaleResult, error) {
	if len(req.Items) == 0 {
		return domain.BatchSaleResult{}, store.Validationf("items must contain at least one line")
	}
	req.Comment = strings.TrimSpace(req.Comment)
	req.Date = strings.TrimSpace(req.Date)
	if err := s.check(req); err != nil {
		return domain.BatchSaleResult{}, err
	}
	for i, item := range req.Items {
		if err := checkAmount(fmt.Sprintf("items[%d].unit_price", i), item.UnitPrice); err != nil {
			return domain.BatchSaleResult{}, err
		}
	}

	ids := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.BatchSaleResult{}, err
	}

	total := decimal.Zero
	lineCount := 0
	lines := make([]domain.SaleLine, 0, len(req.Items))
	for _, item := range req.Items {
		if _, ok := products[item.ProductID]; !ok {
			return domain.BatchSaleResult{}, store.NotFoundf("product %d not found", item.ProductID)
		}
		amount := lineTotal(item.Quantity, item.UnitPrice)
		total = total.Add(amount)
		lineCount += item.Quantity
		lines = append(lines, domain.SaleLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     amount,
			Comment:   req.Comment,
			SoldOn:    req.Date,
		})
	}

	invoiceID := s.newInvoiceID()
	exists, err := s.repo.InvoiceExists(ctx, invoiceID)
	if err != nil {
		return domain.BatchSaleResult{}, err
	}
	if exists {
		return domain.BatchSaleResult{}, store.Conflictf("invoice id %s already exists", invoiceID)
	}

	created, err := s.repo.CreateInvoice(ctx, domain.Invoice{
		ID:         invoiceID,
		Total:      total,
		LineCount:  lineCount,
		Comment:    req.Comment,
		InvoicedOn: req.Date,
	}, lines)
	if err != nil {
		logging.LogError(s.log, "service", "RecordBatchSale", "create invoice", logrus.Fields{
			"invoice_id": invoiceID,
			"items":      len(lines),
		}, err)
		return domain.BatchSaleResult{}, err
	}

	s.audit(ctx, "batch_sale", "invoice", created.ID, logrus.Fields{
		"total":      created.Total.String(),
		"line_count": created.LineCount,
		"items":      len(lines),
	})
	return domain.BatchSaleResult{
		InvoiceID: created.ID,
		Total:     created.Total,
		LineCount: created.LineCount,
	}, nil
}

func (s *Service) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	return s.repo.ListInvoices(ctx)
}

// GetInvoiceDetail returns the lines of invoiceID ordered by product name.
// An unknown id yields an empty slice, not an error.
func (s *Service) GetInvoiceDetail(ctx context.Context, invoiceID string) ([]domain.SaleLine, error) {
	lines, err := s.repo.ListInvoiceLines(ctx, strings.TrimSpace(invoiceID))
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []domain.SaleLine{}
	}
	return lines, nil
}

func (s *Service) ComputeStock(ctx context.Context) ([]domain.StockLevel, error) {
	levels, err := s.repo.GetStockLevels(ctx)
	if err != nil {
		return nil, err
	}
	for i := range levels {
		levels[i].CurrentStock = levels[i].TotalReceived - levels[i].TotalSold
		levels[i].Status = stockStatus(levels[i].CurrentStock, levels[i].ReorderThreshold)
	}
	return levels, nil
}

// CheckCart reports whether current stock covers a prospective cart. It is
// advisory: RecordBatchSale does not call it.
func (s *Service) CheckCart(ctx context.Context, req domain.CartCheckRequest) (domain.CartCheckResponse, error) {
	if len(req.Items) == 0 {
		return domain.CartCheckResponse{}, store.Validationf("items must contain at least one line")
	}
	if err := s.check(req); err != nil {
		return domain.CartCheckResponse{}, err
	}

	levels, err := s.ComputeStock(ctx)
	if err != nil {
		return domain.CartCheckResponse{}, err
	}
	available := make(map[int64]int, len(levels))
	for _, level := range levels {
		available[level.ProductID] = level.CurrentStock
	}

	requested := make(map[int64]int, len(req.Items))
	order := make([]int64, 0, len(req.Items))
	for _, item := range req.Items {
		if _, ok := available[item.ProductID]; !ok {
			return domain.CartCheckResponse{}, store.NotFoundf("product %d not found", item.ProductID)
		}
		if _, seen := requested[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		requested[item.ProductID] += item.Quantity
	}

	resp := domain.CartCheckResponse{
		Items:        make([]domain.CartAvailability, 0, len(order)),
		AllAvailable: true,
	}
	for _, id := range order {
		entry := domain.CartAvailability{
			ProductID:  id,
			Requested:  requested[id],
			Available:  available[id],
			Sufficient: requested[id] <= available[id],
		}
		if !entry.Sufficient {
			resp.AllAvailable = false
		}
		resp.Items = append(resp.Items, entry)
	}
	return resp, nil
}

// ComputeStats aggregates sales dated within [startDate, endDate]. The
// window is checked before any read.
func (s *Service) ComputeStats(ctx context.Context, startDate string, endDate string) (domain.SalesStats, error) {
	startDate = strings.TrimSpace(startDate)
	endDate = strings.TrimSpace(endDate)

	start, err := time.Parse(domain.DateLayout, startDate)
	if err != nil {
		return domain.SalesStats{}, store.Validationf("start_date must be a date formatted YYYY-MM-DD")
	}
	end, err := time.Parse(domain.DateLayout, endDate)
	if err != nil {
		return domain.SalesStats{}, store.Validationf("end_date must be a date formatted YYYY-MM-DD")
	}
	if start.After(end) {
		return domain.SalesStats{}, store.Validationf("start_date %s is after end_date %s", startDate, endDate)
	}

	stats, err := s.repo.GetSalesStats(ctx, startDate, endDate)
	if err != nil {
		return domain.SalesStats{}, err
	}
	if stats.PerProduct == nil {
		stats.PerProduct = []domain.ProductSales{}
	}
	return stats, nil
}

func stockStatus(current int, threshold int) string {
	if current <= threshold {
		return domain.StockStatusCritical
	}
	return domain.StockStatusOK
}

func lineTotal(quantity int, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

func normalizeProduct(req domain.ProductRequest) domain.ProductRequest {
	req.Reference = strings.TrimSpace(req.Reference)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	return req
}

func (s *Service) audit(ctx context.Context, action string, entityType string, entityID any, detail logrus.Fields) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	fields := logrus.Fields{
		"action":      action,
		"entity_type": entityType,
		"entity_id":   entityID,
		"actor":       actor.Username,
		"actor_role":  actor.Role,
	}
	for k, v := range detail {
		fields[k] = v
	}
	s.log.WithFields(fields).Info("audit")
}
