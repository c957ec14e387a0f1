package sqlite

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"boutique/backend/internal/domain"
	"boutique/backend/internal/store"
)

// Store is the embedded single-file backend. All access goes through one
// connection, which gives the single-writer model the batch sale relies on.
type Store struct {
	db *gorm.DB
}

var _ store.Repository = (*Store)(nil)

// Open opens (or creates) the database at dsn and migrates the schema. dsn
// may be a plain file path or a sqlite URI such as
// "file:shop?mode=memory&cache=shared".
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(withForeignKeys(dsn)), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&productRow{}, &productReferenceRow{}, &receiptRow{}, &invoiceRow{}, &saleLineRow{}, &userRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := db.Exec(`
		INSERT OR IGNORE INTO product_references (reference, product_id, created_at)
		SELECT reference, id, created_at FROM products
	`).Error; err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	var rows []productRow
	if err := s.db.WithContext(ctx).Order("name ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, store.Storage("list products", err)
	}

	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.toDomain())
	}
	return products, nil
}

func (s *Store) CountProducts(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&productRow{}).Count(&count).Error; err != nil {
		return 0, store.Storage("count products", err)
	}
	return int(count), nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var row productRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.NotFoundf("product %d not found", id)
		}
		return nil, store.Storage("get product", err)
	}
	product := row.toDomain()
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	var rows []productRow
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, store.Storage("get products", err)
	}
	for _, row := range rows {
		result[row.ID] = row.toDomain()
	}
	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	row := toProductRow(product)
	row.ID = 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return store.Conflictf("product reference %s already exists", product.Reference)
			}
			return store.Storage("insert product", err)
		}
		return reserveReference(tx, row.Reference, row.ID)
	})
	if err != nil {
		return nil, err
	}
	created := row.toDomain()
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (int64, error) {
	var affected int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&productRow{}).Where("id = ?", product.ID).Updates(map[string]any{
			"reference":         product.Reference,
			"name":              product.Name,
			"category":          product.Category,
			"sale_price":        product.SalePrice,
			"reorder_threshold": product.ReorderThreshold,
		})
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return store.Conflictf("product reference %s already exists", product.Reference)
			}
			return store.Storage("update product", res.Error)
		}
		if res.RowsAffected == 0 {
			return store.NotFoundf("product %d not found", product.ID)
		}
		affected = res.RowsAffected
		return reserveReference(tx, product.Reference, product.ID)
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// reserveReference records reference as belonging to productID for good. A
// reference once carried by another product, even one since renamed, is a
// conflict.
func reserveReference(tx *gorm.DB, reference string, productID int64) error {
	var held productReferenceRow
	err := tx.Where("reference = ?", reference).Limit(1).Find(&held).Error
	if err != nil {
		return store.Storage("check product reference", err)
	}
	if held.Reference != "" {
		if held.ProductID != productID {
			return store.Conflictf("product reference %s already exists", reference)
		}
		return nil
	}
	if err := tx.Omit(clause.Associations).Create(&productReferenceRow{Reference: reference, ProductID: productID}).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return store.Conflictf("product reference %s already exists", reference)
		}
		return store.Storage("reserve product reference", err)
	}
	return nil
}

func (s *Store) CreateReceipt(ctx context.Context, receipt domain.Receipt) (*domain.Receipt, error) {
	product, err := s.GetProduct(ctx, receipt.ProductID)
	if err != nil {
		return nil, err
	}

	row := receiptRow{
		ProductID:         receipt.ProductID,
		Supplier:          receipt.Supplier,
		Quantity:          receipt.Quantity,
		UnitPurchasePrice: receipt.UnitPurchasePrice,
		ReceivedOn:        receipt.ReceivedOn,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return nil, store.NotFoundf("product %d not found", receipt.ProductID)
		}
		return nil, store.Storage("insert receipt", err)
	}

	receipt.ID = row.ID
	receipt.CreatedAt = row.CreatedAt
	receipt.ProductReference = product.Reference
	receipt.ProductName = product.Name
	return &receipt, nil
}

func (s *Store) ListReceipts(ctx context.Context) ([]domain.Receipt, error) {
	receipts := make([]domain.Receipt, 0, 64)
	err := s.db.WithContext(ctx).Raw(`
		SELECT r.id, r.product_id, p.reference AS product_reference, p.name AS product_name,
		       r.supplier, r.quantity, r.unit_purchase_price, r.received_on, r.created_at
		FROM receipts r
		JOIN products p ON p.id = r.product_id
		ORDER BY r.received_on DESC, r.id DESC
	`).Scan(&receipts).Error
	if err != nil {
		return nil, store.Storage("list receipts", err)
	}
	return receipts, nil
}

func (s *Store) CreateSale(ctx context.Context, line domain.SaleLine) (*domain.SaleLine, error) {
	product, err := s.GetProduct(ctx, line.ProductID)
	if err != nil {
		return nil, err
	}

	row := toSaleLineRow(line)
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrForeignKeyViolated) {
			return nil, store.NotFoundf("product %d not found", line.ProductID)
		}
		return nil, store.Storage("insert sale", err)
	}

	line.ID = row.ID
	line.CreatedAt = row.CreatedAt
	line.ProductReference = product.Reference
	line.ProductName = product.Name
	return &line, nil
}

const saleLineColumns = `
	s.id, s.invoice_id, s.product_id, p.reference AS product_reference, p.name AS product_name,
	s.quantity, s.unit_price, s.total, s.comment, s.sold_on, s.created_at`

func (s *Store) ListSales(ctx context.Context) ([]domain.SaleLine, error) {
	lines := make([]domain.SaleLine, 0, 64)
	err := s.db.WithContext(ctx).Raw(`
		SELECT` + saleLineColumns + `
		FROM sale_lines s
		JOIN products p ON p.id = s.product_id
		ORDER BY s.created_at DESC, s.id DESC
	`).Scan(&lines).Error
	if err != nil {
		return nil, store.Storage("list sales", err)
	}
	return lines, nil
}

func (s *Store) InvoiceExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&invoiceRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, store.Storage("check invoice", err)
	}
	return count > 0, nil
}

func (s *Store) CreateInvoice(ctx context.Context, invoice domain.Invoice, lines []domain.SaleLine) (*domain.Invoice, error) {
	if len(lines) == 0 {
		return nil, store.Validationf("invoice %s has no lines", invoice.ID)
	}

	created := invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := uniqueProductIDs(lines)
		var found []int64
		if err := tx.Model(&productRow{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
			return store.Storage("check products", err)
		}
		if missing, ok := firstMissing(ids, found); ok {
			return store.NotFoundf("product %d not found", missing)
		}

		var count int64
		if err := tx.Model(&invoiceRow{}).Where("id = ?", invoice.ID).Count(&count).Error; err != nil {
			return store.Storage("check invoice", err)
		}
		if count > 0 {
			return store.Conflictf("invoice id %s already exists", invoice.ID)
		}

		header := invoiceRow{
			ID:         invoice.ID,
			Total:      invoice.Total,
			LineCount:  invoice.LineCount,
			Comment:    invoice.Comment,
			InvoicedOn: invoice.InvoicedOn,
		}
		if err := tx.Create(&header).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return store.Conflictf("invoice id %s already exists", invoice.ID)
			}
			return store.Storage("insert invoice", err)
		}
		created.CreatedAt = header.CreatedAt

		for _, line := range lines {
			invoiceID := invoice.ID
			line.InvoiceID = &invoiceID
			line.CreatedAt = header.CreatedAt
			row := toSaleLineRow(line)
			if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrForeignKeyViolated) {
					return store.NotFoundf("product %d not found", line.ProductID)
				}
				return store.Storage("insert invoice line", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, store.Storage("create invoice", err)
	}
	return &created, nil
}

func (s *Store) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	invoices := make([]domain.Invoice, 0, 32)
	err := s.db.WithContext(ctx).Raw(`
		SELECT f.id, f.total, f.line_count, f.comment, f.invoiced_on, f.created_at,
		       COALESCE((
		           SELECT GROUP_CONCAT(ordered.name, ', ')
		           FROM (
		               SELECT p.name
		               FROM sale_lines s
		               JOIN products p ON p.id = s.product_id
		               WHERE s.invoice_id = f.id
		               ORDER BY s.id ASC
		           ) AS ordered
		       ), '') AS product_names
		FROM invoices f
		ORDER BY f.created_at DESC, f.id DESC
	`).Scan(&invoices).Error
	if err != nil {
		return nil, store.Storage("list invoices", err)
	}
	return invoices, nil
}

func (s *Store) ListInvoiceLines(ctx context.Context, invoiceID string) ([]domain.SaleLine, error) {
	lines := make([]domain.SaleLine, 0, 8)
	err := s.db.WithContext(ctx).Raw(`
		SELECT`+saleLineColumns+`
		FROM sale_lines s
		JOIN products p ON p.id = s.product_id
		WHERE s.invoice_id = ?
		ORDER BY p.name ASC, s.id ASC
	`, invoiceID).Scan(&lines).Error
	if err != nil {
		return nil, store.Storage("list invoice lines", err)
	}
	return lines, nil
}

func (s *Store) GetStockLevels(ctx context.Context) ([]domain.StockLevel, error) {
	levels := make([]domain.StockLevel, 0, 64)
	err := s.db.WithContext(ctx).Raw(`
		SELECT p.id AS product_id, p.reference, p.name, p.category, p.sale_price, p.reorder_threshold,
		       COALESCE((SELECT SUM(r.quantity) FROM receipts r WHERE r.product_id = p.id), 0) AS total_received,
		       COALESCE((SELECT SUM(s.quantity) FROM sale_lines s WHERE s.product_id = p.id), 0) AS total_sold
		FROM products p
		ORDER BY p.name ASC, p.id ASC
	`).Scan(&levels).Error
	if err != nil {
		return nil, store.Storage("compute stock", err)
	}
	return levels, nil
}

type statsLineRow struct {
	ProductID int64
	Reference string
	Name      string
	Quantity  int
	Total     decimal.Decimal
}

func (s *Store) GetSalesStats(ctx context.Context, startDate string, endDate string) (domain.SalesStats, error) {
	stats := domain.SalesStats{StartDate: startDate, EndDate: endDate, TotalRevenue: decimal.Zero}
	db := s.db.WithContext(ctx)

	var rows []statsLineRow
	if err := db.Raw(`
		SELECT s.product_id, p.reference, p.name, s.quantity, s.total
		FROM sale_lines s
		JOIN products p ON p.id = s.product_id
		WHERE s.sold_on BETWEEN ? AND ?
	`, startDate, endDate).Scan(&rows).Error; err != nil {
		return domain.SalesStats{}, store.Storage("sales in window", err)
	}
	stats.TotalRevenue, stats.PerProduct = aggregateSales(rows)

	if err := db.Raw(`
		SELECT
		  (SELECT COUNT(*) FROM sale_lines WHERE sold_on BETWEEN ? AND ? AND invoice_id IS NULL) +
		  (SELECT COUNT(*) FROM invoices WHERE invoiced_on BETWEEN ? AND ?)
	`, startDate, endDate, startDate, endDate).Row().Scan(&stats.TransactionCount); err != nil {
		return domain.SalesStats{}, store.Storage("count transactions", err)
	}

	return stats, nil
}

// aggregateSales sums revenue overall and per product, ordered by revenue
// descending then product id.
func aggregateSales(rows []statsLineRow) (decimal.Decimal, []domain.ProductSales) {
	total := decimal.Zero
	index := make(map[int64]int, 16)
	perProduct := make([]domain.ProductSales, 0, 16)
	for _, row := range rows {
		total = total.Add(row.Total)
		i, ok := index[row.ProductID]
		if !ok {
			i = len(perProduct)
			index[row.ProductID] = i
			perProduct = append(perProduct, domain.ProductSales{
				ProductID: row.ProductID,
				Reference: row.Reference,
				Name:      row.Name,
				Revenue:   decimal.Zero,
			})
		}
		perProduct[i].QuantitySold += row.Quantity
		perProduct[i].Revenue = perProduct[i].Revenue.Add(row.Total)
	}
	sort.Slice(perProduct, func(a, b int) bool {
		if cmp := perProduct[a].Revenue.Cmp(perProduct[b].Revenue); cmp != 0 {
			return cmp > 0
		}
		return perProduct[a].ProductID < perProduct[b].ProductID
	})
	return total, perProduct
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	row := userRow{
		Username:  strings.ToLower(strings.TrimSpace(user.Username)),
		Password:  user.Password,
		Role:      user.Role,
		Active:    user.Active,
		CreatedAt: user.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return store.Conflictf("username %s already exists", row.Username)
		}
		return store.Storage("insert user", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("username ASC").Find(&rows).Error; err != nil {
		return nil, store.Storage("list users", err)
	}
	users := make([]domain.UserAccount, 0, len(rows))
	for _, row := range rows {
		users = append(users, domain.UserAccount{
			Username:  row.Username,
			Password:  row.Password,
			Role:      row.Role,
			Active:    row.Active,
			CreatedAt: row.CreatedAt,
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).
		Where("username = ?", strings.ToLower(strings.TrimSpace(username))).
		Update("password", password)
	if res.Error != nil {
		return store.Storage("update user password", res.Error)
	}
	if res.RowsAffected == 0 {
		return store.NotFoundf("user %s not found", username)
	}
	return nil
}

func uniqueProductIDs(lines []domain.SaleLine) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}

func firstMissing(want []int64, found []int64) (int64, bool) {
	present := make(map[int64]struct{}, len(found))
	for _, id := range found {
		present[id] = struct{}{}
	}
	for _, id := range want {
		if _, ok := present[id]; !ok {
			return id, true
		}
	}
	return 0, false
}
