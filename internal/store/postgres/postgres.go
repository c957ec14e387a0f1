package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"boutique/backend/internal/domain"
	"boutique/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

var _ store.Repository = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, reference, name, category, sale_price, reorder_threshold, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Reference, &p.Name, &p.Category, &p.SalePrice, &p.ReorderThreshold, &p.CreatedAt)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, store.Storage("list products", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, store.Storage("scan product", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Storage("list products", err)
	}
	return products, nil
}

func (s *Store) CountProducts(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return 0, store.Storage("count products", err)
	}
	return count, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFoundf("product %d not found", id)
		}
		return nil, store.Storage("get product", err)
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, store.Storage("get products", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, store.Storage("scan product", err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, store.Storage("get products", err)
	}
	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.Storage("begin product", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO products (reference, name, category, sale_price, reorder_threshold, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id, created_at
	`, product.Reference, product.Name, product.Category, product.SalePrice, product.ReorderThreshold).Scan(&product.ID, &product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.Conflictf("product reference %s already exists", product.Reference)
		}
		return nil, store.Storage("insert product", err)
	}
	if err := reserveReference(ctx, tx, product.Reference, product.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, store.Storage("commit product", err)
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, store.Storage("begin product update", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET reference = $2, name = $3, category = $4, sale_price = $5, reorder_threshold = $6
		WHERE id = $1
	`, product.ID, product.Reference, product.Name, product.Category, product.SalePrice, product.ReorderThreshold)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, store.Conflictf("product reference %s already exists", product.Reference)
		}
		return 0, store.Storage("update product", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, store.Storage("update product", err)
	}
	if affected == 0 {
		return 0, store.NotFoundf("product %d not found", product.ID)
	}
	if err := reserveReference(ctx, tx, product.Reference, product.ID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, store.Storage("commit product update", err)
	}
	return affected, nil
}

// reserveReference records reference as belonging to productID for good.
// A reference once carried by another product, even one since renamed, is a
// conflict.
func reserveReference(ctx context.Context, tx *sql.Tx, reference string, productID int64) error {
	var owner int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO product_references (reference, product_id)
		VALUES ($1, $2)
		ON CONFLICT (reference) DO UPDATE SET reference = EXCLUDED.reference
		RETURNING product_id
	`, reference, productID).Scan(&owner)
	if err != nil {
		return store.Storage("reserve product reference", err)
	}
	if owner != productID {
		return store.Conflictf("product reference %s already exists", reference)
	}
	return nil
}

func (s *Store) CreateReceipt(ctx context.Context, receipt domain.Receipt) (*domain.Receipt, error) {
	err := s.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO receipts (product_id, supplier, quantity, unit_purchase_price, received_on, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			RETURNING id, product_id, created_at
		)
		SELECT i.id, i.created_at, p.reference, p.name
		FROM inserted i
		JOIN products p ON p.id = i.product_id
	`, receipt.ProductID, receipt.Supplier, receipt.Quantity, receipt.UnitPurchasePrice, receipt.ReceivedOn).
		Scan(&receipt.ID, &receipt.CreatedAt, &receipt.ProductReference, &receipt.ProductName)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.NotFoundf("product %d not found", receipt.ProductID)
		}
		return nil, store.Storage("insert receipt", err)
	}
	return &receipt, nil
}

func (s *Store) ListReceipts(ctx context.Context) ([]domain.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.product_id, p.reference, p.name, r.supplier, r.quantity,
		       r.unit_purchase_price, r.received_on, r.created_at
		FROM receipts r
		JOIN products p ON p.id = r.product_id
		ORDER BY r.received_on DESC, r.id DESC
	`)
	if err != nil {
		return nil, store.Storage("list receipts", err)
	}
	defer rows.Close()

	receipts := make([]domain.Receipt, 0, 64)
	for rows.Next() {
		var r domain.Receipt
		var receivedOn time.Time
		if err := rows.Scan(&r.ID, &r.ProductID, &r.ProductReference, &r.ProductName, &r.Supplier, &r.Quantity,
			&r.UnitPurchasePrice, &receivedOn, &r.CreatedAt); err != nil {
			return nil, store.Storage("scan receipt", err)
		}
		r.ReceivedOn = receivedOn.Format(domain.DateLayout)
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Storage("list receipts", err)
	}
	return receipts, nil
}

func (s *Store) CreateSale(ctx context.Context, line domain.SaleLine) (*domain.SaleLine, error) {
	err := s.db.QueryRowContext(ctx, `
		WITH inserted AS (
			INSERT INTO sale_lines (invoice_id, product_id, quantity, unit_price, total, comment, sold_on, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			RETURNING id, product_id, created_at
		)
		SELECT i.id, i.created_at, p.reference, p.name
		FROM inserted i
		JOIN products p ON p.id = i.product_id
	`, nullableString(line.InvoiceID), line.ProductID, line.Quantity, line.UnitPrice, line.Total, line.Comment, line.SoldOn).
		Scan(&line.ID, &line.CreatedAt, &line.ProductReference, &line.ProductName)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.NotFoundf("product %d not found", line.ProductID)
		}
		return nil, store.Storage("insert sale", err)
	}
	return &line, nil
}

const saleLineSelect = `
	SELECT s.id, s.invoice_id, s.product_id, p.reference, p.name, s.quantity,
	       s.unit_price, s.total, s.comment, s.sold_on, s.created_at
	FROM sale_lines s
	JOIN products p ON p.id = s.product_id`

func (s *Store) ListSales(ctx context.Context) ([]domain.SaleLine, error) {
	return s.querySaleLines(ctx, saleLineSelect+` ORDER BY s.created_at DESC, s.id DESC`)
}

func (s *Store) querySaleLines(ctx context.Context, query string, args ...any) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.Storage("list sale lines", err)
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 64)
	for rows.Next() {
		var line domain.SaleLine
		var invoiceID sql.NullString
		var soldOn time.Time
		if err := rows.Scan(&line.ID, &invoiceID, &line.ProductID, &line.ProductReference, &line.ProductName,
			&line.Quantity, &line.UnitPrice, &line.Total, &line.Comment, &soldOn, &line.CreatedAt); err != nil {
			return nil, store.Storage("scan sale line", err)
		}
		if invoiceID.Valid {
			id := invoiceID.String
			line.InvoiceID = &id
		}
		line.SoldOn = soldOn.Format(domain.DateLayout)
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Storage("list sale lines", err)
	}
	return lines, nil
}

func (s *Store) InvoiceExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, store.Storage("check invoice", err)
	}
	return exists, nil
}

func (s *Store) CreateInvoice(ctx context.Context, invoice domain.Invoice, lines []domain.SaleLine) (*domain.Invoice, error) {
	if len(lines) == 0 {
		return nil, store.Validationf("invoice %s has no lines", invoice.ID)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, store.Storage("begin invoice", err)
	}
	defer func() { _ = pgTx.Rollback() }()

	// Readers keep going; concurrent invoice writers queue behind this one.
	if _, err := pgTx.ExecContext(ctx, `LOCK TABLE invoices, sale_lines IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return nil, store.Storage("lock invoice tables", err)
	}

	ids := uniqueProductIDs(lines)
	rows, err := pgTx.QueryContext(ctx, `SELECT id FROM products WHERE id = ANY($1) FOR SHARE`, ids)
	if err != nil {
		return nil, store.Storage("check products", err)
	}
	found := make(map[int64]struct{}, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, store.Storage("check products", err)
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, store.Storage("check products", err)
	}
	_ = rows.Close()
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return nil, store.NotFoundf("product %d not found", id)
		}
	}

	err = pgTx.QueryRowContext(ctx, `
		INSERT INTO invoices (id, total, line_count, comment, invoiced_on, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at
	`, invoice.ID, invoice.Total, invoice.LineCount, invoice.Comment, invoice.InvoicedOn).Scan(&invoice.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.Conflictf("invoice id %s already exists", invoice.ID)
		}
		return nil, store.Storage("insert invoice", err)
	}

	for _, line := range lines {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO sale_lines (invoice_id, product_id, quantity, unit_price, total, comment, sold_on, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, invoice.ID, line.ProductID, line.Quantity, line.UnitPrice, line.Total, line.Comment, line.SoldOn, invoice.CreatedAt); err != nil {
			if isForeignKeyViolation(err) {
				return nil, store.NotFoundf("product %d not found", line.ProductID)
			}
			return nil, store.Storage("insert invoice line", err)
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, store.Storage("commit invoice", err)
	}
	return &invoice, nil
}

func (s *Store) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.total, f.line_count, f.comment, f.invoiced_on, f.created_at,
		       COALESCE((
		           SELECT string_agg(p.name, ', ' ORDER BY s.id)
		           FROM sale_lines s
		           JOIN products p ON p.id = s.product_id
		           WHERE s.invoice_id = f.id
		       ), '')
		FROM invoices f
		ORDER BY f.created_at DESC, f.id DESC
	`)
	if err != nil {
		return nil, store.Storage("list invoices", err)
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 32)
	for rows.Next() {
		var inv domain.Invoice
		var invoicedOn time.Time
		if err := rows.Scan(&inv.ID, &inv.Total, &inv.LineCount, &inv.Comment, &invoicedOn, &inv.CreatedAt, &inv.ProductNames); err != nil {
			return nil, store.Storage("scan invoice", err)
		}
		inv.InvoicedOn = invoicedOn.Format(domain.DateLayout)
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Storage("list invoices", err)
	}
	return invoices, nil
}

func (s *Store) ListInvoiceLines(ctx context.Context, invoiceID string) ([]domain.SaleLine, error) {
	return s.querySaleLines(ctx, saleLineSelect+` WHERE s.invoice_id = $1 ORDER BY p.name, s.id`, invoiceID)
}

func (s *Store) GetStockLevels(ctx context.Context) ([]domain.StockLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.reference, p.name, p.category, p.sale_price, p.reorder_threshold,
		       COALESCE((SELECT SUM(r.quantity) FROM receipts r WHERE r.product_id = p.id), 0),
		       COALESCE((SELECT SUM(s.quantity) FROM sale_lines s WHERE s.product_id = p.id), 0)
		FROM products p
		ORDER BY p.name, p.id
	`)
	if err != nil {
		return nil, store.Storage("compute stock", err)
	}
	defer rows.Close()

	levels := make([]domain.StockLevel, 0, 64)
	for rows.Next() {
		var l domain.StockLevel
		if err := rows.Scan(&l.ProductID, &l.Reference, &l.Name, &l.Category, &l.SalePrice, &l.ReorderThreshold,
			&l.TotalReceived, &l.TotalSold); err != nil {
			return nil, store.Storage("scan stock", err)
		}
		levels = append(levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Storage("compute stock", err)
	}
	return levels, nil
}

func (s *Store) GetSalesStats(ctx context.Context, startDate string, endDate string) (domain.SalesStats, error) {
	stats := domain.SalesStats{StartDate: startDate, EndDate: endDate}

	err := s.db.QueryRowContext(ctx, `
		SELECT
		  COALESCE((SELECT SUM(total) FROM sale_lines WHERE sold_on BETWEEN $1 AND $2), 0),
		  (SELECT COUNT(*) FROM sale_lines WHERE sold_on BETWEEN $1 AND $2 AND invoice_id IS NULL) +
		  (SELECT COUNT(*) FROM invoices WHERE invoiced_on BETWEEN $1 AND $2)
	`, startDate, endDate).Scan(&stats.TotalRevenue, &stats.TransactionCount)
	if err != nil {
		return domain.SalesStats{}, store.Storage("sales totals", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.reference, p.name, SUM(s.quantity), SUM(s.total) AS revenue
		FROM sale_lines s
		JOIN products p ON p.id = s.product_id
		WHERE s.sold_on BETWEEN $1 AND $2
		GROUP BY p.id, p.reference, p.name
		ORDER BY revenue DESC, p.id
	`, startDate, endDate)
	if err != nil {
		return domain.SalesStats{}, store.Storage("per product stats", err)
	}
	defer rows.Close()

	stats.PerProduct = make([]domain.ProductSales, 0, 16)
	for rows.Next() {
		var ps domain.ProductSales
		var revenue decimal.Decimal
		if err := rows.Scan(&ps.ProductID, &ps.Reference, &ps.Name, &ps.QuantitySold, &revenue); err != nil {
			return domain.SalesStats{}, store.Storage("scan product stats", err)
		}
		ps.Revenue = revenue
		stats.PerProduct = append(stats.PerProduct, ps)
	}
	if err := rows.Err(); err != nil {
		return domain.SalesStats{}, store.Storage("per product stats", err)
	}
	return stats, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, strings.ToLower(strings.TrimSpace(user.Username)), user.Password, user.Role, user.Active, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Conflictf("username %s already exists", user.Username)
		}
		return store.Storage("insert user", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, store.Storage("list users", err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, store.Storage("scan user", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, store.Storage("list users", err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`,
		strings.ToLower(strings.TrimSpace(username)), password)
	if err != nil {
		return store.Storage("update user password", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return store.Storage("update user password", err)
	}
	if affected == 0 {
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullableString(val *string) any {
	if val == nil {
		return nil
	}
	return *val
}
