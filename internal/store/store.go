package store

import (
	"context"
	"errors"
	"fmt"

	"boutique/backend/internal/domain"
)

// Error kinds. Every error returned by a Repository or the service layer
// matches exactly one of these through errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrStorage    = errors.New("storage error")
)

// Error carries a human-readable message naming the failed constraint, its
// kind, and for storage faults the underlying driver error.
type Error struct {
	Kind  error
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Msg: fmt.Sprintf(format, args...)}
}

// Storage wraps an engine fault. Errors that already carry a kind are
// returned unchanged so callers can wrap blindly.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: ErrStorage, Msg: "storage error: " + op, Cause: err}
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	CountProducts(ctx context.Context) (int, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (int64, error)

	CreateReceipt(ctx context.Context, receipt domain.Receipt) (*domain.Receipt, error)
	ListReceipts(ctx context.Context) ([]domain.Receipt, error)

	CreateSale(ctx context.Context, line domain.SaleLine) (*domain.SaleLine, error)
	ListSales(ctx context.Context) ([]domain.SaleLine, error)

	InvoiceExists(ctx context.Context, id string) (bool, error)
	// CreateInvoice writes the invoice header and all of its lines as one
	// unit. On any error nothing is persisted.
	CreateInvoice(ctx context.Context, invoice domain.Invoice, lines []domain.SaleLine) (*domain.Invoice, error)
	ListInvoices(ctx context.Context) ([]domain.Invoice, error)
	ListInvoiceLines(ctx context.Context, invoiceID string) ([]domain.SaleLine, error)

	// GetStockLevels returns per-product ledger totals ordered by product
	// name. CurrentStock and Status are left for the caller.
	GetStockLevels(ctx context.Context) ([]domain.StockLevel, error)
	GetSalesStats(ctx context.Context, startDate string, endDate string) (domain.SalesStats, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
