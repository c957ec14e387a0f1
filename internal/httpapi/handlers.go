package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"boutique/backend/internal/domain"
	"boutique/backend/internal/report"
	"boutique/backend/internal/store"
)

// batchSaleAttempts bounds retries when a generated invoice id collides.
const batchSaleAttempts = 3

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": a.now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, r, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeError(w, r, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken hands out the token clients must echo in X-CSRF-Token on
// every mutating request.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cached, ok, err := a.catalog.GetProducts(ctx)
	if err != nil {
		a.log.WithError(err).Warn("catalog cache read failed")
	}
	if ok {
		writeJSON(w, http.StatusOK, map[string]any{"products": cached})
		return
	}

	products, err := a.service.ListProducts(ctx)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if err := a.catalog.SetProducts(ctx, products, a.catalogTTL); err != nil {
		a.log.WithError(err).Warn("catalog cache write failed")
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}

	product, err := a.service.GetProduct(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	product, err := a.service.AddProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.invalidateCatalog(r)
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}

	var req domain.ProductRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	changed, err := a.service.UpdateProduct(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	a.invalidateCatalog(r)

	product, err := a.service.GetProduct(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.ProductUpdateResponse{Changed: changed, Product: product})
}

func (a *API) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := a.service.ListReceipts(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

func (a *API) handleRecordReceipt(w http.ResponseWriter, r *http.Request) {
	var req domain.ReceiptRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	req.Date = a.dateOrToday(req.Date)

	receipt, err := a.service.RecordReceipt(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"receipt": receipt})
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := a.service.ListSales(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req domain.StandaloneSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	req.Date = a.dateOrToday(req.Date)

	sale, err := a.service.RecordStandaloneSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"sale": sale})
}

func (a *API) handleBatchSale(w http.ResponseWriter, r *http.Request) {
	var req domain.BatchSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	req.Date = a.dateOrToday(req.Date)

	var (
		result domain.BatchSaleResult
		err    error
	)
	for attempt := 1; attempt <= batchSaleAttempts; attempt++ {
		result, err = a.service.RecordBatchSale(r.Context(), req)
		if err == nil || !errors.Is(err, store.ErrConflict) {
			break
		}
		a.log.WithFields(logrus.Fields{"attempt": attempt}).Warn("invoice id collision, retrying batch sale")
	}
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleCheckCart(w http.ResponseWriter, r *http.Request) {
	var req domain.CartCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.CheckCart(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := a.service.ListInvoices(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (a *API) handleInvoiceDetail(w http.ResponseWriter, r *http.Request) {
	invoiceID := strings.TrimSpace(chi.URLParam(r, "id"))
	lines, err := a.service.GetInvoiceDetail(r.Context(), invoiceID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invoice_id": invoiceID,
		"lines":      lines,
	})
}

func (a *API) handleStock(w http.ResponseWriter, r *http.Request) {
	levels, err := a.service.ComputeStock(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock": levels})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	start, end := a.statsWindow(r)
	stats, err := a.service.ComputeStats(r.Context(), start, end)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleStatsExport(w http.ResponseWriter, r *http.Request) {
	start, end := a.statsWindow(r)
	stats, err := a.service.ComputeStats(r.Context(), start, end)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	levels, err := a.service.ComputeStock(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteStats(&buf, stats, levels); err != nil {
		a.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("render stats workbook: %w", err))
		return
	}

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.FileName(start, end)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	cashiers := a.auth.ListCashiers(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errUsernameTaken) || errors.Is(err, store.ErrConflict) {
			status = http.StatusConflict
		} else if errors.Is(err, store.ErrStorage) {
			status = http.StatusInternalServerError
		}
		a.writeError(w, r, status, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

func (a *API) invalidateCatalog(r *http.Request) {
	if err := a.catalog.Invalidate(r.Context()); err != nil {
		a.log.WithError(err).Warn("catalog cache invalidation failed")
	}
}

func (a *API) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		a.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid product id %q", raw))
		return 0, false
	}
	return id, true
}

func (a *API) dateOrToday(date string) string {
	if strings.TrimSpace(date) == "" {
		return a.now().UTC().Format(domain.DateLayout)
	}
	return date
}

// statsWindow reads ?start=&end=, defaulting to the first of the current
// month through today.
func (a *API) statsWindow(r *http.Request) (string, string) {
	today := a.now().UTC()
	start := strings.TrimSpace(r.URL.Query().Get("start"))
	end := strings.TrimSpace(r.URL.Query().Get("end"))
	if start == "" {
		start = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC).Format(domain.DateLayout)
	}
	if end == "" {
		end = today.Format(domain.DateLayout)
	}
	return start, end
}
