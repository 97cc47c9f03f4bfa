package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/service"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless token valid for the current hour
// bucket. Mutating requests carry it in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.session(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := a.service.ListBranches(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"branches": branches})
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := a.service.ListCustomers(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	a.withSession(w, r, func(ctx context.Context, session domain.Session) (any, error) {
		items, err := a.service.LowStock(ctx, session)
		return map[string]any{"items": items}, err
	})
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	a.withSession(w, r, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.Snapshot(ctx, session)
	})
}

func (a *API) handleClearCart(w http.ResponseWriter, r *http.Request) {
	a.withSession(w, r, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.ClearCart(ctx, session)
	})
}

func (a *API) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req domain.AddItemRequest
	a.withBody(w, r, &req, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.AddVariant(ctx, session, req.VariantID)
	})
}

func (a *API) handleAddProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	a.withSession(w, r, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.AddProduct(ctx, session, productID)
	})
}

func (a *API) handleScan(w http.ResponseWriter, r *http.Request) {
	var req domain.ScanRequest
	a.withBody(w, r, &req, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.ScanSKU(ctx, session, req.SKU)
	})
}

func (a *API) handleUpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req domain.QuantityRequest
	a.withBody(w, r, &req, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.UpdateQuantity(ctx, session, req.VariantID, req.Qty)
	})
}

func (a *API) handleUpdateDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountRequest
	a.withBody(w, r, &req, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.UpdateDiscount(ctx, session, req.VariantID, req.AmountCents)
	})
}

func (a *API) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	variantID := chi.URLParam(r, "variantID")
	a.withSession(w, r, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.RemoveItem(ctx, session, variantID)
	})
}

func (a *API) handleSyncStock(w http.ResponseWriter, r *http.Request) {
	a.withSession(w, r, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.SyncStock(ctx, session)
	})
}

func (a *API) handleListHolds(w http.ResponseWriter, r *http.Request) {
	a.withSession(w, r, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.ListHeld(ctx, session)
	})
}

func (a *API) handleHold(w http.ResponseWriter, r *http.Request) {
	var req domain.HoldRequest
	a.withBody(w, r, &req, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.HoldCart(ctx, session, req.Note)
	})
}

func (a *API) handleResumeHold(w http.ResponseWriter, r *http.Request) {
	holdID := chi.URLParam(r, "holdID")
	var req domain.ResumeRequest
	a.withBody(w, r, &req, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.ResumeHeld(ctx, session, holdID, req.Force)
	})
}

func (a *API) handleDiscardHold(w http.ResponseWriter, r *http.Request) {
	holdID := chi.URLParam(r, "holdID")
	a.withSession(w, r, func(ctx context.Context, session domain.Session) (any, error) {
		if err := a.service.DiscardHeld(ctx, session, holdID); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil
	})
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	a.withBody(w, r, &req, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.Quote(ctx, session, req)
	})
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	a.withBody(w, r, &req, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.Checkout(ctx, session, req)
	})
}

func (a *API) handleChargeAccount(w http.ResponseWriter, r *http.Request) {
	var req domain.ChargeAccountRequest
	a.withBody(w, r, &req, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.ChargeToAccount(ctx, session, req.CustomerID)
	})
}

func (a *API) handleReturnView(w http.ResponseWriter, r *http.Request) {
	a.withSession(w, r, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.ReturnView(ctx, session)
	})
}

func (a *API) handleCancelReturn(w http.ResponseWriter, r *http.Request) {
	a.withSession(w, r, func(ctx context.Context, session domain.Session) (any, error) {
		if err := a.service.CancelReturn(ctx, session); err != nil {
			return nil, err
		}
		return a.service.ReturnView(ctx, session)
	})
}

func (a *API) handleReturnLookup(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnLookupRequest
	a.withBody(w, r, &req, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.FindReturn(ctx, session, req.SaleID)
	})
}

func (a *API) handleReturnQuantity(w http.ResponseWriter, r *http.Request) {
	var req domain.QuantityRequest
	a.withBody(w, r, &req, func(ctx context.Context, session domain.Session) (any, error) {
		return a.service.SetReturnQuantity(ctx, session, req.VariantID, req.Qty)
	})
}

// handleConfirmReturn needs the manager PIN unless the operator is an admin.
// PIN attempts are limited per terminal and client.
func (a *API) handleConfirmReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ConfirmReturnRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a.withSession(w, r, func(ctx context.Context, session domain.Session) (any, error) {
		actor, _ := service.ActorFromContext(ctx)
		if actor.Role != roleAdmin && !a.pinLimiter.Allow("pin:return:"+session.TerminalKey()+":"+clientKey(r)) {
			return nil, errTooManyPINAttempts
		}
		if err := a.auth.ApproveReturn(actor, session, req.ManagerPIN); err != nil {
			return nil, err
		}
		return a.service.ConfirmReturn(ctx, session)
	})
}

func (a *API) handleReceipt(w http.ResponseWriter, r *http.Request) {
	width, _ := strconv.Atoi(r.URL.Query().Get("width"))
	resp, err := a.service.Receipt(r.Context(), chi.URLParam(r, "saleID"), width)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 200)
	sales, err := a.service.ListSales(r.Context(), r.URL.Query().Get("branch_id"), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parsePositiveLimit(q.Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), q.Get("branch_id"), q.Get("date"), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": logs})
}

func (a *API) handleRefreshCatalog(w http.ResponseWriter, r *http.Request) {
	if err := a.service.RefreshCatalog(r.Context()); err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

// withSession resolves the terminal session and writes the result of fn.
func (a *API) withSession(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, session domain.Session) (any, error)) {
	session, err := a.session(r)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	resp, err := fn(r.Context(), session)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// withBody decodes the JSON body into dest before running withSession. An
// empty body leaves dest at its zero value.
func (a *API) withBody(w http.ResponseWriter, r *http.Request, dest any, fn func(ctx context.Context, session domain.Session) (any, error)) {
	if err := decodeJSON(r, dest); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.withSession(w, r, fn)
}
