package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"financeiro/backend/internal/domain"
	"financeiro/backend/internal/service"
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

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	actor, _ := service.ActorFromContext(r.Context())
	writeJSON(w, http.StatusOK, a.auth.Me(actor))
}

func (a *API) handleSwitchStore(w http.ResponseWriter, r *http.Request) {
	var req domain.SwitchStoreRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, _ := service.ActorFromContext(r.Context())
	resp, err := a.auth.SwitchStore(actor, req.StoreID)
	if err != nil {
		if errors.Is(err, errInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListUsers(r.Context())})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.UserCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateUser(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (a *API) handleListCategories(w http.ResponseWriter, r *http.Request) {
	activeOnly := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("active")), "true")
	categories, err := a.service.ListCategories(r.Context(), activeOnly)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func (a *API) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req domain.CategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	category, err := a.service.CreateCategory(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"category": category})
}

func (a *API) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.CategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	category, err := a.service.UpdateCategory(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"category": category})
}

func (a *API) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.DeleteCategory(r.Context(), id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := a.service.ListSuppliers(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
}

func (a *API) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req domain.SupplierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	supplier, err := a.service.CreateSupplier(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"supplier": supplier})
}

func (a *API) handleListPayables(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathInt64(r, "storeID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	query := r.URL.Query()
	filter := domain.PayableFilter{
		StoreID: storeID,
		Status:  domain.PayableStatus(strings.ToUpper(strings.TrimSpace(query.Get("status")))),
		Limit:   parsePositiveLimit(query.Get("limit"), 200, 1000),
	}
	if raw := strings.TrimSpace(query.Get("month")); raw != "" {
		if filter.Month, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid month %q", raw))
			return
		}
	}
	if raw := strings.TrimSpace(query.Get("year")); raw != "" {
		if filter.Year, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid year %q", raw))
			return
		}
	}

	payables, err := a.service.ListPayables(r.Context(), filter)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payables": payables})
}

func (a *API) handleCreatePayable(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathInt64(r, "storeID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.PayableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.StoreID = storeID

	payable, err := a.service.CreatePayable(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"payable": payable})
}

func (a *API) handleGetPayable(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payable, err := a.service.GetPayable(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payable": payable})
}

func (a *API) handleUpdatePayable(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.PayableRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payable, err := a.service.UpdatePayable(r.Context(), id, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payable": payable})
}

func (a *API) handlePayableStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.PayableStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payable, err := a.service.SetPayableStatus(r.Context(), id, req.Status)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"payable": payable})
}

func (a *API) handleDeletePayable(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.service.DeletePayable(r.Context(), id); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListFeeProfiles(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathInt64(r, "storeID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	activeOnly := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("active")), "true")
	profiles, err := a.service.ListFeeProfiles(r.Context(), storeID, activeOnly)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fee_profiles": profiles})
}

func (a *API) handleCreateFeeProfile(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathInt64(r, "storeID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.FeeProfileCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.StoreID = storeID

	profile, err := a.service.CreateFeeProfile(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"fee_profile": profile})
}

func (a *API) handleListBankAccounts(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathInt64(r, "storeID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	accounts, err := a.service.ListBankAccounts(r.Context(), storeID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bank_accounts": accounts})
}

func (a *API) handleCreateBankAccount(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathInt64(r, "storeID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.BankAccountCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.StoreID = storeID

	account, err := a.service.CreateBankAccount(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bank_account": account})
}

func (a *API) handleToggleFeeProfile(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req domain.FeeProfileToggleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	profile, err := a.service.SetFeeProfileActive(r.Context(), id, req.Active)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fee_profile": profile})
}

func (a *API) handleListClosings(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathInt64(r, "storeID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	year := time.Now().UTC().Year()
	if raw := strings.TrimSpace(r.URL.Query().Get("year")); raw != "" {
		if year, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid year %q", raw))
			return
		}
	}
	closings, err := a.service.ListClosings(r.Context(), storeID, year)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closings": closings})
}

func (a *API) handleGetClosing(w http.ResponseWriter, r *http.Request) {
	storeID, month, year, err := pathPeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := a.service.GetClosing(r.Context(), storeID, month, year)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closing": record})
}

func (a *API) handleExecuteClosing(w http.ResponseWriter, r *http.Request) {
	storeID, month, year, err := pathPeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := a.service.ExecuteClosing(r.Context(), storeID, month, year)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if resp.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (a *API) handleConcludeClosing(w http.ResponseWriter, r *http.Request) {
	storeID, month, year, err := pathPeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := a.service.ConcludeClosing(r.Context(), storeID, month, year)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closing": record})
}

func (a *API) handleReopenClosing(w http.ResponseWriter, r *http.Request) {
	storeID, month, year, err := pathPeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	record, err := a.service.ReopenClosing(r.Context(), storeID, month, year)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"closing": record})
}

func (a *API) handleExportClosing(w http.ResponseWriter, r *http.Request) {
	storeID, month, year, err := pathPeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	content, fileName, err := a.service.ExportClosing(r.Context(), storeID, month, year)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

func (a *API) handlePeriodLock(w http.ResponseWriter, r *http.Request) {
	storeID, month, year, err := pathPeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	locked, err := a.service.IsPeriodLocked(r.Context(), storeID, month, year)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"store_id": storeID,
		"month":    month,
		"year":     year,
		"locked":   locked,
	})
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	storeID, month, year, err := pathPeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	summary, err := a.service.Dashboard(r.Context(), storeID, month, year)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	storeID, err := pathInt64(r, "storeID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), storeID, date, limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
