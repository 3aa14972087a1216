/*
handlers.go - HTTP API handlers for the finance core

PURPOSE:
  Exposes the customer ledger and the partner request queue via REST.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Partner queue:
    POST   /api/partner/requests            Enqueue a partner operation (202)
    GET    /api/partner/requests/{ref}      Track a request by reference

  Queue operations:
    GET    /api/queue/items                 List items (filter by status)
    GET    /api/queue/log                   Processed-operation log
    POST   /api/queue/run                   Trigger an immediate drain

  Ledger:
    GET    /api/accounts/{customerId}/balance       Account summary
    GET    /api/accounts/{customerId}/transactions  Ledger rows
    POST   /api/accounts/{accountId}/rebuild        Re-derive cached aggregates

  Tenants:
    GET    /api/tenants                     List tenant configurations
    PUT    /api/tenants/{hotelId}           Upsert tenant configuration

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (reconciler, enqueuer, worker)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (idempotency, request ref reuse)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.
  Deployments front this with the platform gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/atlaspms/finance-core/ledger"
	"github.com/atlaspms/finance-core/queue"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for the HTTP layer.
type Handler struct {
	Reconciler *ledger.Reconciler
	Enqueuer   *queue.Enqueuer
	Worker     *queue.Worker
	Queue      queue.Store

	// DefaultPartner fills requests that name no partner.
	DefaultPartner string
}

func NewHandler(rec *ledger.Reconciler, enq *queue.Enqueuer, worker *queue.Worker, qs queue.Store, defaultPartner string) *Handler {
	return &Handler{
		Reconciler:     rec,
		Enqueuer:       enq,
		Worker:         worker,
		Queue:          qs,
		DefaultPartner: defaultPartner,
	}
}

// =============================================================================
// PARTNER REQUEST HANDLERS
// =============================================================================

// EnqueuePartnerRequest accepts a partner operation for asynchronous
// processing and answers 202 with the tracking reference.
// POST /api/partner/requests
func (h *Handler) EnqueuePartnerRequest(w http.ResponseWriter, r *http.Request) {
	var req PartnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Operation == "" {
		writeError(w, http.StatusBadRequest, "operation is required", nil)
		return
	}
	if req.HotelID <= 0 {
		writeError(w, http.StatusBadRequest, "hotelId is required", nil)
		return
	}
	if req.Partner == "" {
		req.Partner = h.DefaultPartner
	}

	if enabled, err := h.queueEnabled(r, req.HotelID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve tenant", err)
		return
	} else if !enabled {
		writeError(w, http.StatusForbidden, "Queueing is disabled for this hotel", queue.ErrQueueDisabled)
		return
	}

	item, inserted, err := h.Enqueuer.Enqueue(r.Context(), queue.Request{
		Partner:    req.Partner,
		Operation:  req.Operation,
		HotelID:    req.HotelID,
		TargetID:   req.TargetID,
		Payload:    req.Payload,
		RequestRef: req.RequestRef,
	})
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrUnknownOperation):
			writeError(w, http.StatusBadRequest, "Unknown operation", err)
		case errors.Is(err, queue.ErrInvalidPayload):
			writeError(w, http.StatusBadRequest, "Invalid payload", err)
		case errors.Is(err, queue.ErrRequestRefConflict):
			writeError(w, http.StatusConflict, "Request reference already used with a different payload", err)
		default:
			writeError(w, http.StatusInternalServerError, "Failed to enqueue request", err)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, QueuedResponse{
		Queued:     true,
		Duplicate:  !inserted,
		RequestRef: item.RequestRef,
		Operation:  item.Operation,
		HotelID:    item.HotelID,
	})
}

// queueEnabled resolves the tenant's queue switch; hotels with no tenant
// row inherit the platform default (enabled).
func (h *Handler) queueEnabled(r *http.Request, hotelID int64) (bool, error) {
	tenants, err := h.Queue.Tenants(r.Context())
	if err != nil {
		return false, err
	}
	for _, t := range tenants {
		if t.HotelID == hotelID {
			return t.QueueEnabled, nil
		}
	}
	return true, nil
}

// GetPartnerRequest tracks a request by its reference.
// GET /api/partner/requests/{ref}
func (h *Handler) GetPartnerRequest(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	item, err := h.Queue.ItemByRequestRef(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to look up request", err)
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "Request not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toQueueItemDTO(*item))
}

// =============================================================================
// QUEUE OPERATION HANDLERS
// =============================================================================

// ListQueueItems lists a tenant's queue items, optionally by status.
// GET /api/queue/items?hotelId=1&status=Failed&limit=50
func (h *Handler) ListQueueItems(w http.ResponseWriter, r *http.Request) {
	hotelID, err := queryInt64(r, "hotelId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "hotelId is required", err)
		return
	}
	status := queue.Status(r.URL.Query().Get("status"))
	limit := queryIntDefault(r, "limit", 100)

	items, err := h.Queue.ItemsByStatus(r.Context(), hotelID, status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list queue items", err)
		return
	}
	dtos := make([]QueueItemDTO, 0, len(items))
	for _, item := range items {
		dtos = append(dtos, toQueueItemDTO(item))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListQueueLog lists a tenant's processed-operation log, newest first.
// GET /api/queue/log?hotelId=1&limit=100
func (h *Handler) ListQueueLog(w http.ResponseWriter, r *http.Request) {
	hotelID, err := queryInt64(r, "hotelId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "hotelId is required", err)
		return
	}
	limit := queryIntDefault(r, "limit", 100)

	entries, err := h.Queue.Logs(r.Context(), hotelID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list log", err)
		return
	}
	dtos := make([]LogEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toLogEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunQueue triggers an immediate drain of all enabled tenants.
// POST /api/queue/run
func (h *Handler) RunQueue(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Worker.RunCycle(r.Context(), true)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Drain failed", err)
		return
	}
	writeJSON(w, http.StatusOK, DrainStatsDTO{
		TenantsPolled: stats.TenantsPolled,
		StaleReleased: stats.StaleReleased,
		Claimed:       stats.Claimed,
		Succeeded:     stats.Succeeded,
		Retried:       stats.Retried,
		Failed:        stats.Failed,
	})
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetBalance returns the customer's account summary for a hotel/currency.
// GET /api/accounts/{customerId}/balance?hotelId=1&currency=SAR
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "customerId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid customer id", err)
		return
	}
	hotelID, err := queryInt64(r, "hotelId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "hotelId is required", err)
		return
	}
	currency := r.URL.Query().Get("currency")

	acct, err := h.Reconciler.Balance(r.Context(), customerID, hotelID, currency)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(acct))
}

// GetTransactions lists the customer's ledger rows in posting order.
// GET /api/accounts/{customerId}/transactions?hotelId=1&currency=SAR
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "customerId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid customer id", err)
		return
	}
	hotelID, err := queryInt64(r, "hotelId")
	if err != nil {
		writeError(w, http.StatusBadRequest, "hotelId is required", err)
		return
	}
	currency := r.URL.Query().Get("currency")

	txs, err := h.Reconciler.Transactions(r.Context(), customerID, hotelID, currency)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get transactions", err)
		return
	}
	dtos := make([]TransactionDTO, 0, len(txs))
	for _, t := range txs {
		dtos = append(dtos, toTransactionDTO(t))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RebuildAccount re-derives the cached account aggregates from the rows.
// POST /api/accounts/{accountId}/rebuild
func (h *Handler) RebuildAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "accountId"))
	acct, err := h.Reconciler.Rebuild(r.Context(), id)
	if err != nil {
		if ledger.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Account not found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Rebuild failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(acct))
}

// =============================================================================
// TENANT HANDLERS
// =============================================================================

// ListTenants lists all tenant queue configurations.
// GET /api/tenants
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.Queue.Tenants(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tenants", err)
		return
	}
	dtos := make([]TenantDTO, 0, len(tenants))
	for _, t := range tenants {
		dtos = append(dtos, toTenantDTO(t))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveTenant upserts a tenant's queue configuration.
// PUT /api/tenants/{hotelId}
func (h *Handler) SaveTenant(w http.ResponseWriter, r *http.Request) {
	hotelID, err := strconv.ParseInt(chi.URLParam(r, "hotelId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid hotel id", err)
		return
	}
	var dto TenantDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tenant := queue.Tenant{
		HotelID:       hotelID,
		Code:          dto.Code,
		QueueEnabled:  dto.QueueEnabled,
		WorkerEnabled: dto.WorkerEnabled,
		PollInterval:  time.Duration(dto.PollIntervalSeconds) * time.Second,
		BatchSize:     dto.BatchSize,
	}
	if err := h.Queue.SaveTenant(r.Context(), &tenant); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save tenant", err)
		return
	}
	writeJSON(w, http.StatusOK, toTenantDTO(tenant))
}

// =============================================================================
// HEALTH
// =============================================================================

// Health answers liveness probes.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func queryInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
}

func queryIntDefault(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
