package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pesio-ai/be-freight-overages/internal/apperrors"
	"github.com/pesio-ai/be-freight-overages/internal/engine"
	"github.com/pesio-ai/be-freight-overages/internal/logger"
	"github.com/pesio-ai/be-freight-overages/internal/repository"
	"github.com/pesio-ai/be-freight-overages/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	service *service.ApprovalService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(service *service.ApprovalService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: service,
		log:     log,
	}
}

// orderView is the JSON representation of an order, enriched with the
// derived display fields the engine computes.
type orderView struct {
	ID            string    `json:"id"`
	OrderNumber   string    `json:"order_number"`
	CreatorID     string    `json:"creator_id"`
	CreatorPlant  string    `json:"creator_plant"`
	Carrier       *string   `json:"carrier,omitempty"`
	Route         *string   `json:"route,omitempty"`
	Reason        *string   `json:"reason,omitempty"`
	OverageAmount int64     `json:"overage_amount_cents"`
	Currency      string    `json:"currency"`
	ApprovalLevel int       `json:"approval_level"`
	RequiredLevel int       `json:"required_level"`
	Status        string    `json:"status"`
	PendingRole   *string   `json:"pending_role,omitempty"`
	RecoveryFile  *string   `json:"recovery_file,omitempty"`
	Evidence      *string   `json:"recovery_evidence,omitempty"`
	NeedsEvidence bool      `json:"needs_evidence"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toOrderView(o *repository.Order) *orderView {
	v := &orderView{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		CreatorID:     o.CreatorID,
		CreatorPlant:  o.CreatorPlant,
		Carrier:       o.Carrier,
		Route:         o.Route,
		Reason:        o.Reason,
		OverageAmount: o.OverageAmount,
		Currency:      o.Currency,
		ApprovalLevel: o.ApprovalLevel,
		RequiredLevel: o.RequiredLevel,
		Status:        string(o.Status),
		RecoveryFile:  o.RecoveryFile,
		Evidence:      o.RecoveryEvidence,
		NeedsEvidence: engine.NeedsEvidence(o),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if !engine.Terminal(o) {
		role := engine.PendingRole(o.ApprovalLevel)
		v.PendingRole = &role
	}
	return v
}

// CreateOrder handles order intake HTTP requests
func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		OrderNumber   string  `json:"order_number"`
		CreatorID     string  `json:"creator_id"`
		CreatorPlant  string  `json:"creator_plant"`
		Carrier       *string `json:"carrier"`
		Route         *string `json:"route"`
		Reason        *string `json:"reason"`
		OverageAmount int64   `json:"overage_amount_cents"`
		Currency      string  `json:"currency"`
		RequiredLevel int     `json:"required_level"`
		RecoveryFile  *string `json:"recovery_file"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), &service.CreateOrderRequest{
		OrderNumber:   req.OrderNumber,
		CreatorID:     req.CreatorID,
		CreatorPlant:  req.CreatorPlant,
		Carrier:       req.Carrier,
		Route:         req.Route,
		Reason:        req.Reason,
		OverageAmount: req.OverageAmount,
		Currency:      req.Currency,
		RequiredLevel: req.RequiredLevel,
		RecoveryFile:  req.RecoveryFile,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toOrderView(order))
}

// GetOrder handles get order HTTP requests
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orderID := r.URL.Query().Get("id")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderView(order))
}

// ListOrders handles list orders HTTP requests
func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := repository.OrderFilter{}

	if status := r.URL.Query().Get("status"); status != "" {
		s := repository.OrderStatus(status)
		filter.Status = &s
	}
	if plant := r.URL.Query().Get("plant"); plant != "" {
		filter.Plant = &plant
	}
	if creator := r.URL.Query().Get("creator_id"); creator != "" {
		filter.CreatorID = &creator
	}

	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if filter.Page < 1 {
		filter.Page = 1
	}
	filter.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 50
	}

	orders, total, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]*orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toOrderView(o))
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders":   views,
		"total":    total,
		"page":     filter.Page,
		"pageSize": filter.PageSize,
	})
}

// ApproveOrder handles approve HTTP requests
func (h *HTTPHandler) ApproveOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID      string `json:"id"`
		ActorID string `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.ActorID == "" {
		http.Error(w, "Order ID and actor ID are required", http.StatusBadRequest)
		return
	}

	order, err := h.service.Approve(r.Context(), req.ID, req.ActorID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderView(order))
}

// RejectOrder handles reject HTTP requests
func (h *HTTPHandler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID      string `json:"id"`
		ActorID string `json:"actor_id"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.ActorID == "" {
		http.Error(w, "Order ID and actor ID are required", http.StatusBadRequest)
		return
	}

	order, err := h.service.Reject(r.Context(), req.ID, req.ActorID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderView(order))
}

// AttachEvidence handles recovery evidence HTTP requests
func (h *HTTPHandler) AttachEvidence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID      string `json:"id"`
		ActorID string `json:"actor_id"`
		FileRef string `json:"file_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	order, err := h.service.AttachEvidence(r.Context(), req.ID, req.ActorID, req.FileRef)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toOrderView(order))
}

// ListPending handles pending-approvals HTTP requests
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actorID := r.URL.Query().Get("actor_id")
	if actorID == "" {
		http.Error(w, "Actor ID is required", http.StatusBadRequest)
		return
	}

	orders, err := h.service.ListPendingForActor(r.Context(), actorID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]*orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toOrderView(o))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"orders": views})
}

// GetHistory handles audit trail HTTP requests
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orderID := r.URL.Query().Get("id")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	entries, err := h.service.GetHistory(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// ── Response helpers ──────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response body")
	}
}

// writeError maps the error taxonomy onto HTTP statuses. Clients can
// tell "your approval did not count" (4xx with a code) apart from a
// server-side failure (500).
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeNoRecoveryFile:
		status = http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeConflict, apperrors.ErrCodeAlreadyTerminal:
		status = http.StatusConflict
	case apperrors.ErrCodeUnauthorized, apperrors.ErrCodeIneligibleActor:
		status = http.StatusForbidden
	}

	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
}
