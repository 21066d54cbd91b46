package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-freight-overages/internal/apperrors"
	"github.com/pesio-ai/be-freight-overages/internal/engine"
	"github.com/pesio-ai/be-freight-overages/internal/logger"
	"github.com/pesio-ai/be-freight-overages/internal/repository"
	"github.com/pesio-ai/be-freight-overages/internal/service"
)

// Minimal in-memory collaborators; the service-level tests cover the
// orchestration, these only exercise the HTTP surface and error mapping.

type memStore struct {
	mu     sync.Mutex
	orders map[string]*repository.Order
	nextID int
}

func (s *memStore) Create(_ context.Context, order *repository.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	order.ID = fmt.Sprintf("ord-%d", s.nextID)
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) List(_ context.Context, _ repository.OrderFilter) ([]*repository.Order, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Order
	for _, o := range s.orders {
		cp := *o
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (s *memStore) ListPendingForActor(_ context.Context, _ repository.Actor) ([]*repository.Order, error) {
	return nil, nil
}

func (s *memStore) ApplyTransition(_ context.Context, id string, expectedLevel, newLevel int, newStatus repository.OrderStatus) (*repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	if o.ApprovalLevel != expectedLevel {
		return nil, apperrors.New(apperrors.ErrCodeConflict, "level moved")
	}
	o.ApprovalLevel = newLevel
	o.Status = newStatus
	cp := *o
	return &cp, nil
}

func (s *memStore) SetRecoveryEvidence(_ context.Context, id, fileRef string) (*repository.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	o.RecoveryEvidence = &fileRef
	cp := *o
	return &cp, nil
}

type memDirectory struct{ actors map[string]*repository.Actor }

func (d *memDirectory) Resolve(_ context.Context, userID string) (*repository.Actor, error) {
	a, ok := d.actors[userID]
	if !ok {
		return nil, apperrors.NotFound("user", userID)
	}
	return a, nil
}

func (d *memDirectory) UsersAtLevel(_ context.Context, _ int, _ string) ([]string, error) {
	return []string{"approver"}, nil
}

type memAudit struct{}

func (memAudit) Append(_ context.Context, _ *repository.AuditEntry) error { return nil }
func (memAudit) GetByOrderID(_ context.Context, _ string) ([]*repository.AuditEntry, error) {
	return nil, nil
}

type memNotifier struct{}

func (memNotifier) PublishOrderEvent(_ context.Context, _, _, _ string, _ []string, _ map[string]interface{}) {
}

func newTestHandler(t *testing.T) (*HTTPHandler, *memStore) {
	t.Helper()
	store := &memStore{orders: make(map[string]*repository.Order)}
	dir := &memDirectory{actors: map[string]*repository.Actor{
		"u1": {ID: "u1", Level: 1},
	}}
	log := &logger.Logger{Logger: zerolog.Nop()}
	svc := service.NewApprovalService(store, dir, memAudit{}, memNotifier{}, log)
	return NewHTTPHandler(svc, log), store
}

func seedOrder(t *testing.T, store *memStore, level, required int) *repository.Order {
	t.Helper()
	order := &repository.Order{
		OrderNumber:   "FO-2026-007",
		CreatorID:     "u-creator",
		CreatorPlant:  "HAM",
		OverageAmount: 99_000,
		Currency:      "EUR",
		ApprovalLevel: level,
		RequiredLevel: required,
		Status:        engine.StatusForLevel(level, required),
	}
	require.NoError(t, store.Create(context.Background(), order))
	return order
}

func TestApproveOrder_HTTP(t *testing.T) {
	h, store := newTestHandler(t)
	order := seedOrder(t, store, 0, 3)

	body := fmt.Sprintf(`{"id":%q,"actor_id":"u1"}`, order.ID)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/approve", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.ApproveOrder(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ApprovalLevel int     `json:"approval_level"`
		Status        string  `json:"status"`
		PendingRole   *string `json:"pending_role"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.ApprovalLevel)
	assert.Equal(t, "in_review", resp.Status)
	require.NotNil(t, resp.PendingRole)
	assert.Equal(t, "Controlling", *resp.PendingRole)
}

func TestApproveOrder_ErrorMapping(t *testing.T) {
	h, store := newTestHandler(t)
	pending := seedOrder(t, store, 1, 3)  // u1 is not the next level
	terminal := seedOrder(t, store, 3, 3) // fully approved
	rejected := seedOrder(t, store, engine.LevelRejected, 3)

	tests := []struct {
		name       string
		orderID    string
		wantStatus int
		wantCode   string
	}{
		{"ineligible actor", pending.ID, http.StatusForbidden, "INELIGIBLE_ACTOR"},
		{"already approved", terminal.ID, http.StatusConflict, "ALREADY_TERMINAL"},
		{"already rejected", rejected.ID, http.StatusConflict, "ALREADY_TERMINAL"},
		{"unknown order", "ord-999", http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := fmt.Sprintf(`{"id":%q,"actor_id":"u1"}`, tt.orderID)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/approve", strings.NewReader(body))
			rec := httptest.NewRecorder()

			h.ApproveOrder(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp["code"])
		})
	}
}

func TestRejectOrder_HTTP(t *testing.T) {
	h, store := newTestHandler(t)
	order := seedOrder(t, store, 0, 3)

	// Missing reason is a 400.
	body := fmt.Sprintf(`{"id":%q,"actor_id":"u1"}`, order.ID)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/reject", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.RejectOrder(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body = fmt.Sprintf(`{"id":%q,"actor_id":"u1","reason":"duplicate filing"}`, order.ID)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/orders/reject", strings.NewReader(body))
	rec = httptest.NewRecorder()
	h.RejectOrder(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ApprovalLevel int    `json:"approval_level"`
		Status        string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, engine.LevelRejected, resp.ApprovalLevel)
	assert.Equal(t, "rejected", resp.Status)
}

func TestAttachEvidence_HTTP(t *testing.T) {
	h, store := newTestHandler(t)
	order := seedOrder(t, store, 0, 3)

	// No recovery file on record → 400 with the domain code.
	body := fmt.Sprintf(`{"id":%q,"actor_id":"u1","file_ref":"s3://evidence.pdf"}`, order.ID)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/evidence", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.AttachEvidence(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "NO_RECOVERY_FILE", errResp["code"])

	file := "s3://recovery/claim.pdf"
	store.mu.Lock()
	store.orders[order.ID].RecoveryFile = &file
	store.mu.Unlock()

	req = httptest.NewRequest(http.MethodPost, "/api/v1/orders/evidence", strings.NewReader(body))
	rec = httptest.NewRecorder()
	h.AttachEvidence(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Evidence      *string `json:"recovery_evidence"`
		NeedsEvidence bool    `json:"needs_evidence"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Evidence)
	assert.Equal(t, "s3://evidence.pdf", *resp.Evidence)
	assert.False(t, resp.NeedsEvidence)
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/approve", nil)
	rec := httptest.NewRecorder()
	h.ApproveOrder(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
