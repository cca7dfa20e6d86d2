package distribution

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cesta-solidaria/cesta/internal/families"
	"github.com/cesta-solidaria/cesta/internal/platform/httpx"
	"github.com/cesta-solidaria/cesta/internal/shared"
)

type keyStore struct {
	keys map[string]bool
}

func (k *keyStore) CheckAndInsert(_ context.Context, key, _ string) error {
	if k.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	k.keys[key] = true
	return nil
}

func (k *keyStore) Delete(_ context.Context, key string) error {
	delete(k.keys, key)
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *fixture) {
	t.Helper()
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, f.svc, &keyStore{keys: map[string]bool{}})
	r := chi.NewRouter()
	r.Route("/deliveries", h.MountRoutes)
	return r, f
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func problemCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var p httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p.Code
}

func TestHandlerDeliverAndReverse(t *testing.T) {
	router, f := newTestRouter(t)
	familyID := f.family(families.StatusApproved, true)
	f.repo.setReady(1)

	rec := do(t, router, http.MethodPost, "/deliveries", `{"family_id":"`+familyID.String()+`","note":"sede"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var d Delivery
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	require.Equal(t, familyID, d.FamilyID)

	rec = do(t, router, http.MethodPost, "/deliveries", `{"family_id":"`+familyID.String()+`"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "NO_BASKETS_READY", problemCode(t, rec))

	rec = do(t, router, http.MethodGet, "/deliveries/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var current struct {
		Month      string              `json:"month"`
		Deliveries map[string]Delivery `json:"deliveries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &current))
	require.Equal(t, "2026-05-01", current.Month)
	require.Contains(t, current.Deliveries, familyID.String())

	rec = do(t, router, http.MethodPost, "/deliveries/"+d.ID.String()+"/reverse", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodPost, "/deliveries/"+d.ID.String()+"/reverse", `{"note":"again"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "DELIVERY_ALREADY_REVERSED", problemCode(t, rec))

	rec = do(t, router, http.MethodGet, "/deliveries/history/"+familyID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		Deliveries []Delivery `json:"deliveries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Deliveries, 1)
	require.Equal(t, StateReversed, history.Deliveries[0].State())
}

func TestHandlerIdempotencyKey(t *testing.T) {
	router, f := newTestRouter(t)
	familyID := f.family(families.StatusApproved, true)
	f.repo.setReady(3)
	body := `{"family_id":"` + familyID.String() + `"}`

	rec := do(t, router, http.MethodPost, "/deliveries", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodPost, "/deliveries", body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "IDEMPOTENCY_CONFLICT", problemCode(t, rec))
	require.Equal(t, int64(2), f.repo.readyQty())
}

func TestHandlerErrors(t *testing.T) {
	router, f := newTestRouter(t)
	pending := f.family(families.StatusPending, true)

	rec := do(t, router, http.MethodPost, "/deliveries", `{"family_id":"nope"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodPost, "/deliveries", `{"family_id":"`+uuid.NewString()+`"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "FAMILY_NOT_FOUND", problemCode(t, rec))

	rec = do(t, router, http.MethodPost, "/deliveries", `{"family_id":"`+pending.String()+`"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "FAMILY_NOT_APPROVED", problemCode(t, rec))

	rec = do(t, router, http.MethodPost, "/deliveries/not-a-uuid/reverse", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/deliveries/eligibility/"+pending.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var e Eligibility
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	require.False(t, e.Eligible)
	require.Equal(t, "FAMILY_NOT_APPROVED", e.Reason)
}
