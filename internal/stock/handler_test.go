package stock

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
	"github.com/stretchr/testify/require"

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

func newTestRouter(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, svc, &keyStore{keys: map[string]bool{}})
	r := chi.NewRouter()
	r.Route("/stock", h.MountRoutes)
	return r, svc
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

func TestHandlerRecordMoveFlow(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/stock/items", `{"name":"rice","unit":"kg"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var item Item
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))

	rec = do(t, router, http.MethodPost, "/stock/moves", `{"item_id":"`+item.ID.String()+`","direction":"IN","qty":"5"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var res MoveResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Balance.Equal(dec("5")))

	rec = do(t, router, http.MethodPost, "/stock/moves", `{"item_id":"`+item.ID.String()+`","direction":"OUT","qty":6}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "INSUFFICIENT_STOCK", problemCode(t, rec))

	rec = do(t, router, http.MethodPost, "/stock/moves", `{"item_id":"`+item.ID.String()+`","direction":"IN","qty":0}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "INVALID_QUANTITY", problemCode(t, rec))

	rec = do(t, router, http.MethodPost, "/stock/moves", `{"item_id":"not-a-uuid","direction":"IN","qty":1}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "VALIDATION_FAILED", problemCode(t, rec))
}

func TestHandlerAssemblyFlow(t *testing.T) {
	router, svc := newTestRouter(t)
	seedRiceAndBeans(t, svc)

	rec := do(t, router, http.MethodGet, "/stock/assembly/max", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"max_assemblable":2}`, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/stock/assembly", `{"count":0}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "INVALID_QUANTITY", problemCode(t, rec))

	rec = do(t, router, http.MethodPost, "/stock/assembly", `{"count":2}`, "Idempotency-Key", "asm-1")
	require.Equal(t, http.StatusCreated, rec.Code)
	var result AssemblyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.EqualValues(t, 2, result.Ready)

	rec = do(t, router, http.MethodPost, "/stock/assembly", `{"count":2}`, "Idempotency-Key", "asm-1")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "IDEMPOTENCY_CONFLICT", problemCode(t, rec))

	rec = do(t, router, http.MethodPost, "/stock/assembly", `{}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "INSUFFICIENT_STOCK", problemCode(t, rec))

	rec = do(t, router, http.MethodGet, "/stock/assembly/shortfall?count=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerRecipeEndpoints(t *testing.T) {
	router, svc := newTestRouter(t)
	rice := seedItem(t, svc, "rice", "4")

	rec := do(t, router, http.MethodPut, "/stock/recipe/"+rice.ID.String(), `{"qty_needed":"2"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, http.MethodGet, "/stock/recipe", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Recipe []RecipeEntry `json:"recipe"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Recipe, 1)

	rec = do(t, router, http.MethodPut, "/stock/recipe/"+rice.ID.String(), `{"qty_needed":"-1"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, http.MethodPut, "/stock/recipe/nope", `{"qty_needed":"1"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
