package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exodus/internal/migrate"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

type fakeSource struct {
	status    migrate.Status
	pending   []string
	rollback  []string
	lastCount int
	err       error
}

func (s *fakeSource) Status(ctx context.Context) (migrate.Status, error) { return s.status, s.err }

func (s *fakeSource) MigrationsToRun(ctx context.Context) ([]string, error) { return s.pending, s.err }

func (s *fakeSource) MigrationsToRollback(ctx context.Context, count int) ([]string, error) {
	s.lastCount = count
	return s.rollback, s.err
}

func newTestServer(db Pinger, src StatusSource) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(":0", logger, db, src).Routes()
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealth(t *testing.T) {
	rec, body := get(t, newTestServer(fakePinger{}, &fakeSource{}), "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = get(t, newTestServer(fakePinger{err: errors.New("down")}, &fakeSource{}), "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unhealthy", body["error"].(map[string]any)["code"])
}

func TestStatus(t *testing.T) {
	ranAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{status: migrate.Status{
		Applied: []migrate.Record{{File: "1_a.sql", Batch: 1, RanAt: ranAt}},
		Pending: []string{"2_b.sql"},
	}}
	rec, body := get(t, newTestServer(fakePinger{}, src), "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	applied := body["applied"].([]any)
	require.Len(t, applied, 1)
	assert.Equal(t, "1_a.sql", applied[0].(map[string]any)["file"])
	assert.Equal(t, "2024-05-01T12:00:00Z", applied[0].(map[string]any)["ran_at"])
	assert.Equal(t, []any{"2_b.sql"}, body["pending"])
}

func TestStatusEmptyListsAreArrays(t *testing.T) {
	_, body := get(t, newTestServer(fakePinger{}, &fakeSource{}), "/api/v1/status")
	assert.Equal(t, []any{}, body["applied"])
	assert.Equal(t, []any{}, body["pending"])

	_, body = get(t, newTestServer(fakePinger{}, &fakeSource{}), "/api/v1/migrations/pending")
	assert.Equal(t, []any{}, body["migrations"])
}

func TestStatusError(t *testing.T) {
	rec, body := get(t, newTestServer(fakePinger{}, &fakeSource{err: errors.New("boom")}), "/api/v1/status")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "status_failed", body["error"].(map[string]any)["code"])
}

func TestRollbackPreview(t *testing.T) {
	src := &fakeSource{rollback: []string{"3_c.sql", "2_b.sql"}}
	h := newTestServer(fakePinger{}, src)

	rec, body := get(t, h, "/api/v1/migrations/rollback?last=2")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, src.lastCount)
	assert.Equal(t, []any{"3_c.sql", "2_b.sql"}, body["migrations"])

	_, _ = get(t, h, "/api/v1/migrations/rollback")
	assert.Equal(t, 0, src.lastCount)

	rec, _ = get(t, h, "/api/v1/migrations/rollback?last=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
