package httpserver

import (
	"context"
	"net/http"
	"strconv"

	"exodus/internal/migrate"
)

// StatusSource is the read side of migrate.Engine.
type StatusSource interface {
	Status(ctx context.Context) (migrate.Status, error)
	MigrationsToRun(ctx context.Context) ([]string, error)
	MigrationsToRollback(ctx context.Context, count int) ([]string, error)
}

type StatusHandler struct {
	engine StatusSource
	logger requestLogger
}

func NewStatusHandler(engine StatusSource, logger requestLogger) *StatusHandler {
	return &StatusHandler{engine: engine, logger: logger}
}

func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Status(r.Context())
	if err != nil {
		h.logger.Error("load status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "status_failed", "failed to load migration status")
		return
	}
	if st.Applied == nil {
		st.Applied = []migrate.Record{}
	}
	if st.Pending == nil {
		st.Pending = []string{}
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *StatusHandler) Pending(w http.ResponseWriter, r *http.Request) {
	files, err := h.engine.MigrationsToRun(r.Context())
	if err != nil {
		h.logger.Error("list pending failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list pending migrations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"migrations": nonNil(files)})
}

// RollbackPreview lists what "rollback --last N" would reverse, newest first.
func (h *StatusHandler) RollbackPreview(w http.ResponseWriter, r *http.Request) {
	count := 0
	if raw := r.URL.Query().Get("last"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_last", "last must be a non-negative integer")
			return
		}
		count = n
	}
	files, err := h.engine.MigrationsToRollback(r.Context(), count)
	if err != nil {
		h.logger.Error("list rollback failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list rollback migrations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"migrations": nonNil(files)})
}

func nonNil(files []string) []string {
	if files == nil {
		return []string{}
	}
	return files
}
