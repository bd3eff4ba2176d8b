package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	loopsync "github.com/hyperengineering/looper/internal/sync"
)

// Updates handles GET /api/updates?since=N&seconds=S
//
// The request is held until the log holds an update with id >= since, or
// for S seconds (default 10, at most 60). An expired window answers an
// empty array.
func (h *Handler) Updates(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	since, err := queryInt(r, "since", 0)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	seconds, err := queryInt(r, "seconds", loopsync.DefaultPollSeconds)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	seconds = min(max(seconds, 0), loopsync.MaxPollSeconds)

	updates, err := h.feed.Wait(r.Context(), since, time.Duration(seconds)*time.Second)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Client went away; nobody reads the response.
			return
		}
		slog.Error("updates failed",
			"component", "api",
			"action", "updates",
			"since", since,
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, updates)

	slog.Debug("updates served",
		"component", "api",
		"action", "updates",
		"since", since,
		"count", len(updates),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func queryInt(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}
