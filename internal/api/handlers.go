package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/looper/internal/model"
	"github.com/hyperengineering/looper/internal/store"
	"github.com/hyperengineering/looper/internal/studio"
	"github.com/hyperengineering/looper/internal/validation"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Config configures the API handlers.
type Config struct {
	// APIKey enables bearer authentication when set.
	APIKey string
	// CORSOrigin is the allowed browser origin; empty allows any.
	CORSOrigin string
	Version    string
}

// Handler implements the API handlers
type Handler struct {
	studio *studio.Studio
	feed   *store.Feed
	cfg    Config
}

// NewHandler creates a Handler serving st and long-polling feed.
func NewHandler(st *studio.Studio, feed *store.Feed, cfg Config) *Handler {
	return &Handler{studio: st, feed: feed, cfg: cfg}
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	NextUpdateID int64  `json:"next_update_id"`
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	next, err := h.feed.Log().NextID(r.Context())
	if err != nil {
		slog.Error("health check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Update log unavailable")
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:       "healthy",
		Version:      h.cfg.Version,
		NextUpdateID: next,
	})
}

// GetSong handles GET /api/song
func (h *Handler) GetSong(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.studio.Song())
}

// PatchSong handles PATCH /api/song
func (h *Handler) PatchSong(w http.ResponseWriter, r *http.Request) {
	var patch model.SongPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if errs := validation.ValidateSongPatch(patch); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Song patch failed validation", errs)
		return
	}
	if err := h.studio.PatchSong(r.Context(), ClientIDFromContext(r.Context()), patch); err != nil {
		MapStudioError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestartTransport handles POST /api/restart_transport
func (h *Handler) RestartTransport(w http.ResponseWriter, r *http.Request) {
	if err := h.studio.RestartTransport(r.Context(), ClientIDFromContext(r.Context())); err != nil {
		MapStudioError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// createRequest is the body of every create endpoint. Type is read for
// takes only.
type createRequest struct {
	Name string         `json:"name"`
	Type model.TakeKind `json:"type"`
}

// validateName writes a 422 and returns false when name is unusable.
func validateName(w http.ResponseWriter, r *http.Request, name string) bool {
	if err := validation.ValidateName("name", name); err != nil {
		WriteProblemWithErrors(w, r, "Name failed validation", []validation.ValidationError{*err})
		return false
	}
	return true
}

// ListSynths handles GET /api/synths
func (h *Handler) ListSynths(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.studio.Synths())
}

// CreateSynth handles POST /api/synths
func (h *Handler) CreateSynth(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validateName(w, r, req.Name) {
		return
	}
	syn, err := h.studio.CreateSynth(r.Context(), ClientIDFromContext(r.Context()), req.Name)
	if err != nil {
		MapStudioError(w, r, err)
		return
	}
	writeCreated(w, fmt.Sprintf("/api/synths/%d", syn.ID), syn)
}

// PatchSynths handles PATCH /api/synths
func (h *Handler) PatchSynths(w http.ResponseWriter, r *http.Request) {
	var patches []model.SynthPatch
	if !decodeJSON(w, r, &patches) {
		return
	}
	if err := h.studio.PatchSynths(r.Context(), ClientIDFromContext(r.Context()), patches); err != nil {
		MapStudioError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSynth handles GET /api/synths/{synthID}
func (h *Handler) GetSynth(w http.ResponseWriter, r *http.Request) {
	sid, ok := urlIDs(w, r, "synthID")
	if !ok {
		return
	}
	syn, err := h.studio.Synth(sid[0])
	if err != nil {
		MapStudioError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syn)
}

// PatchSynth handles PATCH /api/synths/{synthID}
func (h *Handler) PatchSynth(w http.ResponseWriter, r *http.Request) {
	ids, ok := urlIDs(w, r, "synthID")
	if !ok {
		return
	}
	var patch model.SynthPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if !pinID(w, r, &patch.ID, ids[0]) {
		return
	}
	if err := h.studio.PatchSynths(r.Context(), ClientIDFromContext(r.Context()), []model.SynthPatch{patch}); err != nil {
		MapStudioError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListChains handles GET /api/synths/{synthID}/chains
func (h *Handler) ListChains(w http.ResponseWriter, r *http.Request) {
	ids, ok := urlIDs(w, r, "synthID")
	if !ok {
		return
	}
	syn, err := h.studio.Synth(ids[0])
	if err != nil {
		MapStudioError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, syn.Chains)
}

// CreateChain handles POST /api/synths/{synthID}/chains
func (h *Handler) CreateChain(w http.ResponseWriter, r *http.Request) {
	ids, ok := urlIDs(w, r, "synthID")
	if !ok {
		return
	}
	var req createRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validateName(w, r, req.Name) {
		return
	}
	c, err := h.studio.CreateChain(r.Context(), ClientIDFromContext(r.Context()), ids[0], req.Name)
	if err != nil {
		MapStudioError(w, r, err)
		return
	}
	writeCreated(w, fmt.Sprintf("/api/synths/%d/chains/%d", ids[0], c.ID), c)
}

// PatchChains handles PATCH /api/synths/{synthID}/chains
func (h *Handler) PatchChains(w http.ResponseWriter, r *http.Request) {
	ids, ok := urlIDs(w, r, "synthID")
	if !ok {
		return
	}
	var patches []model.ChainPatch
	if !decodeJSON(w, r, &patches) {
		return
	}
	if err := h.studio.PatchChains(r.Context(), ClientIDFromContext(r.Context()), ids[0], patches); err != nil {
		MapStudioError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetChain handles GET /api/synths/{synthID}/chains/{chainID}
func (h *Handler) GetChain(w http.ResponseWriter, r *http.Request) {
	ids, ok := urlIDs(w, r, "synthID", "chainID")
	if !ok {
		return
	}
	c, err := h.studio.Chain(ids[0], ids[1])
	if err != nil {
		MapStudioError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// PatchChain handles PATCH /api/synths/{synthID}/chains/{chainID}
func (h *Handler) PatchChain(w http.ResponseWriter, r *http.Request) {
	ids, ok := urlIDs(w, r, "synthID", "chainID")
	if !ok {
		return
	}
	var patch model.ChainPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if !pinID(w, r, &patch.ID, ids[1]) {
		return
	}
	if err := h.studio.PatchChains(r.Context(), ClientIDFromContext(r.Context()), ids[0], []model.ChainPatch{patch}); err != nil {
		MapStudioError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTakes handles GET /api/synths/{synthID}/chains/{chainID}/takes
func (h *Handler) ListTakes(w http.ResponseWriter, r *http.Request) {
	ids, ok := urlIDs(w, r, "synthID", "chainID")
	if !ok {
		return
	}
	c, err := h.studio.Chain(ids[0], ids[1])
	if err != nil {
		MapStudioError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c.Takes)
}

// CreateTake handles POST /api/synths/{synthID}/chains/{chainID}/takes
func (h *Handler) CreateTake(w http.ResponseWriter, r *http.Request) {
	ids, ok := urlIDs(w, r, "synthID", "chainID")
	if !ok {
		return
	}
	var req createRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if errs := validation.ValidateCreateTake(req.Name, req.Type); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Take failed validation", errs)
		return
	}
	t, err := h.studio.CreateTake(r.Context(), ClientIDFromContext(r.Context()), ids[0], ids[1], req.Name, req.Type)
	if err != nil {
		MapStudioError(w, r, err)
		return
	}
	writeCreated(w, fmt.Sprintf("/api/synths/%d/chains/%d/takes/%d", ids[0], ids[1], t.ID), t)
}

// PatchTakes handles PATCH /api/synths/{synthID}/chains/{chainID}/takes
func (h *Handler) PatchTakes(w http.ResponseWriter, r *http.Request) {
	ids, ok := urlIDs(w, r, "synthID", "chainID")
	if !ok {
		return
	}
	var patches []model.TakePatch
	if !decodeJSON(w, r, &patches) {
		return
	}
	if err := h.studio.PatchTakes(r.Context(), ClientIDFromContext(r.Context()), ids[0], ids[1], patches); err != nil {
		MapStudioError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetTake handles GET /api/synths/{synthID}/chains/{chainID}/takes/{takeID}
func (h *Handler) GetTake(w http.ResponseWriter, r *http.Request) {
	ids, ok := urlIDs(w, r, "synthID", "chainID", "takeID")
	if !ok {
		return
	}
	t, err := h.studio.Take(ids[0], ids[1], ids[2])
	if err != nil {
		MapStudioError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// PatchTake handles PATCH /api/synths/{synthID}/chains/{chainID}/takes/{takeID}
func (h *Handler) PatchTake(w http.ResponseWriter, r *http.Request) {
	ids, ok := urlIDs(w, r, "synthID", "chainID", "takeID")
	if !ok {
		return
	}
	var patch model.TakePatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	if !pinID(w, r, &patch.ID, ids[2]) {
		return
	}
	if err := h.studio.PatchTakes(r.Context(), ClientIDFromContext(r.Context()), ids[0], ids[1], []model.TakePatch{patch}); err != nil {
		MapStudioError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FinishRecording handles POST .../takes/{takeID}/finish_recording
func (h *Handler) FinishRecording(w http.ResponseWriter, r *http.Request) {
	ids, ok := urlIDs(w, r, "synthID", "chainID", "takeID")
	if !ok {
		return
	}
	if err := h.studio.FinishRecording(r.Context(), ClientIDFromContext(r.Context()), ids[0], ids[1], ids[2]); err != nil {
		MapStudioError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// urlIDs parses the named integer path parameters. An unparsable id names
// nothing, so it is reported as not found.
func urlIDs(w http.ResponseWriter, r *http.Request, names ...string) ([]int64, bool) {
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		raw := chi.URLParam(r, name)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			WriteProblem(w, r, http.StatusNotFound, fmt.Sprintf("Invalid %s: %q", name, raw))
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// pinID fills a single-entity patch's id from the path, rejecting a body id
// that disagrees.
func pinID(w http.ResponseWriter, r *http.Request, id **int64, want int64) bool {
	if *id != nil && **id != want {
		WriteProblem(w, r, http.StatusUnprocessableEntity,
			fmt.Sprintf("Body id %d does not match path id %d", **id, want))
		return false
	}
	*id = model.ID(want)
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "component", "api", "error", err)
	}
}

func writeCreated(w http.ResponseWriter, location string, v any) {
	w.Header().Set("Location", location)
	writeJSON(w, http.StatusCreated, v)
}
