package server

import (
	"errors"
	"log/slog"
	"net/http"

	"ShardSearch/internal/budget"
	"ShardSearch/internal/coordinator"
	"ShardSearch/internal/indexing"
	"ShardSearch/internal/plan"
)

// Handler holds HTTP handlers for the ShardSearch API.
type Handler struct {
	mgr     *CollectionManager
	logger  *slog.Logger
	version string
}

// NewHandler creates a new Handler backed by the given CollectionManager.
func NewHandler(mgr *CollectionManager, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{mgr: mgr, logger: logger, version: version}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /ready", h.handleReady)

	// Collections.
	mux.HandleFunc("GET /collections", h.handleListCollections)
	mux.HandleFunc("GET /collections/{name}", h.handleGetCollection)

	// Ingestion.
	mux.HandleFunc("POST /collections/{name}/documents", h.handleAddDocuments)
	mux.HandleFunc("POST /collections/{name}/commit", h.handleCommit)

	// Client search, fanned out over all shards.
	mux.HandleFunc("GET /collections/{name}/select", h.handleSelect)

	// Shard requests from coordinators.
	mux.HandleFunc("POST /collections/{name}/shards/{shard}/replicas/{replica}/select", h.handleShardSelect)
	mux.HandleFunc("GET /collections/{name}/shards/{shard}/replicas/{replica}/health", h.handleShardHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

// handleReady reports ready once at least one collection is served.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if len(h.mgr.Names()) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Collections ---

func (h *Handler) handleListCollections(w http.ResponseWriter, r *http.Request) {
	names := h.mgr.Names()
	infos := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		col, err := h.mgr.Collection(name)
		if err != nil {
			continue
		}
		infos = append(infos, col.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": infos})
}

func (h *Handler) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	col, ok := h.collection(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, col.Info())
}

// --- Ingestion ---

func (h *Handler) handleAddDocuments(w http.ResponseWriter, r *http.Request) {
	col, ok := h.collection(w, r)
	if !ok {
		return
	}

	var req struct {
		Documents []map[string]any `json:"documents"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "no documents provided")
		return
	}

	docs := make([]indexing.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = indexing.Document{Fields: d}
	}

	if err := col.Add(docs); err != nil {
		switch {
		case errors.Is(err, ErrReadOnly):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, indexing.ErrBufferFull):
			writeError(w, http.StatusServiceUnavailable, "write buffer full, commit first")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "accepted",
		"documents_received": len(docs),
	})
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	col, ok := h.collection(w, r)
	if !ok {
		return
	}

	gens, err := col.Commit()
	if err != nil {
		if errors.Is(err, ErrReadOnly) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "commit failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "committed",
		"generations": gens,
	})
}

// --- Search ---

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	col, ok := h.collection(w, r)
	if !ok {
		return
	}

	resp, err := col.Search(r.Context(), r.URL.Query())
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrBadRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, coordinator.ErrShardFailed):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			h.logger.Error("search failed", "collection", col.Name, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleShardSelect(w http.ResponseWriter, r *http.Request) {
	col, ok := h.collection(w, r)
	if !ok {
		return
	}
	node, err := col.Node(r.PathValue("shard"), r.PathValue("replica"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var p plan.QueryPlan
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := node.Search(r.Context(), &p)
	if err != nil {
		switch {
		case errors.Is(err, budget.ErrInvalidLimit), errors.Is(err, budget.ErrCPUTimeUnsupported):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleShardHealth(w http.ResponseWriter, r *http.Request) {
	col, ok := h.collection(w, r)
	if !ok {
		return
	}
	node, err := col.Node(r.PathValue("shard"), r.PathValue("replica"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, node.Health())
}

// collection resolves the {name} path value, writing a 404 when unknown.
func (h *Handler) collection(w http.ResponseWriter, r *http.Request) (*Collection, bool) {
	col, err := h.mgr.Collection(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return col, true
}
