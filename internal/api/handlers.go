package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aivmlib-go/aivmlib/internal/catalog"
	"github.com/aivmlib-go/aivmlib/internal/config"
	"github.com/aivmlib-go/aivmlib/internal/container"
	"github.com/aivmlib-go/aivmlib/internal/limiter"
	"github.com/aivmlib-go/aivmlib/internal/schema"
	"github.com/aivmlib-go/aivmlib/internal/synth"
)

// Handler serves the HTTP API.
type Handler struct {
	cfg     *config.Config
	limiter *limiter.Limiter
	catalog *catalog.Catalog
	indexer *catalog.Indexer
	version string
	logger  zerolog.Logger
}

// Deps are the services a Handler needs. Catalog and Indexer may be nil, in
// which case the model routes respond 503.
type Deps struct {
	Limiter *limiter.Limiter
	Metrics *limiter.Metrics
	Catalog *catalog.Catalog
	Indexer *catalog.Indexer
	Version string
}

// NewHandler creates a Handler.
func NewHandler(cfg *config.Config, deps Deps, logger zerolog.Logger) *Handler {
	lim := deps.Limiter
	if lim == nil {
		lim = limiter.New(limiter.Config{
			MaxConcurrent: cfg.Limits.MaxConcurrentEncodes,
			QueueTimeout:  cfg.Limits.QueueTimeout,
			Metrics:       deps.Metrics,
		})
	}
	return &Handler{
		cfg:     cfg,
		limiter: lim,
		catalog: deps.Catalog,
		indexer: deps.Indexer,
		version: deps.Version,
		logger:  logger,
	}
}

// HandleHealth handles GET and POST /v1/health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	Write(w, r, http.StatusOK, schema.HealthResponse{Status: "ok", Version: h.version})
}

// HandleManifestSchema handles GET /v1/schema/manifest.
func (h *Handler) HandleManifestSchema(w http.ResponseWriter, r *http.Request) {
	s, err := schema.ManifestJSONSchema()
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	data, err := schema.Marshal(s)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleDecode handles POST /v1/metadata/decode.
func (h *Handler) HandleDecode(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r, h.cfg.Limits.MaxModelBytes)
	data, err := ReadModelBody(r)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	md, err := container.Decode(data)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, md)
}

// HandleInspect handles POST /v1/metadata/inspect.
func (h *Handler) HandleInspect(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r, h.cfg.Limits.MaxModelBytes)
	data, err := ReadModelBody(r)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	layout, err := container.Inspect(data)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	Write(w, r, http.StatusOK, layout)
}

// HandleSynthesize handles POST /v1/metadata/synthesize. The form carries
// architecture, hyper_parameters, style_vectors and optionally content_ids.
func (h *Handler) HandleSynthesize(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r, h.cfg.Limits.MaxModelBytes)
	form, err := ParseForm(r)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}

	arch := schema.ModelArchitecture(formString(form, "architecture"))
	hp, ok, err := formBytes(form, "hyper_parameters")
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	if !ok {
		WriteError(w, http.StatusBadRequest, "Missing form field: hyper_parameters")
		return
	}
	sv, _, err := formBytes(form, "style_vectors")
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	contentIDs, err := formBool(form, "content_ids")
	if err != nil {
		WriteFailure(w, r, err)
		return
	}

	var opts []synth.Option
	if contentIDs {
		opts = append(opts, synth.WithContentDerivedIDs())
	}
	md, err := synth.Synthesize(arch, hp, sv, opts...)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, md)
}

// HandleEncode handles POST /v1/aivm. The form carries the model file and its
// metadata as JSON; the response is the encoded container.
func (h *Handler) HandleEncode(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r, h.cfg.Limits.MaxModelBytes)
	form, err := ParseForm(r)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	model, ok, err := formBytes(form, "model")
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	if !ok {
		WriteError(w, http.StatusBadRequest, "Missing form field: model")
		return
	}
	raw, ok, err := formBytes(form, "metadata")
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	if !ok {
		WriteError(w, http.StatusBadRequest, "Missing form field: metadata")
		return
	}
	md, err := schema.ParseMetadata(raw)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}

	var out []byte
	err = h.limiter.Do(r.Context(), func(context.Context) (int64, error) {
		var err error
		out, err = container.Encode(model, md)
		return int64(len(out)), err
	})
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	h.logger.Debug().
		Str("uuid", md.Manifest.UUID.String()).
		Int("size", len(out)).
		Msg("container encoded")
	WriteModel(w, md.Manifest.Name+".aivm", out)
}

func (h *Handler) requireCatalog(w http.ResponseWriter) bool {
	if h.catalog == nil || h.indexer == nil {
		WriteError(w, http.StatusServiceUnavailable, "Model catalog is not configured")
		return false
	}
	return true
}

func modelID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		return uuid.Nil, badRequest("Invalid model UUID")
	}
	return id, nil
}

// HandleListModels handles GET /v1/models.
func (h *Handler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}
	entries, err := h.catalog.List(r.Context())
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	Write(w, r, http.StatusOK, entries)
}

// HandleGetModel handles GET /v1/models/{uuid}.
func (h *Handler) HandleGetModel(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}
	id, err := modelID(r)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	e, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	Write(w, r, http.StatusOK, e)
}

// HandleModelFile handles GET /v1/models/{uuid}/file.
func (h *Handler) HandleModelFile(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}
	id, err := modelID(r)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	e, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	data, err := h.indexer.Open(r.Context(), e)
	if err != nil {
		h.logger.Error().Err(err).Str("source", e.Source).Msg("read model file")
		WriteFailure(w, r, err)
		return
	}
	WriteModel(w, e.UUID+catalog.Extension, data)
}

// HandleAddModel handles POST /v1/models. The container is stored and indexed.
func (h *Handler) HandleAddModel(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}
	limitBody(w, r, h.cfg.Limits.MaxModelBytes)
	data, err := ReadModelBody(r)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	e, err := h.indexer.Add(r.Context(), data)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	Write(w, r, http.StatusCreated, e)
}

// HandleDeleteModel handles DELETE /v1/models/{uuid}. The stored file is kept.
func (h *Handler) HandleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}
	id, err := modelID(r)
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	if err := h.catalog.Delete(r.Context(), id); err != nil {
		WriteFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ScanResult reports one file of a scan.
type ScanResult struct {
	Path     string `json:"path" msgpack:"path"`
	Error    string `json:"error,omitempty" msgpack:"error,omitempty"`
	Duration string `json:"duration" msgpack:"duration"`
}

// HandleScan handles POST /v1/models/scan?prefix=...
func (h *Handler) HandleScan(w http.ResponseWriter, r *http.Request) {
	if !h.requireCatalog(w) {
		return
	}
	results, err := h.indexer.Scan(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		WriteFailure(w, r, err)
		return
	}
	out := make([]ScanResult, len(results))
	for i, res := range results {
		out[i] = ScanResult{Path: res.Name, Duration: res.Duration.Round(time.Millisecond).String()}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
		}
	}
	Write(w, r, http.StatusOK, out)
}
