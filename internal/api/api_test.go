package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aivmlib-go/aivmlib/internal/catalog"
	"github.com/aivmlib-go/aivmlib/internal/config"
	"github.com/aivmlib-go/aivmlib/internal/container"
	"github.com/aivmlib-go/aivmlib/internal/limiter"
	"github.com/aivmlib-go/aivmlib/internal/queue"
	"github.com/aivmlib-go/aivmlib/internal/schema"
	"github.com/aivmlib-go/aivmlib/internal/schema/schematest"
	"github.com/aivmlib-go/aivmlib/internal/storage"
)

type testServer struct {
	handler http.Handler
	cfg     *config.Config
	metrics *limiter.Metrics
	cat     *catalog.Catalog
}

func newTestServer(t *testing.T, mutate func(*config.Config, *Deps)) *testServer {
	t.Helper()
	cfg := config.Default()

	cat, err := catalog.Open(catalog.Options{InMemory: true, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	store, err := storage.NewLocal(t.TempDir(), 0)
	require.NoError(t, err)
	pool := queue.NewPool(queue.Config{Workers: 2})
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	deps := Deps{
		Metrics: limiter.NewMetrics(),
		Catalog: cat,
		Indexer: catalog.NewIndexer(cat, store, pool, zerolog.Nop()),
		Version: "test",
	}
	if mutate != nil {
		mutate(cfg, &deps)
	}
	return &testServer{
		handler: NewRouter(cfg, deps, zerolog.New(io.Discard)),
		cfg:     cfg,
		metrics: deps.Metrics,
		cat:     cat,
	}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func encodedModel(t *testing.T) []byte {
	t.Helper()
	data, err := container.Encode(schematest.Safetensors(), schematest.Metadata(t))
	require.NoError(t, err)
	return data
}

type formPart struct {
	name, filename string
	data           []byte
}

func multipartRequest(t *testing.T, target string, parts ...formPart) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		if p.filename != "" {
			fw, err := mw.CreateFormFile(p.name, p.filename)
			require.NoError(t, err)
			_, err = fw.Write(p.data)
			require.NoError(t, err)
			continue
		}
		require.NoError(t, mw.WriteField(p.name, string(p.data)))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) schema.ErrorResponse {
	t.Helper()
	var resp schema.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rr := s.do(httptest.NewRequest(method, "/v1/health", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "{\"status\":\"ok\",\"version\":\"test\"}\n", rr.Body.String())
		assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	}
}

func TestHealthMsgpack(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Accept", "application/msgpack")

	rr := s.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/msgpack", rr.Header().Get("Content-Type"))

	var resp schema.HealthResponse
	require.NoError(t, msgpack.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestRequestIDPreserved(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc")
	assert.Equal(t, "abc", s.do(req).Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(httptest.NewRequest(http.MethodOptions, "/v1/aivm", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config, _ *Deps) { cfg.Auth.APIKey = "secret" })

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic secret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, s.do(req).Code)
		})
	}

	// Metrics stay reachable for scrapers.
	assert.Equal(t, http.StatusOK, s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil)).Code)
}

func TestManifestSchema(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(httptest.NewRequest(http.MethodGet, "/v1/schema/manifest", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/schema+json", rr.Header().Get("Content-Type"))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &doc))
	assert.Equal(t, "object", doc["type"])
	assert.Contains(t, doc["properties"], "speakers")
}

func TestDecode(t *testing.T) {
	s := newTestServer(t, nil)
	data := encodedModel(t)

	t.Run("raw body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/metadata/decode", bytes.NewReader(data))
		req.Header.Set("Content-Type", "application/octet-stream")
		rr := s.do(req)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		md, err := schema.ParseMetadata(rr.Body.Bytes())
		require.NoError(t, err)
		assert.Equal(t, schematest.ModelUUID, md.Manifest.UUID)
		assert.Equal(t, schematest.StyleVectors, md.StyleVectors)
		assert.Contains(t, rr.Body.String(), "<for>")
	})

	t.Run("multipart", func(t *testing.T) {
		rr := s.do(multipartRequest(t, "/v1/metadata/decode", formPart{name: "model", filename: "m.aivm", data: data}))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	})

	t.Run("multipart without model", func(t *testing.T) {
		rr := s.do(multipartRequest(t, "/v1/metadata/decode", formPart{name: "other", data: []byte("x")}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("empty body", func(t *testing.T) {
		rr := s.do(httptest.NewRequest(http.MethodPost, "/v1/metadata/decode", nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("bare safetensors", func(t *testing.T) {
		rr := s.do(httptest.NewRequest(http.MethodPost, "/v1/metadata/decode", bytes.NewReader(schematest.Safetensors())))
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Equal(t, "manifest_not_found", decodeError(t, rr).Kind)
	})

	t.Run("truncated", func(t *testing.T) {
		rr := s.do(httptest.NewRequest(http.MethodPost, "/v1/metadata/decode", bytes.NewReader([]byte{1, 2, 3})))
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		assert.Equal(t, "truncated", decodeError(t, rr).Kind)
	})
}

func TestDecodeTooLarge(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config, _ *Deps) { cfg.Limits.MaxModelBytes = 16 })
	rr := s.do(httptest.NewRequest(http.MethodPost, "/v1/metadata/decode", bytes.NewReader(encodedModel(t))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestInspect(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(httptest.NewRequest(http.MethodPost, "/v1/metadata/inspect", bytes.NewReader(encodedModel(t))))
	require.Equal(t, http.StatusOK, rr.Code)

	var layout container.Layout
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &layout))
	assert.Equal(t, 1, layout.TensorCount)
	assert.Equal(t, 8, layout.PayloadSize)
	assert.True(t, layout.HasAIVMMetadata())
}

func TestSynthesize(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("ok", func(t *testing.T) {
		rr := s.do(multipartRequest(t, "/v1/metadata/synthesize",
			formPart{name: "architecture", data: []byte(schema.ModelArchitectureStyleBertVITS2JPExtra)},
			formPart{name: "hyper_parameters", filename: "config.json", data: []byte(schematest.HyperParametersJSON)},
			formPart{name: "style_vectors", filename: "style_vectors.npy", data: schematest.StyleVectors},
			formPart{name: "content_ids", data: []byte("true")},
		))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		md, err := schema.ParseMetadata(rr.Body.Bytes())
		require.NoError(t, err)
		require.Len(t, md.Manifest.Speakers, 2)
		assert.Equal(t, "Zundamon", md.Manifest.Speakers[0].Name)
		assert.Equal(t, schematest.StyleVectors, md.StyleVectors)
	})

	t.Run("missing style vectors", func(t *testing.T) {
		rr := s.do(multipartRequest(t, "/v1/metadata/synthesize",
			formPart{name: "architecture", data: []byte(schema.ModelArchitectureStyleBertVITS2)},
			formPart{name: "hyper_parameters", data: []byte(schematest.HyperParametersJSON)},
		))
		require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
		resp := decodeError(t, rr)
		assert.Equal(t, "validation", resp.Kind)
		require.Len(t, resp.Issues, 1)
		assert.Equal(t, "style_vectors", resp.Issues[0].Field)
	})

	t.Run("missing hyperparameters", func(t *testing.T) {
		rr := s.do(multipartRequest(t, "/v1/metadata/synthesize",
			formPart{name: "architecture", data: []byte(schema.ModelArchitectureStyleBertVITS2)},
		))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("bad content_ids", func(t *testing.T) {
		rr := s.do(multipartRequest(t, "/v1/metadata/synthesize",
			formPart{name: "architecture", data: []byte(schema.ModelArchitectureStyleBertVITS2)},
			formPart{name: "hyper_parameters", data: []byte(schematest.HyperParametersJSON)},
			formPart{name: "content_ids", data: []byte("maybe")},
		))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/metadata/synthesize", bytes.NewReader([]byte("{}")))
		req.Header.Set("Content-Type", "application/json")
		assert.Equal(t, http.StatusUnsupportedMediaType, s.do(req).Code)
	})
}

func metadataJSON(t *testing.T) []byte {
	t.Helper()
	data, err := schema.Marshal(schematest.Metadata(t))
	require.NoError(t, err)
	return data
}

func TestEncode(t *testing.T) {
	s := newTestServer(t, nil)

	rr := s.do(multipartRequest(t, "/v1/aivm",
		formPart{name: "model", filename: "model.safetensors", data: schematest.Safetensors()},
		formPart{name: "metadata", filename: "metadata.json", data: metadataJSON(t)},
	))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/octet-stream", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "test-model.aivm")

	md, err := container.Decode(rr.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, schematest.ModelUUID, md.Manifest.UUID)

	snap := s.metrics.Snapshot()
	assert.EqualValues(t, 1, snap.Encodes)
	assert.EqualValues(t, rr.Body.Len(), snap.Bytes)
}

func TestEncodeErrors(t *testing.T) {
	s := newTestServer(t, nil)

	invalid := schematest.Metadata(t)
	invalid.Manifest.Name = ""
	invalidJSON, err := schema.Marshal(invalid)
	require.NoError(t, err)

	tests := []struct {
		name  string
		parts []formPart
		want  int
	}{
		{"missing model", []formPart{{name: "metadata", data: metadataJSON(t)}}, http.StatusBadRequest},
		{"missing metadata", []formPart{{name: "model", filename: "m", data: schematest.Safetensors()}}, http.StatusBadRequest},
		{"malformed metadata", []formPart{{name: "model", filename: "m", data: schematest.Safetensors()}, {name: "metadata", data: []byte("{")}}, http.StatusUnprocessableEntity},
		{"invalid manifest", []formPart{{name: "model", filename: "m", data: schematest.Safetensors()}, {name: "metadata", data: invalidJSON}}, http.StatusUnprocessableEntity},
		{"not a container", []formPart{{name: "model", filename: "m", data: []byte("xx")}, {name: "metadata", data: metadataJSON(t)}}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(multipartRequest(t, "/v1/aivm", tt.parts...))
			assert.Equal(t, tt.want, rr.Code, rr.Body.String())
		})
	}
}

func TestEncodeBusy(t *testing.T) {
	lim := limiter.New(limiter.Config{MaxConcurrent: 1})
	s := newTestServer(t, func(_ *config.Config, d *Deps) { d.Limiter = lim })

	release, err := lim.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	rr := s.do(multipartRequest(t, "/v1/aivm",
		formPart{name: "model", filename: "m", data: schematest.Safetensors()},
		formPart{name: "metadata", data: metadataJSON(t)},
	))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

func TestModels(t *testing.T) {
	s := newTestServer(t, nil)
	data := encodedModel(t)
	id := schematest.ModelUUID.String()

	rr := s.do(httptest.NewRequest(http.MethodPost, "/v1/models", bytes.NewReader(data)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var list []catalog.Entry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].UUID)

	req := httptest.NewRequest(http.MethodGet, "/v1/models/"+id, nil)
	req.Header.Set("Accept", "application/msgpack")
	rr = s.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	var e catalog.Entry
	require.NoError(t, msgpack.Unmarshal(rr.Body.Bytes(), &e))
	assert.Equal(t, "test-model", e.Name)
	assert.Len(t, e.Speakers, 2)

	rr = s.do(httptest.NewRequest(http.MethodGet, "/v1/models/"+id+"/file", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, data, rr.Body.Bytes())

	rr = s.do(httptest.NewRequest(http.MethodDelete, "/v1/models/"+id, nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = s.do(httptest.NewRequest(http.MethodGet, "/v1/models/"+id, nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = s.do(httptest.NewRequest(http.MethodGet, "/v1/models/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestModelsScan(t *testing.T) {
	s := newTestServer(t, nil)
	// Upload stores the file; deleting the entry leaves it for the scan to find.
	rr := s.do(httptest.NewRequest(http.MethodPost, "/v1/models", bytes.NewReader(encodedModel(t))))
	require.Equal(t, http.StatusCreated, rr.Code)
	require.NoError(t, s.cat.Delete(context.Background(), schematest.ModelUUID))

	rr = s.do(httptest.NewRequest(http.MethodPost, "/v1/models/scan", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var results []ScanResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Error)

	_, err := s.cat.Get(context.Background(), schematest.ModelUUID)
	assert.NoError(t, err)
}

func TestModelsWithoutCatalog(t *testing.T) {
	s := newTestServer(t, func(_ *config.Config, d *Deps) {
		d.Catalog = nil
		d.Indexer = nil
	})
	rr := s.do(httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	rr := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "aivm_encodes_total 0")
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	h := LoggingMiddleware(zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hi"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.EqualValues(t, http.StatusTeapot, line["status"])
	assert.EqualValues(t, 2, line["bytes"])
	assert.Equal(t, "/x", line["path"])
}

func TestWriteFailureInternal(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteFailure(rr, httptest.NewRequest(http.MethodGet, "/", nil), context.DeadlineExceeded)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Internal server error", decodeError(t, rr).Detail)
}

func TestErrorKind(t *testing.T) {
	_, err := container.Decode(schematest.Safetensors())
	assert.Equal(t, "manifest_not_found", ErrorKind(err))
	assert.Equal(t, "validation", ErrorKind(schema.NewValidationError("manifest", "name", "required")))
	assert.Empty(t, ErrorKind(io.EOF))
}
