package api

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aivmlib-go/aivmlib/internal/catalog"
	"github.com/aivmlib-go/aivmlib/internal/container"
	"github.com/aivmlib-go/aivmlib/internal/limiter"
	"github.com/aivmlib-go/aivmlib/internal/schema"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeMsgpack = "application/msgpack"
	contentTypeBinary  = "application/octet-stream"
)

// WriteError writes an error response with only a detail message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, schema.ErrorResponse{Detail: message})
}

// WriteJSON writes v as JSON without HTML escaping, so manifest text comes
// back as it was stored.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// WriteMsgpack writes v as MessagePack.
func WriteMsgpack(w http.ResponseWriter, status int, v any) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to encode response")
		return
	}
	w.Header().Set("Content-Type", contentTypeMsgpack)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// Write picks JSON or MessagePack from the request's Accept header.
func Write(w http.ResponseWriter, r *http.Request, status int, v any) {
	if wantsMsgpack(r) {
		WriteMsgpack(w, status, v)
		return
	}
	WriteJSON(w, status, v)
}

// WriteModel sends container bytes as a download.
func WriteModel(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", contentTypeBinary)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func wantsMsgpack(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == contentTypeMsgpack {
			return true
		}
	}
	return false
}

var formatKinds = []struct {
	err  error
	kind string
}{
	{container.ErrTruncated, "truncated"},
	{container.ErrHeaderSize, "header_size"},
	{container.ErrNotContainer, "not_container"},
	{container.ErrManifestNotFound, "manifest_not_found"},
	{container.ErrInvalidManifest, "invalid_manifest"},
	{container.ErrUnsupportedArchitecture, "unsupported_architecture"},
	{container.ErrHyperParametersNotFound, "hyperparameters_not_found"},
	{container.ErrInvalidHyperParameters, "invalid_hyperparameters"},
	{container.ErrInvalidStyleVectors, "invalid_style_vectors"},
}

// ErrorKind returns the machine-readable kind reported for err.
func ErrorKind(err error) string {
	var fe *container.FormatError
	if errors.As(err, &fe) {
		for _, k := range formatKinds {
			if errors.Is(fe.Kind, k.err) {
				return k.kind
			}
		}
	}
	if schema.IsValidationError(err) {
		return "validation"
	}
	return ""
}

// WriteFailure maps err to a status code and error body.
func WriteFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	resp := schema.ErrorResponse{Detail: err.Error(), Kind: ErrorKind(err)}
	if ve, ok := schema.AsValidationError(err); ok {
		resp.Issues = ve.Issues
	}

	var httpErr *HTTPError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &httpErr):
		status = httpErr.Status
		resp.Detail = httpErr.Message
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
		resp.Detail = "Request body too large"
	case container.IsFormatError(err), schema.IsValidationError(err):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrNotFound):
		status = http.StatusNotFound
		resp.Detail = "Model not found"
	case errors.Is(err, limiter.ErrLimitExceeded), errors.Is(err, limiter.ErrAcquireTimeout):
		status = http.StatusServiceUnavailable
		resp.Detail = "Too many concurrent encodes"
		w.Header().Set("Retry-After", "1")
	default:
		resp.Detail = "Internal server error"
	}
	Write(w, r, status, resp)
}
