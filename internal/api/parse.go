package api

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
)

// multipartMemory is how much of a form is buffered before spilling to disk.
const multipartMemory = 32 << 20

// HTTPError represents an error with an associated HTTP status code.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

func badRequest(msg string) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Message: msg}
}

// IsHTTPError checks whether an error is an *HTTPError.
func IsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

func mediaType(r *http.Request) string {
	ct := r.Header.Get("Content-Type")
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(ct)
	}
	return mt
}

// limitBody caps the request body at limit bytes; 0 means no cap.
func limitBody(w http.ResponseWriter, r *http.Request, limit int64) {
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
}

// ReadModelBody returns the container bytes of a request. The body is either
// the raw file or a multipart form with a "model" part.
func ReadModelBody(r *http.Request) ([]byte, error) {
	if mediaType(r) == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, multipartError(err)
		}
		data, ok, err := formBytes(r.MultipartForm, "model")
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, badRequest("Missing form field: model")
		}
		return data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, badRequest("Invalid request body")
	}
	if len(data) == 0 {
		return nil, badRequest("Empty request body")
	}
	return data, nil
}

// ParseForm parses a multipart form or rejects other content types.
func ParseForm(r *http.Request) (*multipart.Form, error) {
	if mediaType(r) != "multipart/form-data" {
		return nil, &HTTPError{Status: http.StatusUnsupportedMediaType, Message: "Expected multipart/form-data"}
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, multipartError(err)
	}
	return r.MultipartForm, nil
}

func multipartError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return badRequest("Invalid multipart form")
}

// formBytes returns the named part, read from an uploaded file or from a plain
// field. ok is false when the form has neither.
func formBytes(form *multipart.Form, name string) (data []byte, ok bool, err error) {
	if files := form.File[name]; len(files) > 0 {
		f, err := files[0].Open()
		if err != nil {
			return nil, false, badRequest("Invalid file upload: " + name)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, false, badRequest("Invalid file upload: " + name)
		}
		return data, true, nil
	}
	if values := form.Value[name]; len(values) > 0 {
		return []byte(values[0]), true, nil
	}
	return nil, false, nil
}

func formString(form *multipart.Form, name string) string {
	if values := form.Value[name]; len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}

func formBool(form *multipart.Form, name string) (bool, error) {
	v := formString(form, name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest("Invalid boolean field: " + name)
	}
	return b, nil
}
