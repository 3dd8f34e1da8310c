package container

import (
	"errors"
	"fmt"
)

// ErrTruncated indicates the input is shorter than the length prefix.
var ErrTruncated = errors.New("file is too short")

// ErrHeaderSize indicates the declared header length is out of range.
var ErrHeaderSize = errors.New("header length out of range")

// ErrNotContainer indicates the header is not a JSON object of the expected shape.
var ErrNotContainer = errors.New("not a container of this format")

// ErrManifestNotFound indicates the header carries no manifest.
var ErrManifestNotFound = errors.New("manifest not found")

// ErrInvalidManifest indicates the manifest failed validation.
var ErrInvalidManifest = errors.New("invalid manifest")

// ErrUnsupportedArchitecture indicates no hyperparameters schema exists for the architecture.
var ErrUnsupportedArchitecture = errors.New("unsupported architecture")

// ErrHyperParametersNotFound indicates the header carries no hyperparameters.
var ErrHyperParametersNotFound = errors.New("hyperparameters not found")

// ErrInvalidHyperParameters indicates the hyperparameters failed validation.
var ErrInvalidHyperParameters = errors.New("invalid hyperparameters")

// ErrInvalidStyleVectors indicates the style vectors are not valid Base64.
var ErrInvalidStyleVectors = errors.New("invalid style vectors")

// FormatError reports why a byte buffer could not be read as a container.
// Kind is one of the Err* sentinels; Err is the underlying cause, if any.
type FormatError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *FormatError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsFormatError checks if an error is a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}

func formatError(kind, cause error, format string, args ...any) *FormatError {
	return &FormatError{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: cause}
}
