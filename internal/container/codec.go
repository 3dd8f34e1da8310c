// Package container reads and writes AIVM metadata inside Safetensors files.
//
// A file is laid out as an 8-byte little-endian header length N, N bytes of
// UTF-8 JSON header, then the tensor payload. AIVM metadata lives in the
// header's "__metadata__" string map; everything else is left for Safetensors
// readers, which can open the result without knowing about AIVM.
package container

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"maps"
	"slices"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"github.com/aivmlib-go/aivmlib/internal/schema"
	"github.com/aivmlib-go/aivmlib/internal/synth"
)

const (
	// MaxHeaderSize is the largest header length accepted.
	MaxHeaderSize = 100_000_000

	lengthPrefixSize = 8
	headerAlignment  = 8
)

// Reserved header and metadata keys.
const (
	MetadataKey        = "__metadata__"
	ManifestKey        = "aivm_manifest"
	HyperParametersKey = "aivm_hyper_parameters"
	StyleVectorsKey    = "aivm_style_vectors"
)

// Header is the generic Safetensors layer of a container.
type Header struct {
	// Size is the declared header length in bytes.
	Size int
	// Tensors holds every header entry except the metadata map, as raw JSON.
	Tensors map[string]json.RawMessage
	// Metadata is the "__metadata__" map, nil when absent.
	Metadata map[string]string
	// Payload aliases the bytes after the header.
	Payload []byte
}

// TensorNames returns the tensor keys in sorted order.
func (h *Header) TensorNames() []string {
	return slices.Sorted(maps.Keys(h.Tensors))
}

// ReadHeader splits data into header and payload. It does not require any
// AIVM metadata to be present.
func ReadHeader(data []byte) (*Header, error) {
	if len(data) < lengthPrefixSize {
		return nil, formatError(ErrTruncated, nil, "%d bytes", len(data))
	}
	n := binary.LittleEndian.Uint64(data[:lengthPrefixSize])
	remaining := uint64(len(data) - lengthPrefixSize)
	if n > MaxHeaderSize || n > remaining {
		return nil, formatError(ErrHeaderSize, nil, "declared %d bytes, %d available", n, remaining)
	}
	raw := data[lengthPrefixSize : lengthPrefixSize+int(n)]
	if !utf8.Valid(raw) {
		return nil, formatError(ErrNotContainer, nil, "header is not valid UTF-8")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, formatError(ErrNotContainer, err, "header is not a JSON object")
	}
	if fields == nil {
		return nil, formatError(ErrNotContainer, nil, "header is not a JSON object")
	}

	h := &Header{Size: int(n), Payload: data[lengthPrefixSize+int(n):]}
	if rawMeta, ok := fields[MetadataKey]; ok {
		if err := json.Unmarshal(rawMeta, &h.Metadata); err != nil {
			return nil, formatError(ErrNotContainer, err, "%s must map strings to strings", MetadataKey)
		}
		delete(fields, MetadataKey)
	}
	h.Tensors = fields
	return h, nil
}

// Decode extracts and validates the AIVM metadata of a container.
func Decode(data []byte) (*schema.Metadata, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}

	manifestJSON := h.Metadata[ManifestKey]
	if manifestJSON == "" {
		return nil, formatError(ErrManifestNotFound, nil, "no %q in %s", ManifestKey, MetadataKey)
	}
	if arch, ok := peekArchitecture(manifestJSON); ok && !arch.IsStyleBertVITS2() {
		return nil, formatError(ErrUnsupportedArchitecture, nil, "%q", arch)
	}
	manifest, err := schema.ParseManifest([]byte(manifestJSON))
	if err != nil {
		return nil, &FormatError{Kind: ErrInvalidManifest, Err: err}
	}

	hpJSON, ok := h.Metadata[HyperParametersKey]
	if !ok {
		return nil, formatError(ErrHyperParametersNotFound, nil, "no %q in %s", HyperParametersKey, MetadataKey)
	}
	hp, err := schema.ParseHyperParameters([]byte(hpJSON))
	if err != nil {
		return nil, &FormatError{Kind: ErrInvalidHyperParameters, Err: err}
	}

	md := &schema.Metadata{Manifest: manifest, HyperParameters: hp}
	if encoded, ok := h.Metadata[StyleVectorsKey]; ok {
		md.StyleVectors, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, &FormatError{Kind: ErrInvalidStyleVectors, Err: err}
		}
	}
	return md, nil
}

// peekArchitecture reads model_architecture ahead of full manifest validation.
func peekArchitecture(manifestJSON string) (schema.ModelArchitecture, bool) {
	var peek struct {
		ModelArchitecture *string `json:"model_architecture"`
	}
	if err := json.Unmarshal([]byte(manifestJSON), &peek); err != nil || peek.ModelArchitecture == nil || *peek.ModelArchitecture == "" {
		return "", false
	}
	return schema.ModelArchitecture(*peek.ModelArchitecture), true
}

// Encode writes md into the header of existing and returns a new buffer.
// Tensor entries, unrelated metadata keys and the payload are preserved;
// existing itself is never modified. The hyperparameters are reconciled with
// the manifest before writing.
func Encode(existing []byte, md *schema.Metadata) ([]byte, error) {
	rec, err := synth.Reconcile(md)
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	h, err := ReadHeader(existing)
	if err != nil {
		return nil, err
	}

	manifestJSON, err := schema.Marshal(rec.Manifest)
	if err != nil {
		return nil, err
	}
	hpJSON, err := schema.Marshal(rec.HyperParameters)
	if err != nil {
		return nil, err
	}

	metadata := maps.Clone(h.Metadata)
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata[ManifestKey] = string(manifestJSON)
	metadata[HyperParametersKey] = string(hpJSON)
	if rec.StyleVectors != nil {
		metadata[StyleVectorsKey] = base64.StdEncoding.EncodeToString(rec.StyleVectors)
	} else {
		delete(metadata, StyleVectorsKey)
	}

	header := make(map[string]any, len(h.Tensors)+1)
	for k, v := range h.Tensors {
		header[k] = v
	}
	header[MetadataKey] = metadata
	headerJSON, err := schema.Marshal(header)
	if err != nil {
		return nil, err
	}

	return assemble(headerJSON, h.Payload)
}

// assemble pads the header with spaces so the payload starts on an 8-byte
// boundary, as Safetensors writers do.
func assemble(header, payload []byte) ([]byte, error) {
	pad := (headerAlignment - len(header)%headerAlignment) % headerAlignment
	size := len(header) + pad
	if size > MaxHeaderSize {
		return nil, formatError(ErrHeaderSize, nil, "encoded header is %d bytes", size)
	}

	out := make([]byte, lengthPrefixSize, lengthPrefixSize+size+len(payload))
	binary.LittleEndian.PutUint64(out, uint64(size))
	out = append(out, header...)
	for range pad {
		out = append(out, ' ')
	}
	return append(out, payload...), nil
}

// Layout summarizes a container without validating its metadata.
type Layout struct {
	HeaderSize    int      `json:"header_size" msgpack:"header_size"`
	PayloadSize   int      `json:"payload_size" msgpack:"payload_size"`
	TensorCount   int      `json:"tensor_count" msgpack:"tensor_count"`
	MetadataKeys  []string `json:"metadata_keys" msgpack:"metadata_keys"`
	PayloadDigest string   `json:"payload_digest" msgpack:"payload_digest"`
}

// HasAIVMMetadata reports whether the header carries a manifest.
func (l *Layout) HasAIVMMetadata() bool {
	return slices.Contains(l.MetadataKeys, ManifestKey)
}

// Inspect reports the layout of a container. PayloadDigest is the hex BLAKE3
// digest of the payload, which stays the same across metadata edits.
func Inspect(data []byte) (*Layout, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	digest := blake3.Sum256(h.Payload)
	keys := slices.Sorted(maps.Keys(h.Metadata))
	if keys == nil {
		keys = []string{}
	}
	return &Layout{
		HeaderSize:    h.Size,
		PayloadSize:   len(h.Payload),
		TensorCount:   len(h.Tensors),
		MetadataKeys:  keys,
		PayloadDigest: hex.EncodeToString(digest[:]),
	}, nil
}
