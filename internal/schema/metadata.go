package schema

import (
	"encoding/json"
	"errors"
)

// Metadata bundles everything stored in a container header.
type Metadata struct {
	Manifest        *Manifest        `json:"manifest"`
	HyperParameters *HyperParameters `json:"hyper_parameters"`
	// StyleVectors is opaque; nil means absent.
	StyleVectors []byte `json:"style_vectors"`
}

// Validate checks the manifest and hyperparameters of the bundle.
func (md *Metadata) Validate() error {
	if md == nil {
		return NewValidationError("metadata", "", "must not be nil")
	}
	if md.Manifest == nil {
		return NewValidationError("manifest", "", "must not be nil")
	}
	if err := md.Manifest.Validate(); err != nil {
		return err
	}
	if md.HyperParameters == nil {
		return NewValidationError("hyperparameters", "", "must not be nil")
	}
	return md.HyperParameters.Validate()
}

// Clone returns a deep copy of the bundle.
func (md *Metadata) Clone() *Metadata {
	if md == nil {
		return nil
	}
	out := &Metadata{
		Manifest:        md.Manifest.Clone(),
		HyperParameters: md.HyperParameters.Clone(),
	}
	if md.StyleVectors != nil {
		out.StyleVectors = append([]byte{}, md.StyleVectors...)
	}
	return out
}

// UnmarshalJSON decodes the JSON form and validates the manifest.
func (md *Metadata) UnmarshalJSON(data []byte) error {
	var doc struct {
		Manifest        json.RawMessage  `json:"manifest"`
		HyperParameters *HyperParameters `json:"hyper_parameters"`
		StyleVectors    []byte           `json:"style_vectors"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		if IsValidationError(err) {
			return err
		}
		return decodeError("metadata", err)
	}
	if len(doc.Manifest) == 0 || string(doc.Manifest) == "null" {
		return NewValidationError("metadata", "manifest", "field required")
	}
	if doc.HyperParameters == nil {
		return NewValidationError("metadata", "hyper_parameters", "field required")
	}
	m, err := ParseManifest(doc.Manifest)
	if err != nil {
		return err
	}
	*md = Metadata{Manifest: m, HyperParameters: doc.HyperParameters, StyleVectors: doc.StyleVectors}
	return nil
}

// ParseMetadata decodes the JSON form of a bundle.
func ParseMetadata(data []byte) (*Metadata, error) {
	md := &Metadata{}
	if err := json.Unmarshal(data, md); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return nil, ve
		}
		return nil, decodeError("metadata", err)
	}
	return md, nil
}
