// Package synth derives AIVM metadata from training artifacts and keeps the
// hyperparameters consistent with an edited manifest.
package synth

import (
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/aivmlib-go/aivmlib/internal/schema"
)

// contentNamespace scopes content-derived model IDs.
var contentNamespace = uuid.MustParse("8f0c2b6e-5d3a-4e71-b9a4-6c2d1e0f7a58")

// Option configures Synthesize.
type Option func(*options)

type options struct {
	contentIDs bool
	icon       string
}

// WithContentDerivedIDs derives the model and speaker UUIDs from a BLAKE3 digest
// of the hyperparameters and style vectors instead of generating random ones.
// Synthesizing the same sources twice then yields the same identifiers.
func WithContentDerivedIDs() Option {
	return func(o *options) { o.contentIDs = true }
}

// WithSpeakerIcon sets the icon given to every synthesized speaker.
func WithSpeakerIcon(dataURL string) Option {
	return func(o *options) { o.icon = dataURL }
}

// Synthesize builds a metadata bundle from a hyperparameters document and the
// style vectors of a freshly trained model. The requested architecture only
// selects the family; the exact variant follows data.use_jp_extra.
func Synthesize(arch schema.ModelArchitecture, hyperParameters, styleVectors []byte, opts ...Option) (*schema.Metadata, error) {
	o := options{icon: schema.DefaultIconDataURL}
	for _, opt := range opts {
		opt(&o)
	}

	if !arch.IsStyleBertVITS2() {
		return nil, schema.NewValidationError("metadata", "model_architecture", "unsupported model architecture %q", arch)
	}
	hp, err := schema.ParseHyperParameters(hyperParameters)
	if err != nil {
		return nil, err
	}
	if styleVectors == nil {
		return nil, schema.NewValidationError("metadata", "style_vectors", "style vectors are required for %s", arch)
	}
	if len(hp.Data.Spk2ID) == 0 {
		return nil, schema.NewValidationError("hyperparameters", "data.spk2id", "defines no speakers")
	}
	if len(hp.Data.Style2ID) == 0 {
		return nil, schema.NewValidationError("hyperparameters", "data.style2id", "defines no styles")
	}

	ids := newIDSource(o.contentIDs, hyperParameters, styleVectors)
	languages := []string{"ja", "en", "zh"}
	if hp.Data.UseJPExtra {
		languages = []string{"ja"}
	}

	m := &schema.Manifest{
		ManifestVersion:   schema.ManifestVersion,
		Name:              hp.ModelName,
		Creators:          []string{},
		ModelArchitecture: hp.Architecture(),
		ModelFormat:       schema.ModelFormatSafetensors,
		UUID:              ids.model(),
		Version:           schema.DefaultModelVersion,
		Speakers:          make([]schema.Speaker, 0, len(hp.Data.Spk2ID)),
	}
	for _, spk := range hp.Data.Spk2ID {
		sp := schema.Speaker{
			Name:               spk.Name,
			Icon:               o.icon,
			SupportedLanguages: append([]string(nil), languages...),
			UUID:               ids.speaker(spk.Name),
			LocalID:            spk.ID,
			Styles:             make([]schema.Style, 0, len(hp.Data.Style2ID)),
		}
		for _, st := range hp.Data.Style2ID {
			sp.Styles = append(sp.Styles, schema.Style{
				Name:         displayStyleName(st.Name),
				LocalID:      st.ID,
				VoiceSamples: []schema.VoiceSample{},
			})
		}
		m.Speakers = append(m.Speakers, sp)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &schema.Metadata{
		Manifest:        m,
		HyperParameters: hp,
		StyleVectors:    append([]byte{}, styleVectors...),
	}, nil
}

func displayStyleName(name string) string {
	if name == schema.NeutralStyleName {
		return schema.NeutralStyleDisplayName
	}
	return name
}

type idSource struct {
	modelID uuid.UUID
	derived bool
}

func newIDSource(derived bool, hyperParameters, styleVectors []byte) *idSource {
	if !derived {
		return &idSource{modelID: uuid.New()}
	}
	h := blake3.New()
	_, _ = h.Write(hyperParameters)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(styleVectors)
	return &idSource{
		modelID: uuid.NewHash(blake3.New(), contentNamespace, h.Sum(nil), 8),
		derived: true,
	}
}

func (s *idSource) model() uuid.UUID { return s.modelID }

func (s *idSource) speaker(name string) uuid.UUID {
	if !s.derived {
		return uuid.New()
	}
	return uuid.NewHash(blake3.New(), s.modelID, []byte("speaker:"+name), 8)
}
