package schema

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/language"
)

// ManifestVersion is the only supported manifest_version.
const ManifestVersion = "1.0"

// MaxStyleLocalID bounds style local IDs; the architecture supports 32 styles per speaker.
const MaxStyleLocalID = 31

// ModelArchitecture names the synthesis architecture a model was trained with.
type ModelArchitecture string

const (
	ModelArchitectureStyleBertVITS2        ModelArchitecture = "Style-Bert-VITS2"
	ModelArchitectureStyleBertVITS2JPExtra ModelArchitecture = "Style-Bert-VITS2 (JP-Extra)"
)

// ModelArchitectures lists every accepted architecture tag.
func ModelArchitectures() []ModelArchitecture {
	return []ModelArchitecture{ModelArchitectureStyleBertVITS2, ModelArchitectureStyleBertVITS2JPExtra}
}

// Valid reports whether a is a known architecture tag.
func (a ModelArchitecture) Valid() bool {
	switch a {
	case ModelArchitectureStyleBertVITS2, ModelArchitectureStyleBertVITS2JPExtra:
		return true
	}
	return false
}

// IsStyleBertVITS2 reports whether a belongs to the Style-Bert-VITS2 family, which
// shares one hyperparameters shape and requires style vectors.
func (a ModelArchitecture) IsStyleBertVITS2() bool {
	return strings.HasPrefix(string(a), string(ModelArchitectureStyleBertVITS2))
}

// ModelFormat names how the model weights are stored.
type ModelFormat string

const (
	ModelFormatSafetensors ModelFormat = "Safetensors"
	ModelFormatONNX        ModelFormat = "ONNX"
)

// Valid reports whether f is a known model format.
func (f ModelFormat) Valid() bool {
	return f == ModelFormatSafetensors || f == ModelFormatONNX
}

// Manifest is the catalog of a single voice synthesis model.
type Manifest struct {
	ManifestVersion   string            `json:"manifest_version"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Creators          []string          `json:"creators"`
	TermsOfUse        string            `json:"terms_of_use"`
	ModelArchitecture ModelArchitecture `json:"model_architecture"`
	ModelFormat       ModelFormat       `json:"model_format"`
	TrainingEpochs    *int              `json:"training_epochs"`
	TrainingSteps     *int              `json:"training_steps"`
	UUID              uuid.UUID         `json:"uuid"`
	Version           string            `json:"version"`
	Speakers          []Speaker         `json:"speakers"`
}

// Speaker is one voice in a model.
type Speaker struct {
	Name               string    `json:"name"`
	Icon               string    `json:"icon"`
	SupportedLanguages []string  `json:"supported_languages"`
	UUID               uuid.UUID `json:"uuid"`
	LocalID            int       `json:"local_id"`
	Styles             []Style   `json:"styles"`
}

// Style is one speaking style of a speaker.
type Style struct {
	Name         string        `json:"name"`
	Icon         *string       `json:"icon"`
	LocalID      int           `json:"local_id"`
	VoiceSamples []VoiceSample `json:"voice_samples"`
}

// VoiceSample pairs an audio clip with its transcript.
type VoiceSample struct {
	Audio      string `json:"audio"`
	Transcript string `json:"transcript"`
}

// SemVer 2.0.0
var semverPattern = regexp.MustCompile(`^(0|[1-9]\d*)\.(0|[1-9]\d*)\.(0|[1-9]\d*)(?:-((?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*)(?:\.(?:0|[1-9]\d*|\d*[a-zA-Z-][0-9a-zA-Z-]*))*))?(?:\+([0-9a-zA-Z-]+(?:\.[0-9a-zA-Z-]+)*))?$`)

// ParseManifest decodes and validates a JSON manifest. Every violation found is
// reported in a single *ValidationError.
func ParseManifest(data []byte) (*Manifest, error) {
	var doc manifestDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, decodeError("manifest", err)
	}

	var is issues
	m := doc.build(&is)
	if err := m.Validate(); err != nil {
		ve, _ := AsValidationError(err)
		is.mergeUnreported(ve.Issues)
	}
	if err := is.err("manifest"); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks every structural constraint of the manifest.
func (m *Manifest) Validate() error {
	var is issues

	if m.ManifestVersion != ManifestVersion {
		is.add("manifest_version", "must be %q, got %q", ManifestVersion, m.ManifestVersion)
	}
	if m.Name == "" {
		is.add("name", "must not be empty")
	}
	if !m.ModelArchitecture.Valid() {
		is.add("model_architecture", "unknown architecture %q", m.ModelArchitecture)
	}
	if !m.ModelFormat.Valid() {
		is.add("model_format", "unknown model format %q", m.ModelFormat)
	}
	if m.TrainingEpochs != nil && *m.TrainingEpochs < 0 {
		is.add("training_epochs", "must be >= 0")
	}
	if m.TrainingSteps != nil && *m.TrainingSteps < 0 {
		is.add("training_steps", "must be >= 0")
	}
	if !semverPattern.MatchString(m.Version) {
		is.add("version", "%q is not a semantic version", m.Version)
	}

	seen := make(map[int]int, len(m.Speakers))
	for i := range m.Speakers {
		path := indexPath("speakers", i)
		m.Speakers[i].validate(path, &is)
		if prev, dup := seen[m.Speakers[i].LocalID]; dup {
			is.add(fieldPath(path, "local_id"), "duplicates speakers[%d].local_id %d", prev, m.Speakers[i].LocalID)
		} else {
			seen[m.Speakers[i].LocalID] = i
		}
	}

	return is.err("manifest")
}

func (s *Speaker) validate(path string, is *issues) {
	if s.Name == "" {
		is.add(fieldPath(path, "name"), "must not be empty")
	}
	if err := ValidateImageDataURL(s.Icon); err != nil {
		is.add(fieldPath(path, "icon"), "%v", err)
	}
	for i, code := range s.SupportedLanguages {
		if !validLanguage(code) {
			is.add(indexPath(fieldPath(path, "supported_languages"), i), "%q is not a two-letter language code", code)
		}
	}
	if s.LocalID < 0 {
		is.add(fieldPath(path, "local_id"), "must be >= 0")
	}

	// Style IDs may repeat within a speaker, as they may in style2id.
	for i := range s.Styles {
		s.Styles[i].validate(indexPath(fieldPath(path, "styles"), i), is)
	}
}

func (s *Style) validate(path string, is *issues) {
	if s.Name == "" {
		is.add(fieldPath(path, "name"), "must not be empty")
	}
	if s.Icon != nil {
		if err := ValidateImageDataURL(*s.Icon); err != nil {
			is.add(fieldPath(path, "icon"), "%v", err)
		}
	}
	if s.LocalID < 0 || s.LocalID > MaxStyleLocalID {
		is.add(fieldPath(path, "local_id"), "must be between 0 and %d, got %d", MaxStyleLocalID, s.LocalID)
	}
	for i, sample := range s.VoiceSamples {
		samplePath := indexPath(fieldPath(path, "voice_samples"), i)
		if err := ValidateAudioDataURL(sample.Audio); err != nil {
			is.add(fieldPath(samplePath, "audio"), "%v", err)
		}
		if sample.Transcript == "" {
			is.add(fieldPath(samplePath, "transcript"), "must not be empty")
		}
	}
}

func validLanguage(code string) bool {
	if len(code) != 2 || strings.ToLower(code) != code {
		return false
	}
	_, err := language.ParseBase(code)
	return err == nil
}

// IconFor returns the style's icon, falling back to the speaker icon.
func (s *Speaker) IconFor(style *Style) string {
	if style != nil && style.Icon != nil && *style.Icon != "" {
		return *style.Icon
	}
	return s.Icon
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	out := *m
	out.Creators = append([]string(nil), m.Creators...)
	out.TrainingEpochs = cloneInt(m.TrainingEpochs)
	out.TrainingSteps = cloneInt(m.TrainingSteps)
	out.Speakers = make([]Speaker, len(m.Speakers))
	for i, sp := range m.Speakers {
		sp.SupportedLanguages = append([]string(nil), sp.SupportedLanguages...)
		styles := make([]Style, len(sp.Styles))
		for j, st := range sp.Styles {
			if st.Icon != nil {
				icon := *st.Icon
				st.Icon = &icon
			}
			st.VoiceSamples = append([]VoiceSample(nil), st.VoiceSamples...)
			styles[j] = st
		}
		sp.Styles = styles
		out.Speakers[i] = sp
	}
	out.applyDefaults()
	return &out
}

// applyDefaults replaces nil lists with empty ones so they serialize as [].
func (m *Manifest) applyDefaults() {
	if m.Creators == nil {
		m.Creators = []string{}
	}
	if m.Speakers == nil {
		m.Speakers = []Speaker{}
	}
	for i := range m.Speakers {
		sp := &m.Speakers[i]
		if sp.SupportedLanguages == nil {
			sp.SupportedLanguages = []string{}
		}
		if sp.Styles == nil {
			sp.Styles = []Style{}
		}
		for j := range sp.Styles {
			if sp.Styles[j].VoiceSamples == nil {
				sp.Styles[j].VoiceSamples = []VoiceSample{}
			}
		}
	}
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

// manifestDocument mirrors Manifest with every field optional so missing
// fields can be reported individually.
type manifestDocument struct {
	ManifestVersion   *string            `json:"manifest_version"`
	Name              *string            `json:"name"`
	Description       *string            `json:"description"`
	Creators          []string           `json:"creators"`
	TermsOfUse        *string            `json:"terms_of_use"`
	ModelArchitecture *string            `json:"model_architecture"`
	ModelFormat       *string            `json:"model_format"`
	TrainingEpochs    *int               `json:"training_epochs"`
	TrainingSteps     *int               `json:"training_steps"`
	UUID              *string            `json:"uuid"`
	Version           *string            `json:"version"`
	Speakers          *[]speakerDocument `json:"speakers"`
}

type speakerDocument struct {
	Name               *string          `json:"name"`
	Icon               *string          `json:"icon"`
	SupportedLanguages *[]string        `json:"supported_languages"`
	UUID               *string          `json:"uuid"`
	LocalID            *int             `json:"local_id"`
	Styles             *[]styleDocument `json:"styles"`
}

type styleDocument struct {
	Name         *string               `json:"name"`
	Icon         *string               `json:"icon"`
	LocalID      *int                  `json:"local_id"`
	VoiceSamples []voiceSampleDocument `json:"voice_samples"`
}

type voiceSampleDocument struct {
	Audio      *string `json:"audio"`
	Transcript *string `json:"transcript"`
}

func (d *manifestDocument) build(is *issues) *Manifest {
	m := &Manifest{
		ManifestVersion:   required(is, "manifest_version", d.ManifestVersion),
		Name:              required(is, "name", d.Name),
		Description:       optional(d.Description),
		Creators:          d.Creators,
		TermsOfUse:        optional(d.TermsOfUse),
		ModelArchitecture: ModelArchitecture(required(is, "model_architecture", d.ModelArchitecture)),
		ModelFormat:       ModelFormatSafetensors,
		TrainingEpochs:    d.TrainingEpochs,
		TrainingSteps:     d.TrainingSteps,
		UUID:              requiredUUID(is, "uuid", d.UUID),
		Version:           required(is, "version", d.Version),
	}
	// Manifests written before model_format existed only ever described Safetensors models.
	if d.ModelFormat != nil {
		m.ModelFormat = ModelFormat(*d.ModelFormat)
	}

	if d.Speakers == nil {
		is.add("speakers", "field required")
	} else {
		for i, sd := range *d.Speakers {
			m.Speakers = append(m.Speakers, sd.build(indexPath("speakers", i), is))
		}
	}
	m.applyDefaults()
	return m
}

func (d *speakerDocument) build(path string, is *issues) Speaker {
	sp := Speaker{
		Name:    required(is, fieldPath(path, "name"), d.Name),
		UUID:    requiredUUID(is, fieldPath(path, "uuid"), d.UUID),
		LocalID: requiredInt(is, fieldPath(path, "local_id"), d.LocalID),
	}
	if d.SupportedLanguages == nil {
		is.add(fieldPath(path, "supported_languages"), "field required")
	} else {
		sp.SupportedLanguages = *d.SupportedLanguages
	}
	if d.Styles == nil {
		is.add(fieldPath(path, "styles"), "field required")
	} else {
		for i, st := range *d.Styles {
			sp.Styles = append(sp.Styles, st.build(indexPath(fieldPath(path, "styles"), i), is))
		}
	}

	switch {
	case d.Icon != nil:
		sp.Icon = *d.Icon
	default:
		// Older manifests only carried per-style icons; the first one stood in for the speaker.
		for _, st := range sp.Styles {
			if st.Icon != nil {
				sp.Icon = *st.Icon
				break
			}
		}
		if sp.Icon == "" {
			is.add(fieldPath(path, "icon"), "field required")
		}
	}
	return sp
}

func (d *styleDocument) build(path string, is *issues) Style {
	st := Style{
		Name:    required(is, fieldPath(path, "name"), d.Name),
		Icon:    d.Icon,
		LocalID: requiredInt(is, fieldPath(path, "local_id"), d.LocalID),
	}
	for i, vs := range d.VoiceSamples {
		samplePath := indexPath(fieldPath(path, "voice_samples"), i)
		st.VoiceSamples = append(st.VoiceSamples, VoiceSample{
			Audio:      required(is, fieldPath(samplePath, "audio"), vs.Audio),
			Transcript: required(is, fieldPath(samplePath, "transcript"), vs.Transcript),
		})
	}
	return st
}

func required(is *issues, field string, v *string) string {
	if v == nil {
		is.add(field, "field required")
		return ""
	}
	return *v
}

func optional(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func requiredInt(is *issues, field string, v *int) int {
	if v == nil {
		is.add(field, "field required")
		return 0
	}
	return *v
}

func requiredUUID(is *issues, field string, v *string) uuid.UUID {
	if v == nil {
		is.add(field, "field required")
		return uuid.Nil
	}
	id, err := uuid.Parse(*v)
	if err != nil {
		is.add(field, "%q is not a UUID", *v)
		return uuid.Nil
	}
	return id
}
