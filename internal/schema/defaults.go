package schema

import "github.com/google/uuid"

// DefaultIconDataURL is the placeholder speaker icon, a 1x1 PNG.
const DefaultIconDataURL = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

// DefaultModelVersion is the version given to newly synthesized manifests.
const DefaultModelVersion = "1.0.0"

const (
	// NeutralStyleName is the style name Style-Bert-VITS2 training emits for the base style.
	NeutralStyleName = "Neutral"
	// NeutralStyleDisplayName replaces NeutralStyleName in manifests.
	NeutralStyleDisplayName = "ノーマル"
)

// DefaultManifest returns the manifest shown for a model with no metadata yet.
func DefaultManifest() *Manifest {
	m := &Manifest{
		ManifestVersion:   ManifestVersion,
		Name:              "Model Name",
		ModelArchitecture: ModelArchitectureStyleBertVITS2JPExtra,
		ModelFormat:       ModelFormatSafetensors,
		UUID:              uuid.Nil,
		Version:           DefaultModelVersion,
		Speakers: []Speaker{
			{
				Name:               "Speaker Name",
				Icon:               DefaultIconDataURL,
				SupportedLanguages: []string{"ja"},
				UUID:               uuid.Nil,
				LocalID:            0,
				Styles: []Style{
					{Name: NeutralStyleDisplayName, LocalID: 0},
				},
			},
		},
	}
	m.applyDefaults()
	return m
}
