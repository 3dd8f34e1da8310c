package synth

import "github.com/aivmlib-go/aivmlib/internal/schema"

// Reconcile returns a copy of md whose hyperparameters agree with the manifest.
// The manifest is authoritative: the model name and the speaker and style ID
// maps are rebuilt from it, and machine-specific dataset paths are replaced
// with canonical names. md itself is not modified.
func Reconcile(md *schema.Metadata) (*schema.Metadata, error) {
	if md == nil || md.Manifest == nil {
		return nil, schema.NewValidationError("metadata", "manifest", "field required")
	}
	if md.HyperParameters == nil {
		return nil, schema.NewValidationError("metadata", "hyper_parameters", "field required")
	}

	out := md.Clone()
	if !out.Manifest.ModelArchitecture.IsStyleBertVITS2() {
		return out, nil
	}
	if out.StyleVectors == nil {
		return nil, schema.NewValidationError("metadata", "style_vectors", "style vectors are required for %s", out.Manifest.ModelArchitecture)
	}

	hp := out.HyperParameters
	hp.ModelName = out.Manifest.Name
	hp.Data.TrainingFiles = schema.TrainingFilesName
	hp.Data.ValidationFiles = schema.ValidationFilesName

	spk2id := schema.IDMap{}
	style2id := schema.IDMap{}
	for _, sp := range out.Manifest.Speakers {
		spk2id.Set(sp.Name, sp.LocalID)
		for _, st := range sp.Styles {
			style2id.Set(st.Name, st.LocalID)
		}
	}
	hp.Data.Spk2ID = spk2id
	hp.Data.Style2ID = style2id
	return out, nil
}
