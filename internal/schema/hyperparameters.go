package schema

import (
	"encoding/json"
	"maps"
	"slices"
)

// Canonical dataset list names written by Reconcile.
const (
	TrainingFilesName   = "train.list"
	ValidationFilesName = "val.list"
)

// HyperParameters is the training configuration of a Style-Bert-VITS2 model.
// Only the fields the container needs are typed; every other field is kept
// verbatim in Extra and written back unchanged.
type HyperParameters struct {
	ModelName string
	Data      HyperParametersData
	Extra     map[string]json.RawMessage
}

// HyperParametersData is the "data" section of HyperParameters.
type HyperParametersData struct {
	TrainingFiles   string
	ValidationFiles string
	UseJPExtra      bool
	Spk2ID          IDMap
	Style2ID        IDMap
	Extra           map[string]json.RawMessage
}

// Top-level sections that must be objects when present.
var hyperParameterSections = []string{"train", "model"}

// Data fields that must be integers when present.
var hyperParameterIntegers = []string{"sampling_rate", "n_speakers", "num_styles"}

// ParseHyperParameters decodes and validates a hyperparameters document.
func ParseHyperParameters(data []byte) (*HyperParameters, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, decodeError("hyperparameters", err)
	}
	if top == nil {
		return nil, NewValidationError("hyperparameters", "", "must be a JSON object")
	}

	var is issues
	hp := &HyperParameters{Extra: map[string]json.RawMessage{}}
	for _, k := range slices.Sorted(maps.Keys(top)) {
		v := top[k]
		switch k {
		case "model_name":
			decodeField(&is, "model_name", v, &hp.ModelName)
		case "data":
			hp.Data.decode(v, &is)
		default:
			hp.Extra[k] = v
		}
	}
	if _, ok := top["model_name"]; !ok {
		is.add("model_name", "field required")
	}
	if _, ok := top["data"]; !ok {
		is.add("data", "field required")
	}
	for _, k := range hyperParameterSections {
		if raw, ok := top[k]; ok {
			var section map[string]json.RawMessage
			if err := json.Unmarshal(raw, &section); err != nil || section == nil {
				is.add(k, "must be an object")
			}
		}
	}

	if err := hp.Validate(); err != nil {
		ve, _ := AsValidationError(err)
		is.mergeUnreported(ve.Issues)
	}
	if err := is.err("hyperparameters"); err != nil {
		return nil, err
	}
	return hp, nil
}

func (d *HyperParametersData) decode(raw json.RawMessage, is *issues) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		is.add("data", "must be an object")
		return
	}
	d.Extra = map[string]json.RawMessage{}
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		v := fields[k]
		switch k {
		case "training_files":
			decodeField(is, "data.training_files", v, &d.TrainingFiles)
		case "validation_files":
			decodeField(is, "data.validation_files", v, &d.ValidationFiles)
		case "use_jp_extra":
			decodeField(is, "data.use_jp_extra", v, &d.UseJPExtra)
		case "spk2id":
			decodeField(is, "data.spk2id", v, &d.Spk2ID)
		case "style2id":
			decodeField(is, "data.style2id", v, &d.Style2ID)
		default:
			d.Extra[k] = v
		}
	}
	for _, k := range []string{"use_jp_extra", "spk2id", "style2id"} {
		if _, ok := fields[k]; !ok {
			is.add("data."+k, "field required")
		}
	}
	for _, k := range hyperParameterIntegers {
		if raw, ok := fields[k]; ok {
			var n int64
			if err := json.Unmarshal(raw, &n); err != nil {
				is.add("data."+k, "must be an integer")
			}
		}
	}
}

func decodeField(is *issues, field string, raw json.RawMessage, dst any) {
	if err := json.Unmarshal(raw, dst); err != nil {
		if _, ok := err.(*json.UnmarshalTypeError); ok {
			is.add(field, "unexpected JSON type %s", jsonKind(raw))
			return
		}
		is.add(field, "%v", err)
	}
}

func jsonKind(raw json.RawMessage) string {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return "object"
		case '[':
			return "array"
		case '"':
			return "string"
		case 't', 'f':
			return "bool"
		case 'n':
			return "null"
		default:
			return "number"
		}
	}
	return "value"
}

// Validate checks the typed fields.
func (hp *HyperParameters) Validate() error {
	var is issues
	if hp.ModelName == "" {
		is.add("model_name", "must not be empty")
	}
	validateIDMap(&is, "data.spk2id", hp.Data.Spk2ID, -1, true)
	// Several style names may share an ID, as manifest styles may.
	validateIDMap(&is, "data.style2id", hp.Data.Style2ID, MaxStyleLocalID, false)
	return is.err("hyperparameters")
}

func validateIDMap(is *issues, field string, m IDMap, maxID int, unique bool) {
	owners := make(map[int]string, len(m))
	for _, e := range m {
		path := field + "." + e.Name
		switch {
		case e.Name == "":
			is.add(field, "contains an empty name")
		case e.ID < 0:
			is.add(path, "must be >= 0, got %d", e.ID)
		case maxID >= 0 && e.ID > maxID:
			is.add(path, "must be <= %d, got %d", maxID, e.ID)
		}
		if !unique {
			continue
		}
		if owner, dup := owners[e.ID]; dup {
			is.add(path, "ID %d is already used by %q", e.ID, owner)
		} else {
			owners[e.ID] = e.Name
		}
	}
}

// MarshalJSON implements json.Marshaler. Keys are written in sorted order,
// except inside spk2id and style2id which keep their own order.
func (hp HyperParameters) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(hp.Extra)+2)
	for k, v := range hp.Extra {
		out[k] = v
	}
	out["model_name"] = hp.ModelName
	out["data"] = hp.Data
	return Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler via ParseHyperParameters.
func (hp *HyperParameters) UnmarshalJSON(data []byte) error {
	parsed, err := ParseHyperParameters(data)
	if err != nil {
		return err
	}
	*hp = *parsed
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d HyperParametersData) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+5)
	for k, v := range d.Extra {
		out[k] = v
	}
	out["training_files"] = d.TrainingFiles
	out["validation_files"] = d.ValidationFiles
	out["use_jp_extra"] = d.UseJPExtra
	out["spk2id"] = orEmpty(d.Spk2ID)
	out["style2id"] = orEmpty(d.Style2ID)
	return Marshal(out)
}

func orEmpty(m IDMap) IDMap {
	if m == nil {
		return IDMap{}
	}
	return m
}

// Clone returns a deep copy.
func (hp *HyperParameters) Clone() *HyperParameters {
	if hp == nil {
		return nil
	}
	return &HyperParameters{
		ModelName: hp.ModelName,
		Data: HyperParametersData{
			TrainingFiles:   hp.Data.TrainingFiles,
			ValidationFiles: hp.Data.ValidationFiles,
			UseJPExtra:      hp.Data.UseJPExtra,
			Spk2ID:          hp.Data.Spk2ID.Clone(),
			Style2ID:        hp.Data.Style2ID.Clone(),
			Extra:           cloneRaw(hp.Data.Extra),
		},
		Extra: cloneRaw(hp.Extra),
	}
}

// Architecture derives the model architecture from use_jp_extra.
func (hp *HyperParameters) Architecture() ModelArchitecture {
	if hp.Data.UseJPExtra {
		return ModelArchitectureStyleBertVITS2JPExtra
	}
	return ModelArchitectureStyleBertVITS2
}
