package schema

import (
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
)

// ManifestJSONSchema returns a JSON Schema describing the manifest document.
// Constraints that cannot be inferred from the Go types (enums, ranges,
// patterns) are added on top of the reflected schema.
func ManifestJSONSchema() (*jsonschema.Schema, error) {
	s, err := jsonschema.For[Manifest](&jsonschema.ForOptions{
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			reflect.TypeFor[uuid.UUID](): {Type: "string", Format: "uuid"},
		},
	})
	if err != nil {
		return nil, err
	}
	s.Title = "AIVM manifest"

	var version any = ManifestVersion
	if p := property(s, "manifest_version"); p != nil {
		p.Const = &version
	}
	if p := property(s, "name"); p != nil {
		p.MinLength = intPtr(1)
	}
	if p := property(s, "model_architecture"); p != nil {
		for _, a := range ModelArchitectures() {
			p.Enum = append(p.Enum, string(a))
		}
	}
	if p := property(s, "model_format"); p != nil {
		p.Enum = []any{string(ModelFormatSafetensors), string(ModelFormatONNX)}
	}
	for _, name := range []string{"training_epochs", "training_steps"} {
		if p := property(s, name); p != nil {
			p.Minimum = floatPtr(0)
		}
	}
	if p := property(s, "version"); p != nil {
		p.Pattern = semverPattern.String()
	}

	if sp := items(property(s, "speakers")); sp != nil {
		if p := property(sp, "local_id"); p != nil {
			p.Minimum = floatPtr(0)
		}
		if p := items(property(sp, "supported_languages")); p != nil {
			p.Pattern = "^[a-z]{2}$"
		}
		if p := property(sp, "icon"); p != nil {
			p.Pattern = "^data:image/(png|jpeg)(;[^,]*)?;base64,"
		}
		if st := items(property(sp, "styles")); st != nil {
			if p := property(st, "local_id"); p != nil {
				p.Minimum = floatPtr(0)
				p.Maximum = floatPtr(MaxStyleLocalID)
			}
		}
	}
	return s, nil
}

func property(s *jsonschema.Schema, name string) *jsonschema.Schema {
	if s == nil || s.Properties == nil {
		return nil
	}
	return s.Properties[name]
}

func items(s *jsonschema.Schema) *jsonschema.Schema {
	if s == nil {
		return nil
	}
	return s.Items
}

func intPtr(v int) *int {
	return &v
}

func floatPtr(v float64) *float64 {
	return &v
}
