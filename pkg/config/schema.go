package config

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON Schema of the config file format, usable by
// editors that validate YAML against JSON Schema.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	s := r.Reflect(&File{})
	s.Title = "A2C computer configuration"
	return json.MarshalIndent(s, "", "  ")
}
