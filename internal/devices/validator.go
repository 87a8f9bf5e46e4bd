package devices

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/pex-config-v1.json
var pexConfigSchemaJSON string

// Top-level keys the current format knows about. Anything else is tolerated.
var knownConfigKeys = map[string]bool{
	"pex_status": true, "warnmsg": true, "auto_configure": true, "default_ic_type": true,
	"default_smbus": true, "dev_configs": true, "num_PEX_stations": true,
	"num_SIP_stations": true, "alr": true, "discovered_devices": true, "debug": true,
	"disabled": true,
}

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("pex-config-v1.json",
		strings.NewReader(pexConfigSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("pex-config-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateConfig checks that every required field is present and well typed.
// It returns the unknown top-level keys so the caller can log them.
func (v *Validator) ValidateConfig(data []byte) ([]string, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrConfiguration, err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: schema validation failed: %v", ErrConfiguration, err)
	}

	obj, _ := doc.(map[string]interface{})
	unknown := make([]string, 0)
	for k := range obj {
		if !knownConfigKeys[k] {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}
