package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// LoadDefaults resolves the hard-coded-defaults layer: builtinDefaults()
// merged under an optional operator-supplied YAML override file. An empty
// path returns builtinDefaults() unchanged. ${VAR}/$VAR references in the
// file are expanded against the process environment before parsing,
// matching the teacher's own ExpandEnv-before-Unmarshal loader shape.
func LoadDefaults(path string) (Values, error) {
	values := builtinDefaults()
	if path == "" {
		return values, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Values{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return Values{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var override Values
	if err := yaml.Unmarshal(ExpandEnv(raw), &override); err != nil {
		return Values{}, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	if err := mergo.Merge(&values, override, mergo.WithOverride); err != nil {
		return Values{}, fmt.Errorf("merging config file %s over defaults: %w", path, err)
	}
	return values, nil
}
