package ledger

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// NetworkDefinition describes a named Stellar network the daemon can target.
// Definitions live in a YAML file next to the main config so operators can add
// networks without recompiling.
type NetworkDefinition struct {
	Name           string `yaml:"name"`
	HorizonURL     string `yaml:"horizon_url"`
	Passphrase     string `yaml:"passphrase"`
	FriendbotURL   string `yaml:"friendbot_url"`
	VaultAPIURL    string `yaml:"vault_api_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type definitionsFile struct {
	Networks []NetworkDefinition `yaml:"networks"`
}

// LoadNetworkDefinitions parses the YAML definitions file and indexes the
// entries by lower-cased name.
func LoadNetworkDefinitions(path string) (map[string]NetworkDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read network definitions: %w", err)
	}
	var file definitionsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse network definitions: %w", err)
	}
	defs := make(map[string]NetworkDefinition, len(file.Networks))
	for _, def := range file.Networks {
		name := strings.ToLower(strings.TrimSpace(def.Name))
		if name == "" {
			return nil, fmt.Errorf("network definition missing name")
		}
		if strings.TrimSpace(def.HorizonURL) == "" {
			return nil, fmt.Errorf("network %s missing horizon_url", name)
		}
		if strings.TrimSpace(def.Passphrase) == "" {
			return nil, fmt.Errorf("network %s missing passphrase", name)
		}
		if def.TimeoutSeconds <= 0 {
			def.TimeoutSeconds = 30
		}
		if _, exists := defs[name]; exists {
			return nil, fmt.Errorf("duplicate network definition %s", name)
		}
		defs[name] = def
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("network definitions file %s contains no networks", path)
	}
	return defs, nil
}

// ResolveNetwork picks a definition by name.
func ResolveNetwork(defs map[string]NetworkDefinition, name string) (NetworkDefinition, error) {
	def, ok := defs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return NetworkDefinition{}, fmt.Errorf("unknown network %q", name)
	}
	return def, nil
}
