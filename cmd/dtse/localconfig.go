package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// localConfig is the subset of .dtse/config.yaml read directly off disk,
// bypassing viper, for flag defaults that must exist before
// internal/config.Initialize runs (cobra's flag defaults are fixed at
// package-init time, before PersistentPreRunE has a chance to call it).
// Grounded on the teacher's internal/config.LoadLocalConfig /
// cmd/bd/config_local.go isNoDbModeConfigured idiom: read the file with
// gopkg.in/yaml.v3 directly, degrade to zero values on any error.
type localConfig struct {
	Namespace  string `yaml:"namespace"`
	DisableWAL bool   `yaml:"disable-wal"`
}

// loadLocalConfig reads .dtse/config.yaml from the working directory.
// Returns a zero-value localConfig if the file is absent or unparsable —
// this is a best-effort default source, never a hard requirement.
func loadLocalConfig() localConfig {
	data, err := os.ReadFile(".dtse/config.yaml")
	if err != nil {
		return localConfig{}
	}
	var cfg localConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return localConfig{}
	}
	return cfg
}
