package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"go.viam.com/coloc/localization"
)

// readConfig loads a JSON localizer config.
func readConfig(path string) (*localization.Config, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}
	cfg, err := localization.ConfigFromAttributes(attrs)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return cfg, nil
}
