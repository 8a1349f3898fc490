// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package loop

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/pkg/errors"
)

// ParseJSON loads a template from JSON and validates it.
func ParseJSON(data []byte) (*Template, error) {
	if len(data) == 0 {
		return nil, errors.New(errors.CodeParse, "empty JSON payload", nil)
	}
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.New(errors.CodeParse, "parse json template", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// ParseYAML loads a template from YAML and validates it.
func ParseYAML(data []byte) (*Template, error) {
	if len(data) == 0 {
		return nil, errors.New(errors.CodeParse, "empty YAML payload", nil)
	}
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.New(errors.CodeParse, "parse yaml template", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// LoadTemplate loads a loop template from a YAML or JSON file.
func LoadTemplate(path string) (*Template, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "template path is required", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return parseTemplateAuto(data)
	}
}

func parseTemplateAuto(data []byte) (*Template, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if t, err := ParseJSON(data); err == nil {
			return t, nil
		}
	}
	if t, err := ParseYAML(data); err == nil {
		return t, nil
	}
	if t, err := ParseJSON(data); err == nil {
		return t, nil
	}
	return nil, errors.New(errors.CodeParse, "unsupported template format", nil)
}
