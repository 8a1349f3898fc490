// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/loomworks/loom/pkg/errors"
)

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
)

var (
	namePattern    = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
)

// SkipRecord notes a descriptor that failed to load and why.
type SkipRecord struct {
	Path string
	Err  error
}

// LoadReport summarizes a catalog load: how many descriptors loaded and
// which were skipped with parse errors.
type LoadReport struct {
	Loaded  int
	Skipped []SkipRecord
}

// LoadDir scans a directory for skill subdirectories containing SKILL.md.
// A malformed descriptor is skipped and recorded in the report; it never
// aborts the rest of the load.
func LoadDir(root string) ([]SkillDescriptor, *LoadReport, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, err
	}
	report := &LoadReport{}
	var out []SkillDescriptor
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillPath := filepath.Join(root, entry.Name(), "SKILL.md")
		if _, err := os.Stat(skillPath); err != nil {
			continue
		}
		desc, err := LoadFile(skillPath)
		if err != nil {
			report.Skipped = append(report.Skipped, SkipRecord{Path: skillPath, Err: err})
			slog.Warn("catalog.load.skip",
				slog.String("path", skillPath),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Loaded++
		out = append(out, desc)
	}
	return out, report, nil
}

// LoadFile parses a single SKILL.md descriptor.
func LoadFile(path string) (SkillDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SkillDescriptor{}, err
	}
	content := string(data)
	fm, body, err := splitFrontmatter(content)
	if err != nil {
		return SkillDescriptor{}, errors.New(errors.CodeParse, "invalid descriptor header", err).
			WithContext("path", path)
	}
	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return SkillDescriptor{}, errors.New(errors.CodeParse, "parse frontmatter", err).
			WithContext("path", path)
	}

	desc := SkillDescriptor{
		Name:         strings.TrimSpace(parsed.Name),
		Version:      strings.TrimSpace(parsed.Version),
		Description:  strings.TrimSpace(parsed.Description),
		DependsOn:    dedupe(parsed.DependsOn),
		Deliverables: dedupe(parsed.Deliverables),
		Tags:         dedupe(parsed.Tags),
		Body:         strings.TrimSpace(body),
		Path:         path,
		Dir:          filepath.Dir(path),
	}
	if desc.Version == "" {
		desc.Version = DefaultVersion
	}

	if parsed.Phase != "" {
		phase, err := ParsePhase(parsed.Phase)
		if err != nil {
			return SkillDescriptor{}, errors.New(errors.CodeParse, "invalid phase", err).
				WithContext("path", path)
		}
		desc.Phase = phase
	} else {
		phase, candidates := InferPhase(desc.Name + " " + desc.Description)
		desc.Phase = phase
		desc.PhaseInferred = true
		if len(candidates) != 1 {
			slog.Warn("catalog.phase.inferred.ambiguous",
				slog.String("skill", desc.Name),
				slog.String("phase", string(phase)),
				slog.Any("candidates", candidates),
			)
		}
	}

	if parsed.Category != "" {
		category, err := ParseCategory(parsed.Category)
		if err != nil {
			return SkillDescriptor{}, errors.New(errors.CodeParse, "invalid category", err).
				WithContext("path", path)
		}
		desc.Category = category
	} else {
		desc.Category = CategoryExecution
	}

	if err := validate(desc); err != nil {
		return SkillDescriptor{}, errors.New(errors.CodeParse, "invalid descriptor", err).
			WithContext("path", path)
	}
	return desc, nil
}

type frontmatter struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Version      string   `yaml:"version"`
	Phase        string   `yaml:"phase"`
	Category     string   `yaml:"category"`
	DependsOn    []string `yaml:"depends_on"`
	Deliverables []string `yaml:"deliverables"`
	Tags         []string `yaml:"tags"`
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", stderrors.New("missing frontmatter")
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", stderrors.New("invalid frontmatter")
	}
	fm := strings.TrimSpace(parts[1])
	body := strings.TrimSpace(parts[2])
	return fm, body, nil
}

func validate(desc SkillDescriptor) error {
	if desc.Name == "" {
		return stderrors.New("name is required")
	}
	if utf8.RuneCountInString(desc.Name) > maxNameLen {
		return fmt.Errorf("name exceeds %d characters", maxNameLen)
	}
	if !namePattern.MatchString(desc.Name) {
		return fmt.Errorf("name must match %s", namePattern.String())
	}
	dirName := filepath.Base(desc.Dir)
	if dirName != desc.Name {
		return fmt.Errorf("name must match directory name (%s)", dirName)
	}
	if desc.Description == "" {
		return stderrors.New("description is required")
	}
	if utf8.RuneCountInString(desc.Description) > maxDescriptionLen {
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	}
	if !versionPattern.MatchString(desc.Version) {
		return fmt.Errorf("version %q is not of the form MAJOR.MINOR.PATCH", desc.Version)
	}
	for _, dep := range desc.DependsOn {
		if dep == desc.Name {
			return fmt.Errorf("skill depends on itself")
		}
	}
	return nil
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
