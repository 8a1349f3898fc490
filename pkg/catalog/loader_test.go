package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loomworks/loom/pkg/errors"
)

func writeSkill(t *testing.T, root, name, content string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, "SKILL.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeSkill(t, dir, "champion-scoring", `---
name: champion-scoring
description: Scores the strength of the identified champion.
version: 2.1.0
phase: assess
category: analysis
depends_on:
  - stakeholder-map
deliverables:
  - championStrength
tags: [sales, scoring]
---

Score the champion on access, influence and advocacy.
`)

	desc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if desc.Name != "champion-scoring" || desc.Version != "2.1.0" {
		t.Fatalf("unexpected identity: %s", desc.Key())
	}
	if desc.Phase != PhaseAssess || desc.PhaseInferred {
		t.Fatalf("unexpected phase: %s inferred=%v", desc.Phase, desc.PhaseInferred)
	}
	if desc.Category != CategoryAnalysis {
		t.Fatalf("unexpected category: %s", desc.Category)
	}
	if len(desc.DependsOn) != 1 || desc.DependsOn[0] != "stakeholder-map" {
		t.Fatalf("unexpected depends_on: %v", desc.DependsOn)
	}
	if len(desc.Deliverables) != 1 || desc.Deliverables[0] != "championStrength" {
		t.Fatalf("unexpected deliverables: %v", desc.Deliverables)
	}
	if desc.Body == "" {
		t.Fatal("expected body")
	}
}

func TestLoadFileDefaultsAndInference(t *testing.T) {
	dir := t.TempDir()
	path := writeSkill(t, dir, "release-notes", `---
name: release-notes
description: Draft release notes before we ship the build.
---
`)
	desc, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if desc.Version != DefaultVersion {
		t.Fatalf("expected default version, got %s", desc.Version)
	}
	if !desc.PhaseInferred {
		t.Fatal("expected inferred phase")
	}
	if desc.Phase != PhaseShip {
		t.Fatalf("expected ship from keywords, got %s", desc.Phase)
	}
	if desc.Category != CategoryExecution {
		t.Fatalf("expected default category, got %s", desc.Category)
	}
}

func TestLoadFileRejectsBadHeader(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"no-frontmatter": "just a body, no header\n",
		"bad-phase": `---
name: bad-phase
description: Something.
phase: moonwalk
---
`,
		"bad-version": `---
name: bad-version
description: Something.
version: one
---
`,
		"no-description": `---
name: no-description
---
`,
	}
	for name, content := range cases {
		path := writeSkill(t, dir, name, content)
		if _, err := LoadFile(path); !errors.HasCode(err, errors.CodeParse) {
			t.Fatalf("%s: expected parse error, got %v", name, err)
		}
	}
}

func TestLoadDirSkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "good-skill", `---
name: good-skill
description: A valid skill.
phase: implement
---
`)
	writeSkill(t, dir, "broken-skill", "not a descriptor\n")

	descs, report, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(descs) != 1 || descs[0].Name != "good-skill" {
		t.Fatalf("unexpected descriptors: %v", descs)
	}
	if report.Loaded != 1 || len(report.Skipped) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestInferPhaseAmbiguity(t *testing.T) {
	phase, candidates := InferPhase("review and verify the output")
	if len(candidates) != 2 {
		t.Fatalf("expected two tied candidates, got %v", candidates)
	}
	if phase != PhaseVerify {
		t.Fatalf("expected loop-order tiebreak to verify, got %s", phase)
	}

	phase, candidates = InferPhase("completely unrelated text")
	if phase != PhaseInit || candidates != nil {
		t.Fatalf("expected init fallback, got %s %v", phase, candidates)
	}
}
