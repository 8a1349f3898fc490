package loop

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomworks/loom/pkg/catalog"
	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/gate"
)

const salesLoopYAML = `
id: enterprise-sales
version: 1.0.0
description: Phase-gated enterprise sales loop.
estimated_duration: 2h
phases:
  - phase: assess
    skills: [champion-scoring]
    gate:
      kind: automatic
      criteria: "championStrength > 30"
  - phase: identify
    skills: [stakeholder-map]
`

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New([]catalog.SkillDescriptor{
		{Name: "champion-scoring", Version: "1.0.0", Description: "score", Phase: catalog.PhaseAssess, Category: catalog.CategoryAnalysis},
		{Name: "stakeholder-map", Version: "1.0.0", Description: "map", Phase: catalog.PhaseIdentify, Category: catalog.CategoryAnalysis},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

func TestParseYAML(t *testing.T) {
	tpl, err := ParseYAML([]byte(salesLoopYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tpl.ID != "enterprise-sales" || len(tpl.Phases) != 2 {
		t.Fatalf("unexpected template: %+v", tpl)
	}
	g := tpl.Phases[0].Gate
	if g == nil || g.Kind != gate.KindAutomatic || !g.Blocking() {
		t.Fatalf("unexpected gate: %+v", g)
	}
	if tpl.EstimatedDuration.Std() != 2*time.Hour {
		t.Fatalf("unexpected estimate: %s", tpl.EstimatedDuration)
	}
}

func TestParseJSON(t *testing.T) {
	data := []byte(`{
		"id": "hotfix",
		"version": "1.0.0",
		"phases": [
			{"phase": "implement", "skills": []},
			{"phase": "ship", "skills": [], "gate": {"kind": "human", "approver": "oncall"}}
		]
	}`)
	tpl, err := ParseJSON(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !tpl.Phases[1].Gate.Blocking() {
		t.Fatal("human gates must block")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]string{
		"no id":          "phases:\n  - phase: init\n",
		"no phases":      "id: x\n",
		"bad phase":      "id: x\nphases:\n  - phase: moonwalk\n",
		"dup phase":      "id: x\nphases:\n  - phase: init\n  - phase: init\n",
		"bad gate kind":  "id: x\nphases:\n  - phase: init\n    gate:\n      kind: wizard\n",
		"bad criteria":   "id: x\nphases:\n  - phase: init\n    gate:\n      kind: automatic\n      criteria: \"a ~ b\"\n",
	}
	for name, doc := range cases {
		if _, err := ParseYAML([]byte(doc)); !errors.HasCode(err, errors.CodeParse) {
			t.Fatalf("%s: expected parse error, got %v", name, err)
		}
	}
}

func TestBindAgainstCatalog(t *testing.T) {
	cat := testCatalog(t)
	tpl, err := ParseYAML([]byte(salesLoopYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := tpl.Bind(cat); err != nil {
		t.Fatalf("bind: %v", err)
	}

	missing := &Template{
		ID:      "broken",
		Version: "1.0.0",
		Phases:  []PhaseSpec{{Phase: catalog.PhaseAssess, Skills: []string{"ghost"}}},
	}
	if err := missing.Bind(cat); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	mistagged := &Template{
		ID:      "mistagged",
		Version: "1.0.0",
		Phases:  []PhaseSpec{{Phase: catalog.PhaseShip, Skills: []string{"champion-scoring"}}},
	}
	if err := mistagged.Bind(cat); !errors.HasCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestStoreVersioning(t *testing.T) {
	cat := testCatalog(t)
	s := NewStore()

	v1, _ := ParseYAML([]byte(salesLoopYAML))
	if err := s.Add(v1, cat); err != nil {
		t.Fatalf("add: %v", err)
	}

	dup, _ := ParseYAML([]byte(salesLoopYAML))
	if err := s.Add(dup, cat); !errors.HasCode(err, errors.CodeVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	v2, _ := ParseYAML([]byte(salesLoopYAML))
	v2.Version = "1.1.0"
	if err := s.Add(v2, cat); err != nil {
		t.Fatalf("add v2: %v", err)
	}

	latest, err := s.Get("enterprise-sales", "")
	if err != nil || latest.Version != "1.1.0" {
		t.Fatalf("expected 1.1.0, got %v %v", latest, err)
	}
	pinned, err := s.Get("enterprise-sales", "1.0.0")
	if err != nil || pinned.Version != "1.0.0" {
		t.Fatalf("expected pinned 1.0.0, got %v %v", pinned, err)
	}
	if _, err := s.Get("unknown", ""); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLoadDirSkipsBroken(t *testing.T) {
	cat := testCatalog(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sales.yaml"), []byte(salesLoopYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("id: broken\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := NewStore()
	loaded, err := s.LoadDir(dir, cat)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if loaded != 1 {
		t.Fatalf("expected 1 loaded, got %d", loaded)
	}
}
