package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/loomworks/loom/pkg/errors"
)

func newTestStore(strict bool) *Store {
	return New(NewInMemoryProcessStore(), strict)
}

func TestNestedReadResolution(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(true)

	engine := store.View("run-1", "", "engine")
	if err := engine.Write(ctx, TierProcess, "region", "emea"); err != nil {
		t.Fatalf("process write: %v", err)
	}
	if err := engine.Write(ctx, TierRun, "project", "acme-renewal"); err != nil {
		t.Fatalf("run write: %v", err)
	}

	skill := store.View("run-1", "inv-a", "champion-scoring")
	if err := skill.Write(ctx, TierInvocation, "scratch", 42); err != nil {
		t.Fatalf("invocation write: %v", err)
	}

	for key, want := range map[string]any{
		"scratch": 42,
		"project": "acme-renewal",
		"region":  "emea",
	} {
		entry, err := skill.Read(ctx, key)
		if err != nil {
			t.Fatalf("read %q: %v", key, err)
		}
		if entry.Value != want {
			t.Fatalf("read %q: got %v, want %v", key, entry.Value, want)
		}
	}

	// Invocation shadows run for the same key.
	if err := skill.Write(ctx, TierInvocation, "project", "draft"); err != nil {
		t.Fatalf("shadow write: %v", err)
	}
	entry, err := skill.Read(ctx, "project")
	if err != nil || entry.Value != "draft" {
		t.Fatalf("expected shadowed value, got %v %v", entry, err)
	}
}

func TestSiblingInvocationsIsolated(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(true)

	a := store.View("run-1", "inv-a", "skill-a")
	b := store.View("run-1", "inv-b", "skill-b")

	if err := a.Write(ctx, TierInvocation, "partial", "a-only"); err != nil {
		t.Fatalf("write: %v", err)
	}

	// b's nested read must not surface a's entry.
	if _, err := b.Read(ctx, "partial"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	// An explicit cross-invocation read is a visibility violation.
	if _, err := b.ReadTier(ctx, TierInvocation, "inv-a", "partial"); !errors.HasCode(err, errors.CodeMemoryVisibility) {
		t.Fatalf("expected visibility error, got %v", err)
	}
}

func TestLenientModeReportsNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(false)

	a := store.View("run-1", "inv-a", "skill-a")
	if err := a.Write(ctx, TierInvocation, "partial", 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	b := store.View("run-1", "inv-b", "skill-b")
	if _, err := b.ReadTier(ctx, TierInvocation, "inv-a", "partial"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("expected not found in lenient mode, got %v", err)
	}
}

func TestCrossRunIsolation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(true)

	one := store.View("run-1", "", "engine")
	if err := one.Write(ctx, TierRun, "project", "one"); err != nil {
		t.Fatalf("write: %v", err)
	}
	two := store.View("run-2", "", "engine")
	if _, err := two.ReadTier(ctx, TierRun, "run-1", "project"); !errors.HasCode(err, errors.CodeMemoryVisibility) {
		t.Fatalf("expected visibility error, got %v", err)
	}
	if _, err := two.Read(ctx, "project"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPromoteSurvivesInvocationClose(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(true)

	skill := store.View("run-1", "inv-a", "champion-scoring")
	if err := skill.Write(ctx, TierInvocation, "championStrength", 80); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := skill.Promote(ctx, "championStrength"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	store.CloseInvocation("run-1", "inv-a")

	later := store.View("run-1", "inv-b", "stakeholder-map")
	entry, err := later.Read(ctx, "championStrength")
	if err != nil || entry.Value != 80 {
		t.Fatalf("expected promoted value, got %v %v", entry, err)
	}
	if entry.Tier != TierRun {
		t.Fatalf("expected run tier, got %s", entry.Tier)
	}
}

func TestReleaseRunKeepsProcessTier(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(true)

	v := store.View("run-1", "", "engine")
	if err := v.Write(ctx, TierRun, "scratch", 1); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := v.Write(ctx, TierProcess, "calibration", 1.2); err != nil {
		t.Fatalf("write: %v", err)
	}
	store.ReleaseRun("run-1")

	fresh := store.View("run-1", "", "engine")
	if _, err := fresh.ReadTier(ctx, TierRun, "", "scratch"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("expected gc'd run entry, got %v", err)
	}
	entry, err := fresh.ReadTier(ctx, TierProcess, "", "calibration")
	if err != nil || entry.Value != 1.2 {
		t.Fatalf("expected surviving process entry, got %v %v", entry, err)
	}
}

func TestQueryByTag(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(true)

	v := store.View("run-1", "inv-a", "skill-a")
	if err := v.Write(ctx, TierRun, "a", 1, WithTags("deliverable")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := v.Write(ctx, TierRun, "b", 2); err != nil {
		t.Fatalf("write: %v", err)
	}

	tagged, err := v.Query(ctx, TierRun, "deliverable")
	if err != nil || len(tagged) != 1 || tagged[0].Key != "a" {
		t.Fatalf("unexpected tagged query: %v %v", tagged, err)
	}
	all, err := v.Query(ctx, TierRun, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("unexpected full query: %v %v", all, err)
	}
}

func TestSQLiteProcessStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "loom.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	entry := Entry{
		Key:    "calibration/enterprise-sales",
		Value:  map[string]any{"multiplier": 1.2},
		Writer: "calibrator",
		Tags:   []string{"calibration"},
	}
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, entry.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	value, ok := got.Value.(map[string]any)
	if !ok || value["multiplier"] != 1.2 {
		t.Fatalf("unexpected value: %#v", got.Value)
	}

	// Overwrite is an upsert, not a conflict.
	entry.Value = map[string]any{"multiplier": 1.4}
	if err := store.Put(ctx, entry); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, err = store.Get(ctx, entry.Key)
	if err != nil || got.Value.(map[string]any)["multiplier"] != 1.4 {
		t.Fatalf("unexpected upserted value: %v %v", got, err)
	}

	tagged, err := store.Query(ctx, "calibration")
	if err != nil || len(tagged) != 1 {
		t.Fatalf("unexpected query: %v %v", tagged, err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.HasCode(err, errors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
