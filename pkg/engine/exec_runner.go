// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/loomworks/loom/pkg/catalog"
	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/memory"
)

// ExecRunner executes a skill's `run` script from its descriptor
// directory. The script receives run identity through LOOM_* variables
// and reports deliverables as a JSON object on stdout; an empty stdout
// means no deliverables.
type ExecRunner struct{}

// Run implements SkillRunner.
func (ExecRunner) Run(ctx context.Context, desc catalog.SkillDescriptor, mem *memory.View) (map[string]any, error) {
	script := filepath.Join(desc.Dir, "run")
	if _, err := os.Stat(script); err != nil {
		return nil, errors.New(errors.CodeSkillFailure,
			fmt.Sprintf("skill %s has no run script", desc.Key()), err)
	}

	cmd := exec.CommandContext(ctx, script)
	cmd.Dir = desc.Dir
	cmd.Env = append(os.Environ(),
		"LOOM_RUN_ID="+mem.RunID(),
		"LOOM_INVOCATION_ID="+mem.InvocationID(),
		"LOOM_SKILL="+desc.Name,
		"LOOM_PHASE="+string(desc.Phase),
	)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if err := cmd.Run(); err != nil {
		return nil, errors.New(errors.CodeSkillFailure,
			fmt.Sprintf("skill %s: %s", desc.Key(), bytes.TrimSpace(stderrBuf.Bytes())), err).
			WithRecoverable(true)
	}

	stdout := bytes.TrimSpace(stdoutBuf.Bytes())
	if len(stdout) == 0 {
		return map[string]any{}, nil
	}
	var outputs map[string]any
	if err := json.Unmarshal(stdout, &outputs); err != nil {
		return nil, errors.New(errors.CodeSkillFailure,
			fmt.Sprintf("skill %s wrote invalid deliverable JSON", desc.Key()), err)
	}
	return outputs, nil
}
