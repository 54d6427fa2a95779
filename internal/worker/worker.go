// Package worker invokes git as a subprocess to rescan a single repository
// and feeds the result through internal/porcelain, implementing spec.md
// §4.3's Version Worker. It never links Git; it only shells out to it,
// grounded in tmux/git.go's exec.Command usage and
// git-version-worker.cpp's retrieval() for the invocation shape and
// timeout discipline.
package worker

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/porcelain"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/state"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/vcserr"
)

// ScanTimeout bounds a single `git status` invocation (spec.md §4.3: a
// hung git process must not wedge the worker pool forever).
const ScanTimeout = 10 * time.Second

// Scan is one repository rescan's outcome.
type Scan struct {
	RepoRoot string
	Files    map[string]state.FileState
	Skipped  []error
}

// Worker rescans repositories on demand, deduplicating concurrent rescan
// requests for the same repository root via singleflight so a burst of
// filesystem events collapses into one `git status` invocation.
type Worker struct {
	group singleflight.Group
	// gitPath overrides the resolved `git` binary, set by tests.
	gitPath string
}

// New returns a Worker that invokes the `git` found on PATH.
func New() *Worker {
	return &Worker{gitPath: "git"}
}

// Scan runs `git --no-optional-locks status --porcelain -z -u --ignored`
// in repoRoot, parses the output, and returns the resulting file-state
// map. Concurrent calls for the same repoRoot share a single invocation.
func (w *Worker) Scan(ctx context.Context, repoRoot string) (Scan, error) {
	v, err, _ := w.group.Do(repoRoot, func() (interface{}, error) {
		return w.scanOnce(ctx, repoRoot)
	})
	if err != nil {
		return Scan{}, err
	}
	return v.(Scan), nil
}

func (w *Worker) scanOnce(ctx context.Context, repoRoot string) (Scan, error) {
	ctx, cancel := context.WithTimeout(ctx, ScanTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, w.gitPath, "-C", repoRoot,
		"--no-optional-locks", "status", "--porcelain", "-z", "-u", "--ignored")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Scan{}, &vcserr.GitInvocationFailure{
			RepoRoot: repoRoot,
			Stderr:   stderr.String(),
			Cause:    err,
		}
	}

	res := porcelain.ParseZ(repoRoot, stdout.Bytes())
	res.States[filepath.Clean(repoRoot)] = Rollup(res.States)
	return Scan{RepoRoot: repoRoot, Files: res.States, Skipped: res.Skipped}, nil
}

// Rollup computes a repository's overall status from its parsed file map,
// grounded in git-version-worker.cpp::calculateRepositoryRootStatus
// (spec.md §4.3): Ignored entries never influence the result, Conflicting
// short-circuits the walk, otherwise each state is lifted with
// state.LiftForAncestor and the highest-priority lifted state wins, and an
// empty or all-Ignored map rolls up to Normal.
func Rollup(files map[string]state.FileState) state.FileState {
	root := state.Normal
	for _, fs := range files {
		if fs == state.Ignored {
			continue
		}
		if fs == state.Conflicting {
			return state.Conflicting
		}
		lifted := state.LiftForAncestor(fs)
		if state.HigherPriority(lifted, root) {
			root = lifted
		}
	}
	return root
}
