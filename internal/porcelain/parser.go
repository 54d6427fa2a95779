// Package porcelain turns raw `git status --porcelain -z -u --ignored`
// output into a {absolute path → FileState} map, synthesizing the
// ancestor-directory entries the rollup in internal/worker depends on
// (spec.md §4.1). It never invokes git itself — internal/worker owns the
// subprocess; this package is a pure function over bytes.
package porcelain

import (
	"bytes"
	"path/filepath"
	"strings"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/state"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/vcserr"
)

// Result is the outcome of parsing one porcelain stream: the per-path state
// map (files and their synthesized ancestor directories, repoRoot excluded)
// plus any records that were skipped because they could not be interpreted.
type Result struct {
	States  map[string]state.FileState
	Skipped []error
}

// ParseZ parses NUL-terminated porcelain v1 records (the `-z` format git
// emits; spec.md mandates invoking git with `-z -u --ignored`). repoRoot is
// joined with each record's relative path to produce the map's keys.
func ParseZ(repoRoot string, data []byte) Result {
	res := Result{States: make(map[string]state.FileState)}
	if len(data) == 0 {
		return res
	}
	// git always terminates the last record with NUL too, so a trailing
	// empty token from the final split is expected and dropped.
	tokens := bytes.Split(data, []byte{0})
	if len(tokens) > 0 && len(tokens[len(tokens)-1]) == 0 {
		tokens = tokens[:len(tokens)-1]
	}

	for i := 0; i < len(tokens); i++ {
		rec := tokens[i]
		if len(rec) < 3 {
			res.Skipped = append(res.Skipped, &vcserr.MalformedPorcelain{
				Record: string(rec),
				Reason: "record shorter than XY + space",
			})
			continue
		}
		x, y := rec[0], rec[1]
		if rec[2] != ' ' {
			res.Skipped = append(res.Skipped, &vcserr.MalformedPorcelain{
				Record: string(rec),
				Reason: "missing separator after XY",
			})
			continue
		}
		relPath := string(rec[3:])

		// Rename/copy records carry the old path as a second NUL-terminated
		// token immediately following this one; consume and discard it
		// (spec.md §4.1: "the next NUL-terminated token is the old source
		// path — consume and discard it for state purposes").
		isRenameOrCopy := x == 'R' || x == 'C' || y == 'R' || y == 'C'
		if isRenameOrCopy && i+1 < len(tokens) {
			i++
		}

		fs, ok := stateFromXY(x, y)
		if !ok {
			res.Skipped = append(res.Skipped, &vcserr.MalformedPorcelain{
				Record: string(rec),
				Reason: "unrecognized XY code",
			})
			continue
		}
		// The rename/copy rule overrides the general mapping (which would
		// otherwise read a copy's 'C' index code as Added): the new path
		// always records as LocallyModified unless it's also a conflict.
		if isRenameOrCopy && fs != state.Conflicting {
			fs = state.LocallyModified
		}

		absPath := filepath.Join(repoRoot, relPath)
		mergeState(res.States, absPath, fs)
		propagateAncestors(res.States, repoRoot, absPath, fs)
	}
	return res
}

// Parse handles the LF-terminated, non-`-z` porcelain format as a fallback
// (spec.md §4.1's secondary input shape), including core.quotePath's
// `"…"`-wrapped, backslash/octal-escaped paths. Rename records on this path
// carry old and new path separated by " -> " on the same line.
func Parse(repoRoot string, data []byte) Result {
	res := Result{States: make(map[string]state.FileState)}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		if len(line) < 3 || line[2] != ' ' {
			res.Skipped = append(res.Skipped, &vcserr.MalformedPorcelain{Record: line, Reason: "missing separator after XY"})
			continue
		}
		x, y := line[0], line[1]
		rest := line[3:]
		isRenameOrCopy := x == 'R' || x == 'C' || y == 'R' || y == 'C'
		if idx := strings.Index(rest, " -> "); idx >= 0 {
			rest = rest[idx+4:]
		}
		relPath := maybeUnquote(rest)

		fs, ok := stateFromXY(x, y)
		if !ok {
			res.Skipped = append(res.Skipped, &vcserr.MalformedPorcelain{Record: line, Reason: "unrecognized XY code"})
			continue
		}
		if isRenameOrCopy && fs != state.Conflicting {
			fs = state.LocallyModified
		}

		absPath := filepath.Join(repoRoot, relPath)
		mergeState(res.States, absPath, fs)
		propagateAncestors(res.States, repoRoot, absPath, fs)
	}
	return res
}

// stateFromXY maps a porcelain XY code pair to a FileState, grounded in
// git-status-parser.cpp::parseFileStatusFromChars and spec.md §4.1's state
// mapping table. Conflicts win first: a 'U' on either side, or both sides
// agreeing on 'A' or 'D' (both-added / both-deleted), always yields
// Conflicting.
func stateFromXY(x, y byte) (state.FileState, bool) {
	switch {
	case x == 'U' || y == 'U':
		return state.Conflicting, true
	case x == 'A' && y == 'A':
		return state.Conflicting, true
	case x == 'D' && y == 'D':
		return state.Conflicting, true
	case x == '?' && y == '?':
		return state.Unversioned, true
	case x == '!' && y == '!':
		return state.Ignored, true
	}

	if x != ' ' && x != '?' {
		switch x {
		case 'A', 'C':
			return state.Added, true
		case 'D':
			return state.Removed, true
		default: // M, R, T, ...
			return state.LocallyModified, true
		}
	}

	// X is blank (nothing staged): classify by the worktree column.
	switch y {
	case 'M':
		return state.LocallyModifiedUnstaged, true
	case 'D':
		return state.Missing, true
	case ' ':
		return state.Normal, true
	default:
		return state.LocallyModifiedUnstaged, true
	}
}

// mergeState installs fs at path unless a higher-priority state is already
// recorded there, implementing the monotone-in-priority merge rule shared
// with directory rollup.
func mergeState(m map[string]state.FileState, path string, fs state.FileState) {
	if cur, ok := m[path]; !ok || state.HigherPriority(fs, cur) {
		m[path] = fs
	}
}

// propagateAncestors lifts fs onto every directory from filepath.Dir(absPath)
// up to, but not including, repoRoot, merging by priority,
// grounded in git-version-worker.cpp::retrieval()'s makeDirGroup step.
func propagateAncestors(m map[string]state.FileState, repoRoot, absPath string, fs state.FileState) {
	lifted := state.LiftForAncestor(fs)
	dir := filepath.Dir(absPath)
	clean := filepath.Clean(repoRoot)
	for dir != clean && dir != "." && dir != string(filepath.Separator) {
		mergeState(m, dir, lifted)
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
