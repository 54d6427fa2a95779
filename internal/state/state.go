// Package state defines FileState, the tagged variant every cached path in
// the system carries, along with its stable wire encoding and the mapping
// to host badge-icon names (spec.md §3, §6).
package state

// FileState is the Git working-tree state attributed to a single path.
// Exactly one of the constants below. The integer value of each variant is
// part of the external bus contract — never renumber.
type FileState int

const (
	Unversioned             FileState = 0
	Normal                  FileState = 1
	UpdateRequired          FileState = 2
	LocallyModified         FileState = 3 // staged
	Added                   FileState = 4
	Removed                 FileState = 5
	Conflicting             FileState = 6
	LocallyModifiedUnstaged FileState = 7 // worktree-only
	Ignored                 FileState = 8
	Missing                 FileState = 9 // tracked but absent from worktree
)

func (s FileState) String() string {
	switch s {
	case Unversioned:
		return "Unversioned"
	case Normal:
		return "Normal"
	case UpdateRequired:
		return "UpdateRequired"
	case LocallyModified:
		return "LocallyModified"
	case Added:
		return "Added"
	case Removed:
		return "Removed"
	case Conflicting:
		return "Conflicting"
	case LocallyModifiedUnstaged:
		return "LocallyModifiedUnstaged"
	case Ignored:
		return "Ignored"
	case Missing:
		return "Missing"
	default:
		return "Unknown"
	}
}

// priority ranks states high-to-low for rollup purposes (spec.md §4.3):
// Conflicting > LocallyModifiedUnstaged > LocallyModified >
// {Added, Removed, Missing, Unversioned, UpdateRequired} > Normal > Ignored.
var priority = map[FileState]int{
	Conflicting:             6,
	LocallyModifiedUnstaged: 5,
	LocallyModified:         4,
	Added:                   3,
	Removed:                 3,
	Missing:                 3,
	Unversioned:             3,
	UpdateRequired:          3,
	Normal:                  1,
	Ignored:                 0,
}

// Priority returns the rollup priority rank of s; higher wins.
func Priority(s FileState) int {
	return priority[s]
}

// HigherPriority reports whether candidate should replace current under the
// monotone-in-priority rule: a higher-priority state never loses to a lower
// one within a single scan.
func HigherPriority(candidate, current FileState) bool {
	return priority[candidate] > priority[current]
}

// LiftForAncestor converts a file's state into the state its ancestor
// directory (including the repo root itself) should carry when the
// file's state propagates upward. The whole tied-priority group —
// Added, Removed, Missing, Unversioned, UpdateRequired — lifts to
// LocallyModified: a directory is "modified", not "added" or
// "untracked" (spec.md §4.1, §8 S4). Every other state propagates as
// itself.
func LiftForAncestor(s FileState) FileState {
	if priority[s] == 3 {
		return LocallyModified
	}
	return s
}

// IconName returns the host badge-icon name for s, or "" when no badge
// should be drawn (spec.md §6's table).
func IconName(s FileState) string {
	switch s {
	case LocallyModified:
		return "vcs-locally-modified"
	case LocallyModifiedUnstaged:
		return "vcs-locally-modified-unstaged"
	case Added:
		return "vcs-added"
	case Removed:
		return "vcs-removed"
	case Conflicting:
		return "vcs-conflicting"
	case UpdateRequired:
		return "vcs-update-required"
	case Missing:
		return "vcs-missing"
	case Normal, Unversioned, Ignored:
		return ""
	default:
		return ""
	}
}
