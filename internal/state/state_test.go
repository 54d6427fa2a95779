package state

import "testing"

func TestWireEncodingStable(t *testing.T) {
	// These integers are part of the external bus contract (spec.md §6) and
	// must never shift.
	cases := map[FileState]int{
		Unversioned:             0,
		Normal:                  1,
		UpdateRequired:          2,
		LocallyModified:         3,
		Added:                   4,
		Removed:                 5,
		Conflicting:             6,
		LocallyModifiedUnstaged: 7,
		Ignored:                 8,
		Missing:                 9,
	}
	for s, want := range cases {
		if int(s) != want {
			t.Errorf("FileState %s = %d, want %d", s, int(s), want)
		}
	}
}

func TestLiftForAncestor(t *testing.T) {
	if got := LiftForAncestor(Added); got != LocallyModified {
		t.Errorf("LiftForAncestor(Added) = %v, want LocallyModified", got)
	}
	if got := LiftForAncestor(Removed); got != LocallyModified {
		t.Errorf("LiftForAncestor(Removed) = %v, want LocallyModified", got)
	}
	if got := LiftForAncestor(Conflicting); got != Conflicting {
		t.Errorf("LiftForAncestor(Conflicting) = %v, want Conflicting (no lift)", got)
	}
	if got := LiftForAncestor(Ignored); got != Ignored {
		t.Errorf("LiftForAncestor(Ignored) = %v, want Ignored", got)
	}
	// The whole tied "other" priority group lifts, not just Added/Removed
	// (spec.md §8 S4: an untracked file at repo root still rolls the root
	// up to LocallyModified, not Unversioned).
	for _, s := range []FileState{Missing, Unversioned, UpdateRequired} {
		if got := LiftForAncestor(s); got != LocallyModified {
			t.Errorf("LiftForAncestor(%s) = %v, want LocallyModified", s, got)
		}
	}
}

func TestPriorityOrdering(t *testing.T) {
	ordered := []FileState{Conflicting, LocallyModifiedUnstaged, LocallyModified, Added, Normal, Ignored}
	for i := 0; i+1 < len(ordered); i++ {
		if Priority(ordered[i]) < Priority(ordered[i+1]) {
			t.Errorf("expected priority(%s) >= priority(%s)", ordered[i], ordered[i+1])
		}
	}
	if !HigherPriority(Conflicting, LocallyModified) {
		t.Error("Conflicting should outrank LocallyModified")
	}
	if HigherPriority(Ignored, Normal) {
		t.Error("Ignored should not outrank Normal")
	}
}

func TestIconNameTable(t *testing.T) {
	cases := map[FileState]string{
		Normal:                  "",
		LocallyModified:         "vcs-locally-modified",
		LocallyModifiedUnstaged: "vcs-locally-modified-unstaged",
		Added:                   "vcs-added",
		Removed:                 "vcs-removed",
		Conflicting:             "vcs-conflicting",
		UpdateRequired:          "vcs-update-required",
		Missing:                 "vcs-missing",
		Unversioned:             "",
		Ignored:                 "",
	}
	for s, want := range cases {
		if got := IconName(s); got != want {
			t.Errorf("IconName(%s) = %q, want %q", s, got, want)
		}
	}
}
