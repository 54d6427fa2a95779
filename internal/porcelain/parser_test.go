package porcelain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/state"
)

func z(records ...string) []byte {
	var out []byte
	for _, r := range records {
		out = append(out, []byte(r)...)
		out = append(out, 0)
	}
	return out
}

func TestParseZ_BasicStates(t *testing.T) {
	cases := []struct {
		name   string
		record string
		path   string
		want   state.FileState
	}{
		{"unstaged modify", " M file.txt", "file.txt", state.LocallyModifiedUnstaged},
		{"staged add", "A  file.txt", "file.txt", state.Added},
		{"staged delete", "D  file.txt", "file.txt", state.Removed},
		{"staged modify", "M  file.txt", "file.txt", state.LocallyModified},
		{"untracked", "?? newfile.txt", "newfile.txt", state.Unversioned},
		{"ignored", "!! build/", "build", state.Ignored},
		{"conflict both unmerged", "UU file.txt", "file.txt", state.Conflicting},
		{"conflict added-by-us", "AU file.txt", "file.txt", state.Conflicting},
		{"missing from worktree", " D file.txt", "file.txt", state.Missing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := ParseZ("/repo", z(tc.record))
			if len(res.Skipped) != 0 {
				t.Fatalf("unexpected skipped records: %v", res.Skipped)
			}
			got, ok := res.States["/repo/"+tc.path]
			if !ok {
				t.Fatalf("no entry for %s in %v", tc.path, res.States)
			}
			if got != tc.want {
				t.Errorf("state = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseZ_RenameConsumesOldPath(t *testing.T) {
	res := ParseZ("/repo", z("R  new.txt", "old.txt"))
	if len(res.Skipped) != 0 {
		t.Fatalf("unexpected skipped records: %v", res.Skipped)
	}
	if _, ok := res.States["/repo/old.txt"]; ok {
		t.Error("old path should not appear as its own entry")
	}
	got, ok := res.States["/repo/new.txt"]
	if !ok {
		t.Fatal("new path missing from result")
	}
	if got != state.LocallyModified {
		t.Errorf("rename state = %v, want LocallyModified", got)
	}
}

func TestParseZ_AncestorPropagation(t *testing.T) {
	res := ParseZ("/repo", z("M  a/b/c/file.txt"))
	for _, dir := range []string{"/repo/a", "/repo/a/b", "/repo/a/b/c"} {
		got, ok := res.States[dir]
		if !ok {
			t.Fatalf("missing ancestor entry for %s", dir)
		}
		if got != state.LocallyModified {
			t.Errorf("%s state = %v, want LocallyModified", dir, got)
		}
	}
	if _, ok := res.States["/repo"]; ok {
		t.Error("repo root itself must not be synthesized")
	}
}

func TestParseZ_AddedLiftsToLocallyModifiedOnAncestor(t *testing.T) {
	res := ParseZ("/repo", z("A  dir/newfile.txt"))
	if got := res.States["/repo/dir/newfile.txt"]; got != state.Added {
		t.Fatalf("file state = %v, want Added", got)
	}
	if got := res.States["/repo/dir"]; got != state.LocallyModified {
		t.Errorf("ancestor state = %v, want LocallyModified (lifted from Added)", got)
	}
}

func TestParseZ_AncestorPriorityMerge(t *testing.T) {
	// Two files share "dir": one Normal-equivalent (untracked -> not even
	// normal, but lower priority than conflicting), one Conflicting. The
	// directory must end up Conflicting regardless of record order.
	res := ParseZ("/repo", z("?? dir/a.txt", "UU dir/b.txt"))
	if got := res.States["/repo/dir"]; got != state.Conflicting {
		t.Errorf("dir state = %v, want Conflicting", got)
	}
}

func TestParseZ_MalformedRecordSkipped(t *testing.T) {
	res := ParseZ("/repo", z("X"))
	if len(res.Skipped) != 1 {
		t.Fatalf("expected 1 skipped record, got %d: %v", len(res.Skipped), res.Skipped)
	}
}

func TestParse_LFWithQuotedOctalPath(t *testing.T) {
	// "\344\270\255\346\226\207.txt" decodes to the UTF-8 bytes for "中文.txt".
	line := []byte("M  \"\\344\\270\\255\\346\\226\\207.txt\"\n")
	res := Parse("/repo", line)
	want := "/repo/中文.txt"
	if _, ok := res.States[want]; !ok {
		got := make([]string, 0, len(res.States))
		for k := range res.States {
			got = append(got, k)
		}
		t.Fatalf("expected decoded path %q in %v", want, got)
	}
}

func TestParse_QuotedEscapes(t *testing.T) {
	line := []byte(`M  "a \"b\" c.txt"` + "\n")
	res := Parse("/repo", line)
	want := `/repo/a "b" c.txt`
	if diff := cmp.Diff([]string{want}, keysOf(res.States)); diff != "" {
		t.Errorf("unexpected keys (-want +got):\n%s", diff)
	}
}

func keysOf(m map[string]state.FileState) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func FuzzParseZ(f *testing.F) {
	f.Add(z(" M file.txt"))
	f.Add(z("?? new.txt"))
	f.Add(z("R  new.txt", "old.txt"))
	f.Add(z("UU conflict.txt"))
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		// Must never panic on arbitrary input, regardless of how malformed.
		_ = ParseZ("/repo", data)
	})
}
