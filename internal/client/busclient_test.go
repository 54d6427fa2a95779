package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxdeepin/dde-file-manager-vcs-gitd/internal/state"
)

func TestDecodeStatesConvertsWireInts(t *testing.T) {
	raw := map[string]int32{
		"/repo/a.txt": int32(state.LocallyModified),
		"/repo":       int32(state.Conflicting),
	}
	got := decodeStates(raw)
	assert.Equal(t, state.LocallyModified, got["/repo/a.txt"])
	assert.Equal(t, state.Conflicting, got["/repo"])
}

func TestCallWithoutConnectionReturnsBusUnavailable(t *testing.T) {
	c := New("org.deepin.FileManager.Git", "/org/deepin/filemanager/git", nil)
	defer c.Close()

	ok, err := c.RegisterRepository("/some/repo")
	require.Error(t, err)
	assert.False(t, ok)
	assert.False(t, c.Connected())
}

func TestGetFileStatusesAsyncWithoutConnectionDoesNotPanic(t *testing.T) {
	c := New("org.deepin.FileManager.Git", "/org/deepin/filemanager/git", nil)
	defer c.Close()

	received := make(chan map[string]state.FileState, 1)
	c.SetFileStatusesReadyHandler(func(m map[string]state.FileState) {
		received <- m
	})
	c.GetFileStatusesAsync([]string{"/a.txt"})

	select {
	case <-received:
		t.Fatal("handler must not fire when the underlying call failed")
	default:
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New("org.deepin.FileManager.Git", "/org/deepin/filemanager/git", nil)
	c.Close()
	c.Close() // must not panic on double-close
}
