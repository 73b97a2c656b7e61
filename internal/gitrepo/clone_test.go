package gitrepo

import (
	"path/filepath"
	"testing"
)

func TestLocalPath(t *testing.T) {
	got := LocalPath("/data/clones", "acme", "widgets")
	want := filepath.Join("/data/clones", "acme_widgets")
	if got != want {
		t.Errorf("LocalPath = %s, want %s", got, want)
	}
}

func TestIsClonedMissing(t *testing.T) {
	if IsCloned(t.TempDir()) {
		t.Error("empty dir should not count as a clone")
	}
	if IsCloned(filepath.Join(t.TempDir(), "nope")) {
		t.Error("missing dir should not count as a clone")
	}
}
