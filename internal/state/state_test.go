package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeRaw(dir, content string) error {
	return os.WriteFile(filepath.Join(dir, fileName), []byte(content), 0600)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	in := Snapshot{
		Brightness: 7,
		Color:      "255 80 0",
		SavedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := Save(dir, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	out, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out == nil {
		t.Fatal("Load returned nil snapshot")
	}
	if out.Brightness != in.Brightness || out.Color != in.Color {
		t.Fatalf("loaded %+v, want %+v", out, in)
	}
}

func TestLoadMissingFileReturnsNil(t *testing.T) {
	snap, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load of missing file: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot, got %+v", snap)
	}
}

func TestSaveCreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	if err := Save(dir, Snapshot{Brightness: 3}); err != nil {
		t.Fatalf("Save into missing dir: %v", err)
	}

	snap, err := Load(dir)
	if err != nil || snap == nil {
		t.Fatalf("Load after Save: snap=%v err=%v", snap, err)
	}
	if snap.Brightness != 3 {
		t.Fatalf("Brightness = %d, want 3", snap.Brightness)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, Snapshot{Brightness: 1}); err != nil {
		t.Fatal(err)
	}
	// Corrupt the file in place.
	if err := writeRaw(dir, "\tnot yaml {{{"); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir); err == nil {
		t.Fatal("expected a parse error for a corrupt state file")
	}
}
