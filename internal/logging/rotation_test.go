package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRotatingWriter_RotatesBySize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	chunk := []byte(strings.Repeat("x", 600*1024))
	for i := 0; i < 3; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	for _, name := range []string{path, path + ".1", path + ".2"} {
		if _, err := os.Stat(name); err != nil {
			t.Errorf("expected %s to exist: %v", filepath.Base(name), err)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("backups beyond MaxBackups should not exist")
	}
}

func TestRotatingWriter_Compress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	rw, err := NewRotatingWriter(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 1, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer rw.Close()

	if _, err := rw.Write([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}
	if err := rw.Rotate(); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := os.Stat(path + ".1.gz"); err != nil {
		t.Errorf("compressed backup missing: %v", err)
	}
	if _, err := os.Stat(path + ".1"); !os.IsNotExist(err) {
		t.Error("uncompressed backup should be removed")
	}
}

func TestRotatingWriter_WriteAfterClose(t *testing.T) {
	rw, err := NewRotatingWriter(filepath.Join(t.TempDir(), FileName), DefaultRotationConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := rw.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Write([]byte("x")); err == nil {
		t.Error("expected error writing to closed writer")
	}
}
