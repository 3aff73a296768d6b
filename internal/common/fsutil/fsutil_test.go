package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if runtime.GOOS == "windows" {
		t.Setenv("USERPROFILE", home)
	}
	if got, err := ExpandHome("/tmp"); err != nil || got != "/tmp" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if got, err := ExpandHome(""); err != nil || got != "" {
		t.Fatalf("got %q err=%v", got, err)
	}
	p, err := ExpandHome("~")
	if err != nil || p != home {
		t.Fatalf("expected %q, got %q err=%v", home, p, err)
	}
	exp, err := ExpandHome("~/models")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if runtime.GOOS != "windows" && exp != filepath.Join(home, "models") {
		t.Fatalf("unexpected expanded path: %q", exp)
	}
}

func TestResolveDir(t *testing.T) {
	dir := t.TempDir()
	got, err := ResolveDir(dir)
	if err != nil || got != dir {
		t.Fatalf("got %q err=%v", got, err)
	}
	if _, err := ResolveDir(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	f := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ResolveDir(f); err == nil {
		t.Fatalf("expected error for regular file")
	}
	if _, err := ResolveDir(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestIsFile(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "bin")
	if err := os.WriteFile(f, []byte("x"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !IsFile(f) {
		t.Fatalf("expected file")
	}
	if IsFile(dir) || IsFile(filepath.Join(dir, "nope")) {
		t.Fatalf("dir and missing path must not be files")
	}
}
