package sink

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirSinkWritesFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDirSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver("report.txt", []byte("hello")); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	if err != nil || string(got) != "hello" {
		t.Fatalf("got %q, err %v", got, err)
	}
}

func TestDirSinkResolvesCollisionWithNumericSuffix(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewDirSink(dir)
	if err := s.Deliver("report.txt", []byte("first")); err != nil {
		t.Fatal(err)
	}
	if err := s.Deliver("report.txt", []byte("second")); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(filepath.Join(dir, "report.txt"))
	second, _ := os.ReadFile(filepath.Join(dir, "report (2).txt"))
	if string(first) != "first" || string(second) != "second" {
		t.Fatalf("got first=%q second=%q", first, second)
	}
}

func TestDirSourceReadsFileAndBasename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input.bin")
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	name, data, err := DirSource{}.Read(path)
	if err != nil || name != "input.bin" || string(data) != "data" {
		t.Fatalf("got name=%q data=%q err=%v", name, data, err)
	}
}
