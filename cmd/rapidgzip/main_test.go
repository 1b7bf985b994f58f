package main

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func writeGzipFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	gw := gzip.NewWriter(f)
	if _, err := gw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunDecompressesToStdoutFile(t *testing.T) {
	dir := t.TempDir()
	data := []byte("cli round trip content")
	path := writeGzipFile(t, dir, "input.gz", data)

	outPath := filepath.Join(dir, "out.bin")
	origStdout := os.Stdout
	f, err := os.Create(outPath)
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = f
	code := run([]string{"-c", path})
	f.Close()
	os.Stdout = origStdout

	if code != exitOK {
		t.Fatalf("run() = %d, want exitOK", code)
	}
	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("stdout output = %q, want %q", got, data)
	}
}

func TestRunNoArgsIsArgError(t *testing.T) {
	if code := run(nil); code != exitArgError {
		t.Errorf("run(nil) = %d, want exitArgError", code)
	}
}

func TestRunMissingFileIsIOError(t *testing.T) {
	if code := run([]string{"-c", "/nonexistent/path.gz"}); code != exitIOError {
		t.Errorf("run() = %d, want exitIOError", code)
	}
}

func TestRunConfigFileSuppliesDefaultWorkerCount(t *testing.T) {
	dir := t.TempDir()
	data := []byte("config-driven fixture content")
	path := writeGzipFile(t, dir, "cfg.gz", data)

	cfgPath := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(cfgPath, []byte("P: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	code := run([]string{"-c", "-config", cfgPath, path})
	if code != exitOK {
		t.Fatalf("run() = %d, want exitOK", code)
	}
}

func TestRunConfigFileMissingIsIOError(t *testing.T) {
	dir := t.TempDir()
	data := []byte("irrelevant")
	path := writeGzipFile(t, dir, "cfg2.gz", data)

	code := run([]string{"-config", filepath.Join(dir, "missing.yaml"), path})
	if code != exitIOError {
		t.Errorf("run() = %d, want exitIOError", code)
	}
}

func TestRunWritesOutputFileWhenNotStdout(t *testing.T) {
	dir := t.TempDir()
	data := []byte("file output content")
	path := writeGzipFile(t, dir, "sample.gz", data)

	code := run([]string{path})
	if code != exitOK {
		t.Fatalf("run() = %d, want exitOK", code)
	}
	got, err := os.ReadFile(filepath.Join(dir, "sample"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("output file content = %q, want %q", got, data)
	}
}
