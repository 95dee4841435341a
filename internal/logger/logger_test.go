package logger

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

// helper to close non-nil closers and ignore errors
func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestWriters_WithDirOnly(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}
	outW, errW, err := cfg.Writers("demo")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("expected both writers non-nil when Dir is set")
	}
	// Write a bit and close to ensure files are created
	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	closeIf(outW)
	closeIf(errW)
	// Verify files exist at derived paths
	outPath := filepath.Join(dir, "demo.stdout.log")
	errPath := filepath.Join(dir, "demo.stderr.log")
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("stdout log not created at %s: %v", outPath, err)
	}
	if _, err := os.Stat(errPath); err != nil {
		t.Fatalf("stderr log not created at %s: %v", errPath, err)
	}
}

func TestWriters_ExplicitPathsOverrideDir(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "custom-out.log")
	errPath := filepath.Join(dir, "custom-err.log")
	cfg := Config{Dir: dir, StdoutPath: outPath, StderrPath: errPath}
	outW, errW, err := cfg.Writers("ignored")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	_, _ = outW.Write([]byte("x\n"))
	_, _ = errW.Write([]byte("y\n"))
	closeIf(outW)
	closeIf(errW)
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("explicit stdout path not used: %v", err)
	}
	if _, err := os.Stat(errPath); err != nil {
		t.Fatalf("explicit stderr path not used: %v", err)
	}
}

func TestWriters_EmptyConfigYieldsNil(t *testing.T) {
	var cfg Config
	outW, errW, err := cfg.Writers("demo")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers with empty config")
	}
}

func TestRotationDefaults(t *testing.T) {
	if valOr(0, DefaultMaxSizeMB) != DefaultMaxSizeMB {
		t.Fatalf("zero should yield default")
	}
	if valOr(42, DefaultMaxSizeMB) != 42 {
		t.Fatalf("explicit value should win")
	}
}
