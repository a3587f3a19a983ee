package logging

import (
	"compress/gzip"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
)

const testLogPath = "/logs/test.log"

func readFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestNewRotatingWriter(t *testing.T) {
	t.Run("creates log file and directories", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		rw, err := NewRotatingWriter(fs, "/nested/dir/test.log", DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		defer func() { _ = rw.Close() }()

		if ok, _ := afero.Exists(fs, "/nested/dir/test.log"); !ok {
			t.Error("log file was not created")
		}
	})

	t.Run("appends to existing file", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		if err := afero.WriteFile(fs, testLogPath, []byte("initial content\n"), 0o644); err != nil {
			t.Fatal(err)
		}

		rw, err := NewRotatingWriter(fs, testLogPath, DefaultRotationConfig())
		if err != nil {
			t.Fatalf("NewRotatingWriter failed: %v", err)
		}
		if got := rw.CurrentSize(); got != int64(len("initial content\n")) {
			t.Errorf("CurrentSize() = %d, want %d", got, len("initial content\n"))
		}
		if _, err := rw.Write([]byte("appended content\n")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		_ = rw.Close()

		content := readFile(t, fs, testLogPath)
		if !strings.Contains(content, "initial content") || !strings.Contains(content, "appended content") {
			t.Errorf("content = %q, want both lines", content)
		}
	})
}

func TestRotatingWriterRotation(t *testing.T) {
	fs := afero.NewMemMapFs()
	rw, err := NewRotatingWriter(fs, testLogPath, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()

	chunk := []byte(strings.Repeat("a", 600*1024))
	for i := range 4 {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	// Four 600KiB writes against a 1MiB limit rotate three times; only two backups survive.
	for _, path := range []string{testLogPath, testLogPath + ".1", testLogPath + ".2"} {
		if ok, _ := afero.Exists(fs, path); !ok {
			t.Errorf("%s does not exist", path)
		}
	}
	if ok, _ := afero.Exists(fs, testLogPath+".3"); ok {
		t.Error("backup beyond MaxBackups was kept")
	}
	if got := rw.CurrentSize(); got != int64(len(chunk)) {
		t.Errorf("CurrentSize() = %d, want %d", got, len(chunk))
	}
}

func TestRotatingWriterOversizedEntryDoesNotLoop(t *testing.T) {
	fs := afero.NewMemMapFs()
	rw, err := NewRotatingWriter(fs, testLogPath, RotationConfig{MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()

	big := []byte(strings.Repeat("b", 2*1024*1024))
	if _, err := rw.Write(big); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if ok, _ := afero.Exists(fs, testLogPath+".1"); ok {
		t.Error("empty file was rotated before an oversized first write")
	}
}

func TestRotatingWriterCompression(t *testing.T) {
	fs := afero.NewMemMapFs()
	rw, err := NewRotatingWriter(fs, testLogPath, RotationConfig{MaxSizeMB: 1, MaxBackups: 1, Compress: true})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}
	defer func() { _ = rw.Close() }()

	first := strings.Repeat("x", 700*1024)
	if _, err := rw.Write([]byte(first)); err != nil {
		t.Fatal(err)
	}
	if _, err := rw.Write([]byte(strings.Repeat("y", 700*1024))); err != nil {
		t.Fatal(err)
	}

	if ok, _ := afero.Exists(fs, testLogPath+".1"); ok {
		t.Error("uncompressed backup left behind")
	}

	f, err := fs.Open(testLogPath + ".1.gz")
	if err != nil {
		t.Fatalf("compressed backup missing: %v", err)
	}
	defer func() { _ = f.Close() }()

	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip: %v", err)
	}
	if string(data) != first {
		t.Errorf("decompressed backup has %d bytes, want %d", len(data), len(first))
	}
}

func TestRotatingWriterConcurrency(t *testing.T) {
	fs := afero.NewMemMapFs()
	rw, err := NewRotatingWriter(fs, testLogPath, RotationConfig{})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	var wg sync.WaitGroup
	for range 50 {
		wg.Go(func() {
			_, _ = rw.Write([]byte("line\n"))
		})
	}
	wg.Wait()
	_ = rw.Close()

	if got := strings.Count(readFile(t, fs, testLogPath), "line\n"); got != 50 {
		t.Errorf("lines = %d, want 50", got)
	}
}

func TestRotatingWriterClose(t *testing.T) {
	fs := afero.NewMemMapFs()
	rw, err := NewRotatingWriter(fs, testLogPath, RotationConfig{})
	if err != nil {
		t.Fatalf("NewRotatingWriter failed: %v", err)
	}

	if err := rw.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
	if _, err := rw.Write([]byte("late")); err == nil {
		t.Error("Write after Close succeeded, want error")
	}
	if err := rw.Sync(); err != nil {
		t.Errorf("Sync after Close = %v, want nil", err)
	}
	if rw.FilePath() != testLogPath {
		t.Errorf("FilePath() = %q, want %q", rw.FilePath(), testLogPath)
	}
}

func TestDefaultRotationConfig(t *testing.T) {
	cfg := DefaultRotationConfig()
	if cfg.MaxSizeMB != 10 || cfg.MaxBackups != 3 || cfg.Compress {
		t.Errorf("DefaultRotationConfig() = %+v", cfg)
	}
}
