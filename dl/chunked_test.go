package dl

import (
	"bytes"
	"crypto/sha256"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestChunkedDownload(t *testing.T) {
	content := testContent(1 << 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "big.bin", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "big.bin")
	c := NewChunked(Config{MaxChunks: 4, RetryCount: 2}, srv.URL, out, testLogger())
	if err := c.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if sha256.Sum256(b) != sha256.Sum256(content) {
		t.Fatal("merged file hash differs from the resource hash")
	}
	if c.DownloadSize() != int64(len(content)) {
		t.Fatalf("DownloadSize = %d, want %d", c.DownloadSize(), len(content))
	}
	if done, total := c.Progress(); done != total || total != 4 {
		t.Fatalf("Progress = %d/%d, want 4/4", done, total)
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp directory left behind")
	}
}

func TestChunkedSmallResource(t *testing.T) {
	// 资源比分片数还小，分片数退化成资源长度
	content := testContent(3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "tiny.bin", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "tiny.bin")
	c := NewChunked(Config{MaxChunks: 8}, srv.URL, out, testLogger())
	if err := c.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, content) {
		t.Fatal("merged bytes differ")
	}
}

func TestChunkedProbeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "x.bin")
	c := NewChunked(Config{MaxChunks: 2}, srv.URL, out, testLogger())
	err := c.Run()
	if err == nil {
		t.Fatal("Run should fail when the probe fails")
	}
	if !strings.Contains(err.Error(), "HTTP error: 404") {
		t.Fatalf("err = %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("no output file should exist after failure")
	}
}

func TestChunkedFailsWhenChunksExhaustRetries(t *testing.T) {
	content := testContent(64 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			http.ServeContent(w, r, "f.bin", time.Time{}, bytes.NewReader(content))
			return
		}
		http.Error(w, "range broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "f.bin")
	c := NewChunked(Config{MaxChunks: 2, RetryCount: 1}, srv.URL, out, testLogger())
	if err := c.Run(); err == nil {
		t.Fatal("Run should fail once retries are exhausted")
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("no output file should exist after failure")
	}
	if _, statErr := os.Stat(out + ".tmp"); !os.IsNotExist(statErr) {
		t.Fatal("temp directory left behind after failure")
	}
}
