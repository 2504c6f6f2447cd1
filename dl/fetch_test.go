package dl

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("component", "test")
}

func testContent(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func TestFetchFullBody(t *testing.T) {
	content := testContent(4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	if err := fetch(Config{}, srv.URL, 0, 0, 5*time.Second, &buf, nil); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), content) {
		t.Fatalf("body mismatch: got %d bytes, want %d", buf.Len(), len(content))
	}
}

func TestFetchSendsRangeHeader(t *testing.T) {
	content := testContent(4096)
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	if err := fetch(Config{}, srv.URL, 1000, 0, 5*time.Second, &buf, nil); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotRange != "bytes=1000-" {
		t.Fatalf("Range header = %q, want %q", gotRange, "bytes=1000-")
	}
	if !bytes.Equal(buf.Bytes(), content[1000:]) {
		t.Fatal("partial body mismatch")
	}
}

func TestFetchRangeWithEnd(t *testing.T) {
	content := testContent(4096)
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	if err := fetch(Config{}, srv.URL, 100, 199, 5*time.Second, &buf, nil); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotRange != "bytes=100-199" {
		t.Fatalf("Range header = %q, want %q", gotRange, "bytes=100-199")
	}
	if !bytes.Equal(buf.Bytes(), content[100:200]) {
		t.Fatal("ranged body mismatch")
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not here", http.StatusNotFound)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	err := fetch(Config{}, srv.URL, 0, 0, 5*time.Second, &buf, nil)
	if err == nil {
		t.Fatal("fetch should fail on 404")
	}
	if !strings.Contains(err.Error(), "HTTP error: 404") {
		t.Fatalf("error = %q, want HTTP error: 404", err)
	}
}

func TestFetchProgressReported(t *testing.T) {
	content := testContent(4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(content))
	}))
	defer srv.Close()

	var ticks int
	var lastTotal, lastReceived int64
	var buf bytes.Buffer
	err := fetch(Config{}, srv.URL, 0, 0, 5*time.Second, &buf, func(total, received int64) bool {
		ticks++
		lastTotal, lastReceived = total, received
		return true
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if ticks == 0 {
		t.Fatal("progress hook never invoked")
	}
	if lastTotal != int64(len(content)) || lastReceived != int64(len(content)) {
		t.Fatalf("final tick = (%d, %d), want (%d, %d)", lastTotal, lastReceived, len(content), len(content))
	}
}

func TestFetchProgressAbort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "655360")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		chunk := testContent(64 * 1024)
		for i := 0; i < 10; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(100 * time.Millisecond)
		}
	}))
	defer srv.Close()

	var buf bytes.Buffer
	err := fetch(Config{}, srv.URL, 0, 0, 30*time.Second, &buf, func(total, received int64) bool {
		return false
	})
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
}

func TestGuardWriterShortWrite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(testContent(8192))
	}))
	defer srv.Close()

	err := fetch(Config{}, srv.URL, 0, 0, 5*time.Second, failingWriter{}, nil)
	if err == nil {
		t.Fatal("fetch should surface sink write failure")
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}
