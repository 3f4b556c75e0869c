package artifacts

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestObjectKey(t *testing.T) {
	a := &S3Archiver{bucket: "b", prefix: "archive"}
	got := a.objectKey("reports", "bericht", periodKey(2026, 6), "run_1", "Bericht.pdf")
	if got != "archive/reports/bericht/2026-W06/run_1/Bericht.pdf" {
		t.Fatalf("unexpected key %s", got)
	}
	bare := &S3Archiver{bucket: "b"}
	if got := bare.objectKey("reports", "x"); got != "reports/x" {
		t.Fatalf("unexpected key without prefix %s", got)
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"a.pdf":  "application/pdf",
		"a.XLSX": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"a.bin":  "application/octet-stream",
	}
	for name, want := range cases {
		if got := contentType(name); got != want {
			t.Fatalf("%s: expected %s, got %s", name, want, got)
		}
	}
}

func TestArchiveReportUploadsToEndpoint(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotType, gotBody string
	srv := mustTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath, gotType, gotBody = r.URL.Path, r.Header.Get("Content-Type"), string(body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	if srv == nil {
		return
	}
	defer srv.Close()

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	archiver, err := NewS3Archiver(context.Background(), S3Config{Bucket: "reports", Prefix: "/bot/", Region: "eu-central-1", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("new archiver: %v", err)
	}

	file := filepath.Join(t.TempDir(), "Bericht_2026_KW6.pdf")
	if err := os.WriteFile(file, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	uri, err := archiver.ArchiveReport(context.Background(), "run_1", "bericht", 2026, 6, file)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if uri != "s3://reports/bot/reports/bericht/2026-W06/run_1/Bericht_2026_KW6.pdf" {
		t.Fatalf("unexpected uri %s", uri)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/reports/bot/reports/bericht/2026-W06/run_1/Bericht_2026_KW6.pdf" {
		t.Fatalf("unexpected request path %s", gotPath)
	}
	if gotType != "application/pdf" {
		t.Fatalf("unexpected content type %s", gotType)
	}
	if !strings.Contains(gotBody, "%PDF-1.4") {
		t.Fatalf("unexpected body %q", gotBody)
	}
}

// mustTestServer starts a test server or skips if the sandbox disallows listening.
func mustTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("test server unavailable in sandbox: %v", r)
		}
	}()
	return httptest.NewServer(handler)
}
