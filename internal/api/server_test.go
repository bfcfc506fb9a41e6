package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/download"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/events"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/files"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/filetree"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/storage/s3"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/storage/s3/s3test"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/tenant"
	"github.com/afterlogic/aurora-module-s3-filestorage/internal/thumbs"
)

const testBucket = "afterlogic-acme"

type testEnv struct {
	mem     *s3test.MemClient
	server  *Server
	handler http.Handler
	tokens  *download.Tokens
	scope   files.Scope
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	mem := s3test.New()
	adapter := s3.New(s3.Config{Bucket: testBucket},
		s3.WithClient(mem), s3.WithPresigner(mem))
	resolver := filetree.StoreResolverFunc(func(ctx context.Context, scope files.Scope) (filetree.Store, error) {
		if _, err := adapter.GetClient(ctx, false, scope.Origin); err != nil {
			return nil, err
		}
		return adapter, nil
	})
	tokens := download.NewTokens("test-secret", time.Hour)
	broadcaster := events.NewBroadcaster()
	engine := filetree.New(resolver, tenant.Static{Quota: 1 << 30}, tokens,
		filetree.WithNotifier(broadcaster))

	if cfg.DownloadLinkLifetime == 0 {
		cfg.DownloadLinkLifetime = 5 * time.Minute
	}
	server := NewServer(engine, tokens, thumbs.NewCache(1<<20), broadcaster, cfg)
	return &testEnv{
		mem:     mem,
		server:  server,
		handler: server.Handler(),
		tokens:  tokens,
		scope:   files.Scope{TenantID: 1, UserPublicID: "alice@example.com"},
	}
}

func (e *testEnv) request(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("X-User", e.scope.UserPublicID)
	req.Header.Set("X-Tenant-ID", "1")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, Config{})
	w := e.request(t, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestStoragesRegistry(t *testing.T) {
	e := newTestEnv(t, Config{})
	w := e.request(t, "GET", "/api/v1/storages", nil)
	var resp struct {
		Storages []storageInfo `json:"storages"`
	}
	decodeBody(t, w, &resp)
	if len(resp.Storages) != 1 || resp.Storages[0].Type != "s3" {
		t.Errorf("storages = %+v", resp.Storages)
	}
	if !resp.Storages[0].IsExternal {
		t.Error("storage is not flagged external")
	}

	e = newTestEnv(t, Config{Disabled: true})
	w = e.request(t, "GET", "/api/v1/storages", nil)
	decodeBody(t, w, &resp)
	if len(resp.Storages) != 0 {
		t.Errorf("disabled storages = %+v", resp.Storages)
	}
}

func TestBucketCORSCarriesRequestOrigin(t *testing.T) {
	e := newTestEnv(t, Config{})

	req := httptest.NewRequest("POST", "/api/v1/folders",
		strings.NewReader(`{"path":"","name":"Documents"}`))
	req.Header.Set("X-User", e.scope.UserPublicID)
	req.Header.Set("X-Tenant-ID", "1")
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d", w.Code)
	}

	cors := e.mem.CORS(testBucket)
	if cors == nil || len(cors.CORSRules) != 1 {
		t.Fatal("CORS policy was not applied")
	}
	origins := cors.CORSRules[0].AllowedOrigins
	if len(origins) != 1 || origins[0] != "https://app.example.com" {
		t.Errorf("AllowedOrigins = %v, want the request origin", origins)
	}
}

func TestDisabledRejectsFileOperations(t *testing.T) {
	e := newTestEnv(t, Config{Disabled: true})
	w := e.request(t, "GET", "/api/v1/files", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestMissingUserHeader(t *testing.T) {
	e := newTestEnv(t, Config{})
	req := httptest.NewRequest("GET", "/api/v1/files", nil)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// Walks the full lifecycle: upload, list, rename, quota, delete.
func TestFileLifecycle(t *testing.T) {
	e := newTestEnv(t, Config{})

	w := e.request(t, "POST", "/api/v1/folders", []byte(`{"path":"","name":"Documents"}`))
	if w.Code != http.StatusCreated {
		t.Fatalf("create folder: status = %d (%s)", w.Code, w.Body)
	}

	w = e.request(t, "POST", "/api/v1/files/Documents/notes.txt", []byte("hello world"))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload: status = %d (%s)", w.Code, w.Body)
	}

	w = e.request(t, "GET", "/api/v1/files?path=Documents", nil)
	var list struct {
		Items []files.Entry `json:"items"`
	}
	decodeBody(t, w, &list)
	if len(list.Items) != 1 || list.Items[0].Name != "notes.txt" {
		t.Fatalf("items = %+v", list.Items)
	}
	if list.Items[0].Size != uint64(len("hello world")) {
		t.Errorf("size = %d", list.Items[0].Size)
	}
	if _, ok := list.Items[0].Actions[files.ActionDownload]; !ok {
		t.Error("entry has no download action")
	}

	w = e.request(t, "POST", "/api/v1/files:rename",
		[]byte(`{"path":"Documents","name":"notes.txt","new_name":"journal.txt"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("rename: status = %d (%s)", w.Code, w.Body)
	}
	if e.mem.Object(testBucket, "alice@example.com/Documents/journal.txt") == nil {
		t.Fatal("renamed object missing")
	}

	w = e.request(t, "GET", "/api/v1/quota", nil)
	var quota files.Quota
	decodeBody(t, w, &quota)
	if quota.Used != uint64(len("hello world")) {
		t.Errorf("quota used = %d", quota.Used)
	}

	w = e.request(t, "POST", "/api/v1/files:delete",
		[]byte(`{"items":[{"path":"Documents","name":"journal.txt"},{"name":"Documents","is_folder":true}]}`))
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status = %d (%s)", w.Code, w.Body)
	}
	if got := e.mem.Keys(testBucket); len(got) != 0 {
		t.Errorf("remaining keys = %v", got)
	}
}

func TestMoveBetweenFolders(t *testing.T) {
	e := newTestEnv(t, Config{})
	e.mem.Seed(testBucket, "alice@example.com/Inbox/a.txt", []byte("x"), nil)
	e.mem.Seed(testBucket, "alice@example.com/Archive/", nil, nil)

	w := e.request(t, "POST", "/api/v1/files:move",
		[]byte(`{"from_path":"Inbox","to_path":"Archive","items":[{"name":"a.txt"}]}`))
	if w.Code != http.StatusOK {
		t.Fatalf("move: status = %d (%s)", w.Code, w.Body)
	}
	if e.mem.Object(testBucket, "alice@example.com/Archive/a.txt") == nil {
		t.Error("target missing after move")
	}
	if e.mem.Object(testBucket, "alice@example.com/Inbox/a.txt") != nil {
		t.Error("source present after move")
	}
}

func TestDownloadRedirects(t *testing.T) {
	e := newTestEnv(t, Config{RedirectToOriginalFileURLs: true})
	e.mem.Seed(testBucket, "alice@example.com/report.pdf", []byte("pdf-bytes"), nil)

	token, err := e.tokens.Issue(e.scope, "", "report.pdf", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	w := e.request(t, "GET", "/download-file/"+token, nil)
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d (%s)", w.Code, w.Body)
	}
	loc := w.Header().Get("Location")
	if !strings.Contains(loc, "report.pdf") || !strings.Contains(loc, "disposition=attachment") {
		t.Errorf("location = %q", loc)
	}

	// Inline view presigns without the attachment override.
	w = e.request(t, "GET", "/download-file/"+token+"/view", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("view status = %d", w.Code)
	}
	if strings.Contains(w.Header().Get("Location"), "disposition=attachment") {
		t.Errorf("view location = %q", w.Header().Get("Location"))
	}
}

func TestDownloadUnknownActionViewsInline(t *testing.T) {
	e := newTestEnv(t, Config{})
	e.mem.Seed(testBucket, "alice@example.com/report.pdf", []byte("pdf-bytes"), nil)

	token, err := e.tokens.Issue(e.scope, "", "report.pdf", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	w := e.request(t, "GET", "/download-file/"+token+"/open", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body)
	}
	if cd := w.Header().Get("Content-Disposition"); strings.Contains(cd, "attachment") {
		t.Errorf("Content-Disposition = %q, want inline delivery", cd)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestDownloadStreams(t *testing.T) {
	e := newTestEnv(t, Config{})
	e.mem.Seed(testBucket, "alice@example.com/report.pdf", []byte("pdf-bytes"), nil)

	token, err := e.tokens.Issue(e.scope, "", "report.pdf", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	w := e.request(t, "GET", "/download-file/"+token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body)
	}
	if w.Body.String() != "pdf-bytes" {
		t.Errorf("body = %q", w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "report.pdf") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestDownloadBadToken(t *testing.T) {
	e := newTestEnv(t, Config{})
	w := e.request(t, "GET", "/download-file/not-a-token", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestDownloadMissingFile(t *testing.T) {
	e := newTestEnv(t, Config{})
	token, err := e.tokens.Issue(e.scope, "", "ghost.txt", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	w := e.request(t, "GET", "/download-file/"+token, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestThumbnailCachedAcrossRequests(t *testing.T) {
	e := newTestEnv(t, Config{})

	png := encodeTestPNG(t, 300, 200)
	e.mem.Seed(testBucket, "alice@example.com/photo.png", png, nil)

	token, err := e.tokens.Issue(e.scope, "", "photo.png", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	w := e.request(t, "GET", "/download-file/"+token+"/thumb", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("thumb status = %d (%s)", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	first := w.Body.Bytes()

	// Second request must not regenerate: remove the source and expect
	// the cached bytes back.
	e.mem.Seed(testBucket, "alice@example.com/photo.png", []byte("corrupted"), nil)
	w = e.request(t, "GET", "/download-file/"+token+"/thumb", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cached thumb status = %d", w.Code)
	}
	if !bytes.Equal(first, w.Body.Bytes()) {
		t.Error("cached thumbnail differs from generated one")
	}
}

func TestThumbnailUnsupportedType(t *testing.T) {
	e := newTestEnv(t, Config{})
	e.mem.Seed(testBucket, "alice@example.com/doc.txt", []byte("text"), nil)

	token, err := e.tokens.Issue(e.scope, "", "doc.txt", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	w := e.request(t, "GET", "/download-file/"+token+"/thumb", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestEventStream(t *testing.T) {
	e := newTestEnv(t, Config{})
	srv := httptest.NewServer(e.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/v1/events", nil)
	req.Header.Set("X-User", e.scope.UserPublicID)
	req.Header.Set("X-Tenant-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	// Wait for the subscription to land before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for e.server.broadcaster.Count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	e.server.broadcaster.Notify(events.EventCreate, e.scope.UserPublicID, "Docs", "new.txt")

	reader := bufio.NewReader(resp.Body)
	var sawEvent, sawData bool
	for !sawEvent || !sawData {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if strings.HasPrefix(line, "event: create") {
			sawEvent = true
		}
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "new.txt") {
			sawData = true
		}
	}
}

func encodeTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
