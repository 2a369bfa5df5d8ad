package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gili-labs/uigen/internal/auth"
	"github.com/gili-labs/uigen/internal/config"
	"github.com/gili-labs/uigen/internal/project"
	"github.com/gili-labs/uigen/internal/protocol"
	"github.com/gili-labs/uigen/internal/quota"
	"github.com/gili-labs/uigen/internal/sandbox"
	"github.com/gili-labs/uigen/internal/storage/local"
)

// fakeStore is an in-memory ProjectStore.
type fakeStore struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]*project.Project
	snaps  map[int]map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:  make(map[int]*project.Project),
		snaps: make(map[int]map[string]string),
	}
}

func (f *fakeStore) CreateProject(_ context.Context, ownerID int, name string, snapshot map[string]string) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p := &project.Project{
		ID:        f.nextID,
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.byID[p.ID] = p
	f.snaps[p.ID] = snapshot
	return p, nil
}

func (f *fakeStore) GetProject(_ context.Context, ownerID, id int) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.OwnerID != ownerID {
		return nil, project.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListProjects(_ context.Context, ownerID int) ([]project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []project.Project
	for _, p := range f.byID {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteProject(_ context.Context, ownerID, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.OwnerID != ownerID {
		return project.ErrNotFound
	}
	delete(f.byID, id)
	delete(f.snaps, id)
	return nil
}

func (f *fakeStore) LoadSnapshot(_ context.Context, ownerID, id int) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.OwnerID != ownerID {
		return nil, project.ErrNotFound
	}
	out := make(map[string]string, len(f.snaps[id]))
	for k, v := range f.snaps[id] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) SaveSnapshot(_ context.Context, ownerID, id int, snapshot map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[id]
	if !ok || p.OwnerID != ownerID {
		return project.ErrNotFound
	}
	f.snaps[id] = snapshot
	return nil
}

type testEnv struct {
	srv    *httptest.Server
	store  *fakeStore
	token  string
	export string // local export root
}

func newTestEnv(t *testing.T, buildsPerMinute int) *testEnv {
	t.Helper()

	cfg := &config.Config{
		BuildTimeout:      10 * time.Second,
		SandboxTimeout:    3 * time.Second,
		TransformWorkers:  2,
		TransformCacheLen: 64,
		BuildsPerMinute:   buildsPerMinute,
	}

	store := newFakeStore()
	a := auth.New(nil, "test-secret", time.Hour)
	registry := sandbox.NewExternalRegistry(false, "", time.Second)
	manager := project.NewManager(store, project.ManagerConfig{
		BuildTimeout:      cfg.BuildTimeout,
		SandboxTimeout:    cfg.SandboxTimeout,
		TransformWorkers:  cfg.TransformWorkers,
		TransformCacheLen: cfg.TransformCacheLen,
		Registry:          registry,
	})
	t.Cleanup(manager.CloseAll)

	exportRoot := t.TempDir()
	export, err := local.New(local.Config{RootPath: exportRoot})
	if err != nil {
		t.Fatalf("local backend: %v", err)
	}

	server := NewServer(store, manager, a, quota.NewRateLimiter(), export, cfg)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	token, _, err := a.IssueToken(1, "alice")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	return &testEnv{srv: srv, store: store, token: token, export: exportRoot}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (e *testEnv) createProject(t *testing.T, name string) int {
	t.Helper()
	resp := e.do(t, "POST", "/api/v1/projects", protocol.CreateProjectRequest{Name: name})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create project: status %d", resp.StatusCode)
	}
	return decode[protocol.ProjectResponse](t, resp).ID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 100)

	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, 100)

	resp, err := http.Get(env.srv.URL + "/api/v1/projects")
	if err != nil {
		t.Fatalf("get projects: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t, 100)

	id := env.createProject(t, "demo")

	list := decode[protocol.ProjectListResponse](t, env.do(t, "GET", "/api/v1/projects", nil))
	if len(list.Projects) != 1 || list.Projects[0].Name != "demo" {
		t.Fatalf("list = %+v, want one project named demo", list.Projects)
	}

	got := decode[protocol.ProjectResponse](t, env.do(t, "GET", fmt.Sprintf("/api/v1/projects/%d", id), nil))
	if got.ID != id || got.OwnerID != 1 {
		t.Fatalf("get = %+v", got)
	}

	resp := env.do(t, "DELETE", fmt.Sprintf("/api/v1/projects/%d", id), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	resp = env.do(t, "GET", fmt.Sprintf("/api/v1/projects/%d", id), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestInvalidProjectID(t *testing.T) {
	env := newTestEnv(t, 100)

	resp := env.do(t, "GET", "/api/v1/projects/abc/tree", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTreeContainsScaffold(t *testing.T) {
	env := newTestEnv(t, 100)
	id := env.createProject(t, "demo")

	tree := decode[protocol.TreeResponse](t, env.do(t, "GET", fmt.Sprintf("/api/v1/projects/%d/tree", id), nil))
	paths := make(map[string]string)
	for _, f := range tree.Files {
		paths[f.Path] = f.Kind
	}
	if paths["/App.jsx"] != "component" {
		t.Errorf("tree missing /App.jsx component, got %v", paths)
	}
	if paths["/styles.css"] != "style" {
		t.Errorf("tree missing /styles.css style, got %v", paths)
	}
}

func TestFileCRUD(t *testing.T) {
	env := newTestEnv(t, 100)
	id := env.createProject(t, "demo")
	base := fmt.Sprintf("/api/v1/projects/%d", id)

	// Write
	op := decode[protocol.FileOpResponse](t, env.do(t, "PUT", base+"/files/util.js",
		protocol.WriteFileRequest{Content: "export default 1;\n"}))
	if op.Op != "write" || op.Path != "/util.js" {
		t.Fatalf("write op = %+v", op)
	}

	// Read back
	file := decode[protocol.FileResponse](t, env.do(t, "GET", base+"/files/util.js", nil))
	if file.Content != "export default 1;\n" || file.Kind != "script" {
		t.Fatalf("read = %+v", file)
	}

	// Patch
	op = decode[protocol.FileOpResponse](t, env.do(t, "POST", base+"/patch/util.js",
		protocol.PatchFileRequest{Search: "1", Replace: "2"}))
	if op.Op != "patch" {
		t.Fatalf("patch op = %+v", op)
	}
	file = decode[protocol.FileResponse](t, env.do(t, "GET", base+"/files/util.js", nil))
	if file.Content != "export default 2;\n" {
		t.Fatalf("patched content = %q", file.Content)
	}

	// Rename
	op = decode[protocol.FileOpResponse](t, env.do(t, "POST", base+"/rename/util.js",
		protocol.RenameFileRequest{To: "/lib/util.js"}))
	if op.Path != "/lib/util.js" {
		t.Fatalf("rename op = %+v", op)
	}

	// Delete
	resp := env.do(t, "DELETE", base+"/files/lib/util.js", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	resp = env.do(t, "GET", base+"/files/lib/util.js", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("read after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestPatchMismatchConflict(t *testing.T) {
	env := newTestEnv(t, 100)
	id := env.createProject(t, "demo")
	base := fmt.Sprintf("/api/v1/projects/%d", id)

	resp := env.do(t, "POST", base+"/patch/App.jsx",
		protocol.PatchFileRequest{Search: "no such text", Replace: "x"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	fail := decode[protocol.FileOpError](t, resp)
	if fail.Kind != "content_mismatch" || fail.Op != "patch" {
		t.Fatalf("error body = %+v", fail)
	}
}

func TestBuildScaffold(t *testing.T) {
	env := newTestEnv(t, 100)
	id := env.createProject(t, "demo")

	build := decode[protocol.BuildResponse](t, env.do(t, "POST", fmt.Sprintf("/api/v1/projects/%d/build", id), nil))
	if build.Status != "ok" {
		t.Fatalf("build status = %q, diagnostics %v", build.Status, build.Diagnostics)
	}
	if build.Revision == 0 {
		t.Error("build revision not set")
	}
}

func TestBuildFailedDiagnostics(t *testing.T) {
	env := newTestEnv(t, 100)
	id := env.createProject(t, "demo")
	base := fmt.Sprintf("/api/v1/projects/%d", id)

	resp := env.do(t, "PUT", base+"/files/App.jsx", protocol.WriteFileRequest{
		Content: "import X from \"./Missing\";\nexport default function App() { return <X />; }\n",
	})
	resp.Body.Close()

	build := decode[protocol.BuildResponse](t, env.do(t, "POST", base+"/build", nil))
	if build.Status != "build_failed" {
		t.Fatalf("build status = %q, want build_failed", build.Status)
	}
	if len(build.Diagnostics) == 0 {
		t.Fatal("no diagnostics on failed build")
	}

	result := decode[protocol.BuildResponse](t, env.do(t, "GET", base+"/preview/result", nil))
	if result.Status != "build_failed" {
		t.Fatalf("preview result status = %q, want build_failed", result.Status)
	}
}

func TestPreviewDocument(t *testing.T) {
	env := newTestEnv(t, 100)
	id := env.createProject(t, "demo")

	resp := env.do(t, "GET", fmt.Sprintf("/api/v1/projects/%d/preview", id), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	doc := string(body)
	if !strings.Contains(doc, "<h1>New project</h1>") {
		t.Errorf("document missing rendered markup:\n%s", doc)
	}
	if !strings.Contains(doc, "font-family: sans-serif;") {
		t.Errorf("document missing collected styles:\n%s", doc)
	}
	if strings.Contains(doc, "uigen-overlay\"><h2>") {
		t.Errorf("unexpected error overlay on clean build:\n%s", doc)
	}
}

func TestPreviewOverlayOnBuildFailure(t *testing.T) {
	env := newTestEnv(t, 100)
	id := env.createProject(t, "demo")
	base := fmt.Sprintf("/api/v1/projects/%d", id)

	// Render once so the last good HTML is retained under the overlay.
	env.do(t, "POST", base+"/build", nil).Body.Close()

	resp := env.do(t, "PUT", base+"/files/App.jsx", protocol.WriteFileRequest{
		Content: "import X from \"./Missing\";\nexport default function App() { return <X />; }\n",
	})
	resp.Body.Close()
	env.do(t, "POST", base+"/build", nil).Body.Close()

	resp = env.do(t, "GET", base+"/preview", nil)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	doc := string(body)
	if !strings.Contains(doc, "Build failed") {
		t.Errorf("document missing error overlay:\n%s", doc)
	}
	if !strings.Contains(doc, "<h1>New project</h1>") {
		t.Errorf("last good markup not retained under overlay:\n%s", doc)
	}
}

func TestSnapshotPersist(t *testing.T) {
	env := newTestEnv(t, 100)
	id := env.createProject(t, "demo")
	base := fmt.Sprintf("/api/v1/projects/%d", id)

	resp := env.do(t, "PUT", base+"/files/notes.txt", protocol.WriteFileRequest{Content: "hi"})
	resp.Body.Close()

	resp = env.do(t, "POST", base+"/snapshot", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot status = %d", resp.StatusCode)
	}

	env.store.mu.Lock()
	snap := env.store.snaps[id]
	env.store.mu.Unlock()
	if snap["/notes.txt"] != "hi" {
		t.Fatalf("persisted snapshot missing /notes.txt: %v", snap)
	}
}

func TestExportWritesBackend(t *testing.T) {
	env := newTestEnv(t, 100)
	id := env.createProject(t, "demo")

	export := decode[protocol.ExportResponse](t, env.do(t, "POST", fmt.Sprintf("/api/v1/projects/%d/export", id), nil))
	if export.Backend != "local" || export.Size == 0 {
		t.Fatalf("export = %+v", export)
	}

	data, err := os.ReadFile(filepath.Join(env.export, filepath.FromSlash(export.Key)))
	if err != nil {
		t.Fatalf("read exported object: %v", err)
	}
	var snap map[string]string
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("exported object is not a JSON file map: %v", err)
	}
	if _, ok := snap["/App.jsx"]; !ok {
		t.Fatalf("export missing /App.jsx: %v", snap)
	}
}

func TestRateLimitOnBuild(t *testing.T) {
	env := newTestEnv(t, 1)
	id := env.createProject(t, "demo")
	base := fmt.Sprintf("/api/v1/projects/%d", id)

	resp := env.do(t, "POST", base+"/build", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first build status = %d", resp.StatusCode)
	}

	resp = env.do(t, "POST", base+"/build", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second build status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}
}

func TestEventsStream(t *testing.T) {
	env := newTestEnv(t, 100)
	id := env.createProject(t, "demo")
	base := fmt.Sprintf("/api/v1/projects/%d", id)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Token via query parameter, as an EventSource client would send it.
	req, err := http.NewRequestWithContext(ctx, "GET",
		env.srv.URL+base+"/events?token="+env.token, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := env.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open event stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Keep mutating until the subscription observes an event.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			body := bytes.NewReader([]byte(`{"content":"ping"}`))
			req, err := http.NewRequest("PUT", env.srv.URL+base+"/files/ping.txt", body)
			if err != nil {
				return
			}
			req.Header.Set("Authorization", "Bearer "+env.token)
			if r, err := env.srv.Client().Do(req); err == nil {
				r.Body.Close()
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	var sawWrite bool
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "event: file_write") {
			sawWrite = true
			break
		}
	}
	cancel()
	<-done
	if !sawWrite {
		t.Fatal("never observed a file_write event on the stream")
	}
}
