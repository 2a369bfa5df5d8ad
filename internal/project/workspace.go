package project

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gili-labs/uigen/internal/events"
	"github.com/gili-labs/uigen/internal/graph"
	"github.com/gili-labs/uigen/internal/logging"
	"github.com/gili-labs/uigen/internal/metrics"
	"github.com/gili-labs/uigen/internal/preview"
	"github.com/gili-labs/uigen/internal/sandbox"
	"github.com/gili-labs/uigen/internal/vfs"
)

// SnapshotStore is the persistence surface the workspace manager needs.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, ownerID, id int) (map[string]string, error)
	SaveSnapshot(ctx context.Context, ownerID, id int, snapshot map[string]string) error
}

// Workspace is one live project: its in-memory file store, event
// broadcaster, and preview pipeline.
type Workspace struct {
	ProjectID int
	OwnerID   int
	Files     *vfs.Store
	Bus       *events.Broadcaster
	Preview   *preview.Previewer
}

// ManagerConfig sizes the per-workspace build pipeline.
type ManagerConfig struct {
	BuildTimeout      time.Duration
	SandboxTimeout    time.Duration
	TransformWorkers  int
	TransformCacheLen int
	Registry          *sandbox.ExternalRegistry
}

// Manager keeps live workspaces in memory keyed by project, hydrating each
// from its stored snapshot on first touch.
type Manager struct {
	snapshots SnapshotStore
	cfg       ManagerConfig

	mu         sync.Mutex
	workspaces map[int]*Workspace
}

func NewManager(snapshots SnapshotStore, cfg ManagerConfig) *Manager {
	return &Manager{
		snapshots:  snapshots,
		cfg:        cfg,
		workspaces: make(map[int]*Workspace),
	}
}

// Get returns the live workspace for a project, hydrating it from the
// stored snapshot on first touch.
func (m *Manager) Get(ctx context.Context, ownerID, projectID int) (*Workspace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ws, ok := m.workspaces[projectID]; ok {
		if ws.OwnerID != ownerID {
			return nil, ErrNotFound
		}
		return ws, nil
	}

	snapshot, err := m.snapshots.LoadSnapshot(ctx, ownerID, projectID)
	if err != nil {
		return nil, err
	}

	files := vfs.New()
	files.Restore(snapshot)

	builder, err := graph.NewBuilder(m.cfg.TransformWorkers, m.cfg.TransformCacheLen)
	if err != nil {
		return nil, fmt.Errorf("workspace %d: %w", projectID, err)
	}
	bus := events.NewBroadcaster()
	ctrl := sandbox.NewController(m.cfg.Registry, m.cfg.SandboxTimeout)

	ws := &Workspace{
		ProjectID: projectID,
		OwnerID:   ownerID,
		Files:     files,
		Bus:       bus,
		Preview:   preview.New(files, builder, ctrl, bus, m.cfg.BuildTimeout),
	}
	m.workspaces[projectID] = ws
	metrics.SetWorkspacesActive(int64(len(m.workspaces)))
	logging.Info("workspace hydrated",
		zap.Int("project_id", projectID),
		zap.Int("files", files.Count()))
	return ws, nil
}

// Persist writes the workspace's current file map back to the snapshot
// store.
func (m *Manager) Persist(ctx context.Context, ownerID, projectID int) error {
	m.mu.Lock()
	ws, ok := m.workspaces[projectID]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return m.snapshots.SaveSnapshot(ctx, ownerID, projectID, ws.Files.Serialize())
}

// Drop releases a workspace's sandbox and removes it from memory. The
// stored snapshot is untouched.
func (m *Manager) Drop(projectID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ws, ok := m.workspaces[projectID]
	if !ok {
		return
	}
	ws.Preview.Close()
	delete(m.workspaces, projectID)
	metrics.SetWorkspacesActive(int64(len(m.workspaces)))
}

// CloseAll releases every live workspace.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, ws := range m.workspaces {
		ws.Preview.Close()
		delete(m.workspaces, id)
	}
	metrics.SetWorkspacesActive(0)
}

// DefaultScaffold is the file set a fresh project starts from.
func DefaultScaffold() map[string]string {
	return map[string]string{
		"/App.jsx": `import "./styles.css";

export default function App() {
  return (
    <div className="app">
      <h1>New project</h1>
      <p>Edit /App.jsx to get started.</p>
    </div>
  );
}
`,
		"/styles.css": `.app {
  font-family: sans-serif;
  padding: 2rem;
}
`,
	}
}
