// Package preview orchestrates builds for one workspace: mutations trigger
// coalesced rebuilds, successful manifests are installed into the sandbox,
// and build lifecycle transitions go out on the workspace broadcaster.
package preview

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gili-labs/uigen/internal/events"
	"github.com/gili-labs/uigen/internal/graph"
	"github.com/gili-labs/uigen/internal/logging"
	"github.com/gili-labs/uigen/internal/metrics"
	"github.com/gili-labs/uigen/internal/sandbox"
	"github.com/gili-labs/uigen/internal/vfs"
)

// Status is the externally visible build/run state of a workspace.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusOK           Status = "ok"
	StatusBuildFailed  Status = "build_failed"
	StatusRuntimeError Status = "runtime_error"
)

// State is a snapshot of the preview. On build failure the last good HTML
// is retained so the client can keep showing it under an error overlay.
type State struct {
	Status      Status                 `json:"status"`
	Revision    uint64                 `json:"revision"`
	HTML        string                 `json:"html,omitempty"`
	Styles      string                 `json:"styles,omitempty"`
	Diagnostics []graph.FileDiagnostic `json:"diagnostics,omitempty"`
	RuntimeErr  *sandbox.RuntimeError  `json:"runtime_error,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Previewer drives builds for one workspace. One build runs at a time;
// triggers arriving during a build coalesce into a single follow-up.
type Previewer struct {
	store   *vfs.Store
	builder *graph.Builder
	ctrl    *sandbox.Controller
	bus     *events.Broadcaster
	timeout time.Duration

	buildMu sync.Mutex // serializes builds

	mu     sync.Mutex
	state  State
	queued bool
}

func New(store *vfs.Store, builder *graph.Builder, ctrl *sandbox.Controller, bus *events.Broadcaster, buildTimeout time.Duration) *Previewer {
	return &Previewer{
		store:   store,
		builder: builder,
		ctrl:    ctrl,
		bus:     bus,
		timeout: buildTimeout,
		state:   State{Status: StatusIdle},
	}
}

// Trigger schedules an asynchronous rebuild. Repeated triggers while one
// is pending collapse into a single build of the latest store state.
func (p *Previewer) Trigger() {
	p.mu.Lock()
	if p.queued {
		p.mu.Unlock()
		return
	}
	p.queued = true
	p.mu.Unlock()

	go func() {
		p.buildMu.Lock()
		defer p.buildMu.Unlock()
		p.mu.Lock()
		p.queued = false
		p.mu.Unlock()
		p.buildOnce(context.Background())
	}()
}

// BuildNow runs one build synchronously and returns the resulting state.
func (p *Previewer) BuildNow(ctx context.Context) State {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()
	p.buildOnce(ctx)
	return p.State()
}

// State returns a copy of the current preview state.
func (p *Previewer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.state
	st.Diagnostics = append([]graph.FileDiagnostic(nil), p.state.Diagnostics...)
	return st
}

// Close releases the sandbox context.
func (p *Previewer) Close() {
	p.ctrl.Teardown()
}

func (p *Previewer) buildOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	rev := p.store.Revision()
	p.bus.Publish(events.Event{Type: events.EventBuildStarted, Revision: rev})

	m, err := p.builder.Build(ctx, p.store)
	if err != nil {
		if be, ok := err.(*graph.BuildError); ok {
			p.setFailed(rev, be.Diagnostics)
			p.bus.Publish(events.Event{
				Type:     events.EventBuildFailed,
				Revision: rev,
				Message:  be.Error(),
			})
			return
		}
		logging.Warn("build aborted", zap.Uint64("revision", rev), zap.Error(err))
		return
	}

	// Install boundary: a store mutated since this build started wins;
	// the stale manifest is discarded, never installed. The mutation's
	// own trigger delivers the fresh build.
	if p.store.Revision() != m.Revision {
		metrics.RecordBuildSuperseded()
		logging.Debug("build superseded",
			zap.Uint64("built", m.Revision),
			zap.Uint64("current", p.store.Revision()))
		return
	}
	if err := p.ctrl.Install(m); err != nil {
		logging.Error("manifest install failed", zap.Error(err))
		return
	}

	res, err := p.ctrl.Render()
	if err != nil {
		rerr, ok := err.(*sandbox.RuntimeError)
		if !ok {
			rerr = &sandbox.RuntimeError{Message: err.Error()}
		}
		p.setRuntimeError(m, rerr)
		p.bus.Publish(events.Event{
			Type:     events.EventRuntimeError,
			Revision: m.Revision,
			Message:  rerr.Message,
		})
		return
	}

	p.setOK(m, res)
	p.bus.Publish(events.Event{Type: events.EventBuildOK, Revision: m.Revision})
}

func (p *Previewer) setOK(m *graph.Manifest, res *sandbox.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = State{
		Status:    StatusOK,
		Revision:  m.Revision,
		HTML:      res.HTML,
		Styles:    res.Styles,
		UpdatedAt: time.Now(),
	}
}

func (p *Previewer) setFailed(rev uint64, diags []graph.FileDiagnostic) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = State{
		Status:      StatusBuildFailed,
		Revision:    rev,
		HTML:        p.state.HTML,
		Styles:      p.state.Styles,
		Diagnostics: diags,
		UpdatedAt:   time.Now(),
	}
}

func (p *Previewer) setRuntimeError(m *graph.Manifest, rerr *sandbox.RuntimeError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = State{
		Status:     StatusRuntimeError,
		Revision:   m.Revision,
		HTML:       p.state.HTML,
		Styles:     m.Styles,
		RuntimeErr: rerr,
		UpdatedAt:  time.Now(),
	}
}
