// Package sandbox executes compiled module graphs in an isolated goja
// runtime. One runtime exists per installed manifest; installing a new
// manifest always tears the previous runtime down first, so two
// generations of user code never run against shared global state.
package sandbox

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/gili-labs/uigen/internal/graph"
	"github.com/gili-labs/uigen/internal/logging"
	"github.com/gili-labs/uigen/internal/metrics"
)

//go:embed runtime.js
var runtimeSrc string

var runtimeProg = goja.MustCompile("runtime.js", runtimeSrc, false)

// RuntimeError is a failure thrown by user code during sandboxed
// execution, after a successful build. It never invalidates the compiled
// graph.
type RuntimeError struct {
	Message string
	Stack   string
}

func (e *RuntimeError) Error() string { return "runtime error: " + e.Message }

// Result is one successful render.
type Result struct {
	HTML   string
	Styles string
}

// Controller owns the live execution context. All methods are safe for
// concurrent use; Install and Render serialize on one mutex so a render
// can never observe a half-installed manifest.
type Controller struct {
	registry *ExternalRegistry
	timeout  time.Duration

	mu       sync.Mutex
	vm       *goja.Runtime
	manifest *graph.Manifest
}

func NewController(registry *ExternalRegistry, timeout time.Duration) *Controller {
	return &Controller{registry: registry, timeout: timeout}
}

// Install replaces the execution context with a fresh one for m. The
// previous context is interrupted and released before the new one exists.
func (c *Controller) Install(m *graph.Manifest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.teardownLocked()

	vm := goja.New()
	if _, err := vm.RunProgram(runtimeProg); err != nil {
		return fmt.Errorf("sandbox: runtime bootstrap: %w", err)
	}
	ld := &loader{rt: vm, manifest: m, registry: c.registry, modules: make(map[string]*goja.Object)}
	if err := vm.Set("require", ld.require); err != nil {
		return fmt.Errorf("sandbox: install loader: %w", err)
	}

	c.vm = vm
	c.manifest = m
	logging.Debug("manifest installed",
		zap.Uint64("revision", m.Revision),
		zap.Int("modules", len(m.Modules)))
	return nil
}

// Teardown releases the current context, if any.
func (c *Controller) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
}

func (c *Controller) teardownLocked() {
	if c.vm == nil {
		return
	}
	c.vm.Interrupt("superseded")
	c.vm = nil
	c.manifest = nil
}

// Manifest returns the currently installed manifest, or nil.
func (c *Controller) Manifest() *graph.Manifest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manifest
}

// Render executes the installed entry module and renders its default
// export to HTML. Failures thrown inside the runtime come back as
// *RuntimeError; the wall-clock interrupt guarantees user code cannot
// hang the host.
func (c *Controller) Render() (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.vm == nil {
		return nil, errors.New("sandbox: no manifest installed")
	}

	start := time.Now()
	vm := c.vm
	timer := time.AfterFunc(c.timeout, func() {
		vm.Interrupt("execution timed out")
	})
	defer vm.ClearInterrupt()
	defer timer.Stop()

	val, err := vm.RunString(`__render(__default(require("` + c.manifest.Entry + `")))`)
	if err != nil {
		metrics.RecordSandboxExecution("error", time.Since(start))
		return nil, asRuntimeError(err)
	}

	metrics.RecordSandboxExecution("ok", time.Since(start))
	return &Result{HTML: val.String(), Styles: c.manifest.Styles}, nil
}

func asRuntimeError(err error) *RuntimeError {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &RuntimeError{Message: "execution timed out"}
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return &RuntimeError{
			Message: exc.Value().String(),
			Stack:   exc.String(),
		}
	}
	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return &RuntimeError{Message: "call stack exceeded"}
	}
	return &RuntimeError{Message: err.Error()}
}

// loader satisfies require() inside one execution context. Module objects
// are registered before their bodies run, so import cycles observe the
// partially populated exports instead of recursing forever.
type loader struct {
	rt       *goja.Runtime
	manifest *graph.Manifest
	registry *ExternalRegistry
	modules  map[string]*goja.Object
}

func (l *loader) require(spec string) goja.Value {
	if mod, ok := l.modules[spec]; ok {
		return mod.Get("exports")
	}

	src, filename, err := l.source(spec)
	if err != nil {
		panic(l.rt.NewGoError(err))
	}

	module := l.rt.NewObject()
	exports := l.rt.NewObject()
	_ = module.Set("exports", exports)
	l.modules[spec] = module

	prg, err := goja.Compile(filename, "(function(require, module, exports){\n"+src+"\n})", false)
	if err != nil {
		delete(l.modules, spec)
		panic(l.rt.NewGoError(fmt.Errorf("compile %s: %w", filename, err)))
	}
	fnVal, err := l.rt.RunProgram(prg)
	if err != nil {
		delete(l.modules, spec)
		panic(l.rt.NewGoError(err))
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		delete(l.modules, spec)
		panic(l.rt.NewGoError(fmt.Errorf("loader: %s did not compile to a function", filename)))
	}

	if _, err := fn(goja.Undefined(), l.rt.ToValue(l.require), module, module.Get("exports")); err != nil {
		delete(l.modules, spec)
		var exc *goja.Exception
		if errors.As(err, &exc) {
			panic(exc.Value())
		}
		panic(l.rt.NewGoError(err))
	}
	return module.Get("exports")
}

func (l *loader) source(spec string) (src, filename string, err error) {
	if cm, ok := l.manifest.Modules[spec]; ok {
		return cm.Body, cm.Path, nil
	}
	if strings.HasPrefix(spec, "npm:") {
		src, err := l.registry.Source(spec)
		if err != nil {
			return "", "", err
		}
		return src, spec, nil
	}
	return "", "", fmt.Errorf("unknown module %q", spec)
}
