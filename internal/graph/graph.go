// Package graph builds the preview manifest: a wholesale traversal of the
// workspace from the fixed entry, transforming every reachable executable
// file exactly once and collecting styles and per-file diagnostics.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/gili-labs/uigen/internal/logging"
	"github.com/gili-labs/uigen/internal/metrics"
	"github.com/gili-labs/uigen/internal/resolve"
	"github.com/gili-labs/uigen/internal/transform"
	"github.com/gili-labs/uigen/internal/vfs"
)

// EntryPath is the fixed root of every build.
const EntryPath = "/App.jsx"

// Diagnostic kinds.
const (
	DiagSyntax       = "syntax"
	DiagUnresolved   = "unresolved"
	DiagEntryMissing = "entry_missing"
)

// FileDiagnostic is one per-file build failure. Diagnostics are aggregated
// across the whole traversal; one bad file never hides another.
type FileDiagnostic struct {
	Path      string `json:"path"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Specifier string `json:"specifier,omitempty"`
	Line      int    `json:"line,omitempty"`
	Col       int    `json:"col,omitempty"`
}

func (d FileDiagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", d.Path, d.Line, d.Col, d.Message)
	}
	return d.Path + ": " + d.Message
}

// CompiledModule is one transformed file keyed by its handle token.
type CompiledModule struct {
	Path string
	Body string
}

// Manifest is the complete output of one successful build. Modules are
// keyed by handle token; Resolution maps store paths back to their tokens
// so callers can attribute runtime failures to files.
type Manifest struct {
	Entry      string
	Modules    map[string]CompiledModule
	Resolution map[string]string
	Styles     string
	Externals  []resolve.Resolved
	Revision   uint64
	BuiltAt    time.Time
}

// BuildError is the aggregate build failure: the entry was missing or at
// least one reachable file failed to transform or resolve.
type BuildError struct {
	Diagnostics []FileDiagnostic
}

func (e *BuildError) Error() string {
	if len(e.Diagnostics) == 1 {
		return "build failed: " + e.Diagnostics[0].String()
	}
	return fmt.Sprintf("build failed: %d errors, first: %s", len(e.Diagnostics), e.Diagnostics[0].String())
}

// Builder runs builds against a store. Transform results are memoized per
// (path, content hash), so rebuilds after a single-file edit only pay for
// that file.
type Builder struct {
	workers int
	cache   *lru.Cache[string, *transform.Result]
}

// NewBuilder sizes the transform worker pool and the memoization cache.
func NewBuilder(workers, cacheLen int) (*Builder, error) {
	if workers < 1 {
		workers = 1
	}
	if cacheLen < 1 {
		cacheLen = 1
	}
	cache, err := lru.New[string, *transform.Result](cacheLen)
	if err != nil {
		return nil, fmt.Errorf("graph: cache: %w", err)
	}
	return &Builder{workers: workers, cache: cache}, nil
}

// snapshot is an immutable copy of the store taken at build start, so one
// build never sees two store generations.
type snapshot struct {
	files map[string]vfs.FileRecord
}

func (s *snapshot) Exists(p string) bool {
	_, ok := s.files[p]
	return ok
}

func takeSnapshot(store *vfs.Store) *snapshot {
	snap := &snapshot{files: make(map[string]vfs.FileRecord)}
	for p := range store.List() {
		if rec, err := store.Read(p); err == nil {
			snap.files[p] = rec
		}
	}
	return snap
}

// Build recomputes the whole module graph from the entry. It returns a
// *BuildError when the entry is missing or any reachable file has a
// diagnostic; unreachable files are never compiled.
func (b *Builder) Build(ctx context.Context, store *vfs.Store) (*Manifest, error) {
	start := time.Now()
	rev := store.Revision()
	snap := takeSnapshot(store)

	m, err := b.build(ctx, snap)
	if err != nil {
		var be *BuildError
		if errors.As(err, &be) {
			metrics.RecordBuild("failed", time.Since(start))
			logging.Debug("build failed",
				zap.Uint64("revision", rev),
				zap.Int("diagnostics", len(be.Diagnostics)))
		}
		return nil, err
	}

	m.Revision = rev
	m.BuiltAt = time.Now()
	metrics.RecordBuild("ok", time.Since(start))
	logging.Debug("build complete",
		zap.Uint64("revision", rev),
		zap.Int("modules", len(m.Modules)),
		zap.Duration("elapsed", time.Since(start)))
	return m, nil
}

func (b *Builder) build(ctx context.Context, snap *snapshot) (*Manifest, error) {
	if !snap.Exists(EntryPath) {
		return nil, &BuildError{Diagnostics: []FileDiagnostic{{
			Path:    EntryPath,
			Kind:    DiagEntryMissing,
			Message: "entry file not found",
		}}}
	}

	var (
		mu      sync.Mutex
		diags   []FileDiagnostic
		results = make(map[string]*transform.Result)
		claimed = map[string]bool{EntryPath: true}
	)

	// Level-synchronous traversal: each frontier is transformed by a
	// bounded pool, then the next frontier is the set of newly discovered,
	// unclaimed local dependencies. Claiming before transform keeps every
	// path at exactly one transform even when two importers share it.
	frontier := []string{EntryPath}
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sem := make(chan struct{}, b.workers)
		var wg sync.WaitGroup
		for _, p := range frontier {
			wg.Add(1)
			sem <- struct{}{}
			go func(p string) {
				defer wg.Done()
				defer func() { <-sem }()
				res, err := b.transformCached(snap.files[p], snap)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					diags = append(diags, toDiagnostic(p, err))
					return
				}
				results[p] = res
			}(p)
		}
		wg.Wait()

		var next []string
		mu.Lock()
		for _, p := range frontier {
			res, ok := results[p]
			if !ok {
				continue
			}
			for _, dep := range res.LocalDeps {
				if !claimed[dep] {
					claimed[dep] = true
					next = append(next, dep)
				}
			}
		}
		mu.Unlock()
		sort.Strings(next)
		frontier = next
	}

	if len(diags) > 0 {
		sort.Slice(diags, func(i, j int) bool {
			if diags[i].Path != diags[j].Path {
				return diags[i].Path < diags[j].Path
			}
			return diags[i].Message < diags[j].Message
		})
		return nil, &BuildError{Diagnostics: diags}
	}

	m := &Manifest{
		Entry:      transform.PathToken(EntryPath),
		Modules:    make(map[string]CompiledModule, len(results)),
		Resolution: make(map[string]string, len(results)),
	}
	styleSet := make(map[string]bool)
	extSet := make(map[string]resolve.Resolved)
	for p, res := range results {
		token := transform.PathToken(p)
		m.Modules[token] = CompiledModule{Path: p, Body: res.Body}
		m.Resolution[p] = token
		for _, sp := range res.StylePaths {
			styleSet[sp] = true
		}
		for _, ext := range res.Externals {
			extSet[ext.Specifier()] = ext
		}
	}
	m.Styles = concatStyles(snap, styleSet)
	for _, spec := range sortedKeys(extSet) {
		m.Externals = append(m.Externals, extSet[spec])
	}
	return m, nil
}

// transformCached memoizes per (path, content hash); renames reuse the old
// content's entry only when the path is unchanged, because the token and
// relative resolution both depend on the path.
func (b *Builder) transformCached(rec vfs.FileRecord, snap *snapshot) (*transform.Result, error) {
	sum := sha256.Sum256([]byte(rec.Content))
	key := rec.Path + "\x00" + hex.EncodeToString(sum[:16])
	if res, ok := b.cache.Get(key); ok {
		// Resolution outcomes depend on which neighbours exist now, so a
		// cached result is only valid while its dependencies still resolve
		// the same way.
		if depsStillValid(res, snap) {
			metrics.RecordTransformCache(true)
			return res, nil
		}
		b.cache.Remove(key)
	}
	metrics.RecordTransformCache(false)
	res, err := transform.Module(rec, snap)
	if err != nil {
		return nil, err
	}
	b.cache.Add(key, res)
	return res, nil
}

func depsStillValid(res *transform.Result, snap *snapshot) bool {
	for _, dep := range res.LocalDeps {
		if !snap.Exists(dep) {
			return false
		}
	}
	for _, sp := range res.StylePaths {
		if !snap.Exists(sp) {
			return false
		}
	}
	// A newly added file that outranks a previous probe hit rewires the
	// import even though every old dependency still exists.
	for _, c := range res.ShadowCandidates {
		if snap.Exists(c) {
			return false
		}
	}
	return true
}

// concatStyles joins every reachable style sheet in path order, each headed
// by its origin path so the injected document style stays attributable.
func concatStyles(snap *snapshot, paths map[string]bool) string {
	if len(paths) == 0 {
		return ""
	}
	ordered := make([]string, 0, len(paths))
	for p := range paths {
		ordered = append(ordered, p)
	}
	sort.Strings(ordered)

	var sb strings.Builder
	for _, p := range ordered {
		rec, ok := snap.files[p]
		if !ok {
			continue
		}
		sb.WriteString("/* " + p + " */\n")
		sb.WriteString(strings.TrimRight(rec.Content, "\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

func toDiagnostic(path string, err error) FileDiagnostic {
	var se *transform.SyntaxError
	if errors.As(err, &se) {
		return FileDiagnostic{
			Path:    se.Path,
			Kind:    DiagSyntax,
			Message: se.Msg,
			Line:    se.Line,
			Col:     se.Col,
		}
	}
	var ue *resolve.ErrUnresolved
	if errors.As(err, &ue) {
		return FileDiagnostic{
			Path:      path,
			Kind:      DiagUnresolved,
			Message:   fmt.Sprintf("cannot resolve %q", ue.Specifier),
			Specifier: ue.Specifier,
		}
	}
	return FileDiagnostic{Path: path, Kind: DiagSyntax, Message: err.Error()}
}

func sortedKeys(m map[string]resolve.Resolved) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
