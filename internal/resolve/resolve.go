// Package resolve maps import specifiers to file-store paths or external
// package references. Resolution is a pure function of the specifier, the
// importing file's path, and a store snapshot.
package resolve

import (
	"fmt"
	"path"
	"strings"
)

// RootAlias marks a specifier as absolute under the workspace root.
const RootAlias = "@/"

// probeSuffixes is the fixed, ordered list of extensions tried when a
// resolved path has no recognized source extension. The same order is used
// for index-file probing, so resolution is deterministic.
var probeSuffixes = []string{".jsx", ".tsx", ".js", ".ts"}

// sourceExts are the extensions the resolver treats as already explicit.
var sourceExts = map[string]bool{
	".jsx": true, ".tsx": true, ".js": true, ".ts": true, ".mjs": true,
	".css": true, ".json": true, ".txt": true, ".md": true, ".svg": true,
}

// Kind distinguishes where a resolved specifier is satisfied.
type Kind int

const (
	// Local means the specifier names a file inside the store.
	Local Kind = iota
	// External means the specifier names a package fetched at runtime.
	External
)

// Resolved is the outcome of resolving one import specifier.
type Resolved struct {
	Kind Kind

	// Path is the absolute store path (Local only).
	Path string

	// Package, Version and Subpath describe an external package reference
	// (External only). Version is empty when the specifier embeds none.
	Package string
	Version string
	Subpath string
}

// Specifier returns the canonical rewritten form: the store path for local
// targets, or an npm:name@version/subpath reference for external ones.
func (r Resolved) Specifier() string {
	if r.Kind == Local {
		return r.Path
	}
	version := r.Version
	if version == "" {
		version = "latest"
	}
	s := "npm:" + r.Package + "@" + version
	if r.Subpath != "" {
		s += "/" + r.Subpath
	}
	return s
}

// ErrUnresolved reports a specifier that matched nothing in the store.
type ErrUnresolved struct {
	Specifier string
	Importer  string
}

func (e *ErrUnresolved) Error() string {
	return fmt.Sprintf("unresolved import %q in %s", e.Specifier, e.Importer)
}

// Snapshot is the read-only view of the file store the resolver needs.
type Snapshot interface {
	Exists(path string) bool
}

// Resolve maps one specifier found in the file at importer to its target.
func Resolve(spec, importer string, snap Snapshot) (Resolved, error) {
	switch {
	case strings.HasPrefix(spec, RootAlias):
		return resolveLocal("/"+strings.TrimPrefix(spec, RootAlias), spec, importer, snap)
	case strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../"):
		base := path.Dir(importer)
		return resolveLocal(path.Join(base, spec), spec, importer, snap)
	case strings.HasPrefix(spec, "/"):
		return resolveLocal(spec, spec, importer, snap)
	default:
		return resolveExternal(spec), nil
	}
}

// LocalCandidates returns the ordered store paths that could satisfy spec
// imported from importer, best first, mirroring the probe order Resolve
// uses. Callers use it to detect when a store mutation introduces a
// candidate that outranks an earlier resolution. External specifiers have
// no candidates.
func LocalCandidates(spec, importer string) []string {
	var p string
	switch {
	case strings.HasPrefix(spec, RootAlias):
		p = "/" + strings.TrimPrefix(spec, RootAlias)
	case strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../"):
		p = path.Join(path.Dir(importer), spec)
	case strings.HasPrefix(spec, "/"):
		p = spec
	default:
		return nil
	}
	p = path.Clean(p)

	candidates := []string{p}
	if sourceExts[path.Ext(p)] {
		return candidates
	}
	for _, suffix := range probeSuffixes {
		candidates = append(candidates, p+suffix)
	}
	for _, suffix := range probeSuffixes {
		candidates = append(candidates, p+"/index"+suffix)
	}
	return candidates
}

func resolveLocal(p, spec, importer string, snap Snapshot) (Resolved, error) {
	p = path.Clean(p)

	// An existing file always wins over extension probing.
	if snap.Exists(p) {
		return Resolved{Kind: Local, Path: p}, nil
	}
	if sourceExts[path.Ext(p)] {
		return Resolved{}, &ErrUnresolved{Specifier: spec, Importer: importer}
	}
	for _, suffix := range probeSuffixes {
		if candidate := p + suffix; snap.Exists(candidate) {
			return Resolved{Kind: Local, Path: candidate}, nil
		}
	}
	for _, suffix := range probeSuffixes {
		if candidate := p + "/index" + suffix; snap.Exists(candidate) {
			return Resolved{Kind: Local, Path: candidate}, nil
		}
	}
	return Resolved{}, &ErrUnresolved{Specifier: spec, Importer: importer}
}

// resolveExternal splits a bare specifier into package name, optional
// embedded version and optional subpath. Scoped packages keep their
// two-segment name.
func resolveExternal(spec string) Resolved {
	nameEnd := 1
	if strings.HasPrefix(spec, "@") {
		// "@scope/name" holds the name in the first two segments.
		if i := strings.Index(spec, "/"); i >= 0 {
			if j := strings.Index(spec[i+1:], "/"); j >= 0 {
				nameEnd = i + 1 + j
			} else {
				nameEnd = len(spec)
			}
		} else {
			nameEnd = len(spec)
		}
	} else {
		if i := strings.Index(spec, "/"); i >= 0 {
			nameEnd = i
		} else {
			nameEnd = len(spec)
		}
	}

	name := spec[:nameEnd]
	subpath := strings.TrimPrefix(spec[nameEnd:], "/")

	version := ""
	// A version may be embedded after the name: "name@1.2.3". The leading
	// "@" of a scope is not a version marker.
	if i := strings.LastIndex(name, "@"); i > 0 {
		version = name[i+1:]
		name = name[:i]
	}

	return Resolved{
		Kind:    External,
		Package: name,
		Version: version,
		Subpath: subpath,
	}
}
