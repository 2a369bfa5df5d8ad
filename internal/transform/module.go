// Package transform turns one source file into a self-contained executable
// module body: JSX is desugared into plain calls, import specifiers are
// resolved and rewritten to stable per-path tokens, and style-sheet imports
// are elided from the executable body for separate collection.
package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja/parser"

	"github.com/gili-labs/uigen/internal/resolve"
	"github.com/gili-labs/uigen/internal/vfs"
)

// PathToken returns the stable, identifier-safe token a store path is keyed
// by in the resolution table. Tokens avoid characters that are illegal in
// the runtime loader's specifier syntax.
func PathToken(path string) string {
	sum := sha256.Sum256([]byte(path))
	return "m_" + hex.EncodeToString(sum[:])[:12]
}

// SyntaxError is a parse failure attributable to one file.
type SyntaxError struct {
	Path string
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Col, e.Msg)
}

// Result is the transformed form of one file.
type Result struct {
	Path string

	// Body is the executable module body. It communicates with other
	// modules only through require/module.exports, so it can be loaded
	// standalone.
	Body string

	// LocalDeps are resolved in-store dependencies (non-style), by path.
	LocalDeps []string

	// StylePaths are resolved style-sheet imports, elided from the body.
	StylePaths []string

	// Externals are the external package references the body requires.
	Externals []resolve.Resolved

	// ShadowCandidates are probe paths that outranked a resolved local
	// dependency but did not exist at transform time. A later write to any
	// of them changes how this module resolves, so a memoized result is
	// stale once one appears.
	ShadowCandidates []string
}

// Statement-level import/export forms. Matching is anchored to line starts;
// the multi-line clause bodies use dot-all lazy groups terminated by the
// specifier string.
var (
	reImportFrom = regexp.MustCompile(`(?ms)^[ \t]*import\s+([^'";]+?)\s+from\s*["']([^"']+)["']\s*;?[ \t]*$`)
	reImportBare = regexp.MustCompile(`(?m)^[ \t]*import\s*["']([^"']+)["']\s*;?[ \t]*$`)
	reExportFrom = regexp.MustCompile(`(?ms)^[ \t]*export\s+(\{.+?\}|\*)\s+from\s*["']([^"']+)["']\s*;?[ \t]*$`)
	reExportDecl = regexp.MustCompile(`(?m)^([ \t]*)export\s+(const|let|var|async\s+function|function|class)\s+([A-Za-z_$][\w$]*)`)
	reExportList = regexp.MustCompile(`(?ms)^[ \t]*export\s*\{(.+?)\}\s*;?[ \t]*$`)
	reExportDflt = regexp.MustCompile(`(?m)^([ \t]*)export\s+default\s+(async\s+function|function|class)?([ \t]*[A-Za-z_$][\w$]*)?`)
)

// Module transforms one executable or asset file. Style sheets never pass
// through here; they are collected by the graph builder.
func Module(rec vfs.FileRecord, snap resolve.Snapshot) (*Result, error) {
	switch rec.Kind {
	case vfs.KindComponent, vfs.KindScript:
		return executableModule(rec, snap)
	case vfs.KindAsset:
		return assetModule(rec), nil
	default:
		return nil, fmt.Errorf("transform: %s: kind %s is not executable", rec.Path, rec.Kind)
	}
}

func executableModule(rec vfs.FileRecord, snap resolve.Snapshot) (*Result, error) {
	src := rec.Content
	if rec.Kind == vfs.KindComponent {
		desugared, err := DesugarJSX(src)
		if err != nil {
			return nil, syntaxErr(rec.Path, src, err)
		}
		src = desugared
	}

	res := &Result{Path: rec.Path}
	if err := res.rewriteModuleSyntax(src, snap); err != nil {
		return nil, err
	}

	// The rewritten body must parse; a failure here is attributed to this
	// file alone.
	if _, err := parser.ParseFile(nil, rec.Path, res.Body, 0); err != nil {
		return nil, parserErr(rec.Path, err)
	}
	return res, nil
}

func assetModule(rec vfs.FileRecord) *Result {
	var body string
	if strings.HasSuffix(rec.Path, ".json") {
		body = "module.exports.default = (" + rec.Content + ");"
	} else {
		body = "module.exports.default = " + strconv.Quote(rec.Content) + ";"
	}
	return &Result{Path: rec.Path, Body: body}
}

// rewriteModuleSyntax replaces every static import/export clause in src.
func (r *Result) rewriteModuleSyntax(src string, snap resolve.Snapshot) error {
	var firstErr error
	var tail []string

	ref := func(spec string) (string, bool) {
		resolved, err := resolve.Resolve(spec, r.Path, snap)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return "", false
		}
		if resolved.Kind == resolve.Local {
			for _, c := range resolve.LocalCandidates(spec, r.Path) {
				if c == resolved.Path {
					break
				}
				r.ShadowCandidates = append(r.ShadowCandidates, c)
			}
			if vfs.KindOf(resolved.Path) == vfs.KindStyle {
				r.StylePaths = append(r.StylePaths, resolved.Path)
				return "", true // elide
			}
			r.LocalDeps = append(r.LocalDeps, resolved.Path)
			return `require("` + PathToken(resolved.Path) + `")`, false
		}
		r.Externals = append(r.Externals, resolved)
		return `require("` + resolved.Specifier() + `")`, false
	}

	src = reImportFrom.ReplaceAllStringFunc(src, func(m string) string {
		groups := reImportFrom.FindStringSubmatch(m)
		clause, spec := groups[1], groups[2]
		req, style := ref(spec)
		if style {
			// A binding on a style import keeps the code valid without
			// pulling the sheet into the execution graph.
			if name := strings.TrimSpace(clause); isIdent(name) {
				return "const " + name + " = {};"
			}
			return ""
		}
		if req == "" {
			return ""
		}
		return importBinding(clause, req)
	})

	src = reImportBare.ReplaceAllStringFunc(src, func(m string) string {
		spec := reImportBare.FindStringSubmatch(m)[1]
		req, style := ref(spec)
		if style || req == "" {
			return ""
		}
		return req + ";"
	})

	src = reExportFrom.ReplaceAllStringFunc(src, func(m string) string {
		groups := reExportFrom.FindStringSubmatch(m)
		clause, spec := groups[1], groups[2]
		req, _ := ref(spec)
		if req == "" {
			return ""
		}
		if clause == "*" {
			return "Object.assign(module.exports, " + req + ");"
		}
		var lines []string
		for _, name := range splitExportNames(clause) {
			lines = append(lines, "module.exports."+name.exported+" = "+req+"."+name.local+";")
		}
		return strings.Join(lines, "\n")
	})

	src = reExportDflt.ReplaceAllStringFunc(src, func(m string) string {
		groups := reExportDflt.FindStringSubmatch(m)
		indent, declKind, declName := groups[1], groups[2], strings.TrimSpace(groups[3])
		// "extends" after an anonymous class is heritage, not a name.
		if declName == "extends" {
			declName = ""
			declKind += " extends"
		}
		if declKind != "" && declName != "" {
			// Named declaration: keep it hoisted, export at the end.
			tail = append(tail, "module.exports.default = "+declName+";")
			return indent + declKind + " " + declName
		}
		rest := ""
		if declKind != "" {
			rest = declKind + " "
		}
		if declName != "" {
			rest += declName
		}
		return indent + "module.exports.default = " + rest
	})

	src = reExportDecl.ReplaceAllStringFunc(src, func(m string) string {
		groups := reExportDecl.FindStringSubmatch(m)
		indent, declKind, name := groups[1], groups[2], groups[3]
		tail = append(tail, "module.exports."+name+" = "+name+";")
		return indent + declKind + " " + name
	})

	src = reExportList.ReplaceAllStringFunc(src, func(m string) string {
		clause := reExportList.FindStringSubmatch(m)[1]
		var lines []string
		for _, name := range splitExportNames("{" + clause + "}") {
			lines = append(lines, "module.exports."+name.exported+" = "+name.local+";")
		}
		return strings.Join(lines, "\n")
	})

	if firstErr != nil {
		return firstErr
	}
	if len(tail) > 0 {
		src += "\n" + strings.Join(tail, "\n")
	}
	r.Body = src
	return nil
}

// importBinding converts one import clause into const bindings against a
// require reference.
func importBinding(clause, req string) string {
	clause = strings.TrimSpace(clause)

	var parts []string
	appendNamed := func(named string) {
		named = strings.Trim(named, "{} \t\n")
		pairs := make([]string, 0, 4)
		for _, item := range strings.Split(named, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			if local, imported, ok := splitAs(item); ok {
				pairs = append(pairs, local+": "+imported)
			} else {
				pairs = append(pairs, item)
			}
		}
		parts = append(parts, "const {"+strings.Join(pairs, ", ")+"} = "+req+";")
	}

	for clause != "" {
		switch {
		case strings.HasPrefix(clause, "{"):
			end := strings.Index(clause, "}")
			if end < 0 {
				end = len(clause) - 1
			}
			appendNamed(clause[:end+1])
			clause = strings.TrimLeft(clause[end+1:], ", \t\n")
		case strings.HasPrefix(clause, "*"):
			rest := strings.TrimSpace(strings.TrimPrefix(clause, "*"))
			rest = strings.TrimSpace(strings.TrimPrefix(rest, "as"))
			name := firstIdent(rest)
			parts = append(parts, "const "+name+" = "+req+";")
			clause = strings.TrimLeft(rest[len(name):], ", \t\n")
		default:
			name := firstIdent(clause)
			if name == "" {
				return parts0(parts)
			}
			parts = append(parts, "const "+name+" = __default("+req+");")
			clause = strings.TrimLeft(clause[len(name):], ", \t\n")
		}
	}
	return parts0(parts)
}

func parts0(parts []string) string {
	return strings.Join(parts, " ")
}

type exportName struct {
	local    string
	exported string
}

// splitExportNames parses "{ a, b as c }" into local/exported pairs.
func splitExportNames(clause string) []exportName {
	clause = strings.Trim(clause, "{} \t\n")
	var out []exportName
	for _, item := range strings.Split(clause, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if local, exported, ok := splitAs(item); ok {
			out = append(out, exportName{local: local, exported: exported})
		} else {
			out = append(out, exportName{local: item, exported: item})
		}
	}
	return out
}

func splitAs(item string) (left, right string, ok bool) {
	fields := strings.Fields(item)
	if len(fields) == 3 && fields[1] == "as" {
		return fields[0], fields[2], true
	}
	return "", "", false
}

func firstIdent(s string) string {
	end := 0
	for end < len(s) && (isIdentChar(s[end])) {
		end++
	}
	return s[:end]
}

func isIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}

// syntaxErr converts an offset-based jsx error into a positioned one.
func syntaxErr(path, src string, err error) error {
	je, ok := err.(*jsxError)
	if !ok {
		return err
	}
	line, col := lineCol(src, je.offset)
	return &SyntaxError{Path: path, Line: line, Col: col, Msg: je.msg}
}

// parserErr converts a goja parser failure into a SyntaxError.
func parserErr(path string, err error) error {
	if list, ok := err.(parser.ErrorList); ok && len(list) > 0 {
		first := list[0]
		return &SyntaxError{
			Path: path,
			Line: first.Position.Line,
			Col:  first.Position.Column,
			Msg:  first.Message,
		}
	}
	return &SyntaxError{Path: path, Line: 1, Col: 1, Msg: err.Error()}
}

func lineCol(src string, offset int) (line, col int) {
	if offset > len(src) {
		offset = len(src)
	}
	line = 1
	col = 1
	for i := 0; i < offset; i++ {
		if src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}
