package transform

import (
	"strings"
	"testing"

	"github.com/gili-labs/uigen/internal/resolve"
	"github.com/gili-labs/uigen/internal/vfs"
)

type mapSnapshot map[string]bool

func (m mapSnapshot) Exists(p string) bool { return m[p] }

func record(path, content string) vfs.FileRecord {
	return vfs.FileRecord{Path: path, Content: content, Kind: vfs.KindOf(path)}
}

func TestModuleRewritesLocalImport(t *testing.T) {
	snap := mapSnapshot{"/components/Button.jsx": true}
	rec := record("/App.jsx", `import Button from "@/components/Button";
export default function App() {
  return <Button />;
}`)

	res, err := Module(rec, snap)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	token := PathToken("/components/Button.jsx")
	if !strings.Contains(res.Body, `__default(require("`+token+`"))`) {
		t.Errorf("local import not rewritten to token:\n%s", res.Body)
	}
	if len(res.LocalDeps) != 1 || res.LocalDeps[0] != "/components/Button.jsx" {
		t.Errorf("unexpected deps %v", res.LocalDeps)
	}
	if !strings.Contains(res.Body, "module.exports.default = App;") {
		t.Errorf("default export not rewritten:\n%s", res.Body)
	}
	if strings.Contains(res.Body, "export default") {
		t.Errorf("export syntax left behind:\n%s", res.Body)
	}
}

func TestModuleRewritesNamedImports(t *testing.T) {
	snap := mapSnapshot{"/lib/util.js": true}
	rec := record("/a.js", `import { fmt, clamp as cl } from "./lib/util";
module.hot;`)
	// importer is at root, so ./lib/util resolves under /lib
	rec.Path = "/a.js"

	res, err := Module(rec, snap)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	token := PathToken("/lib/util.js")
	if !strings.Contains(res.Body, `const {fmt, clamp: cl} = require("`+token+`");`) {
		t.Errorf("named import binding wrong:\n%s", res.Body)
	}
}

func TestModuleRewritesExternalImport(t *testing.T) {
	rec := record("/App.jsx", `import confetti from "canvas-confetti@1.6.0";
export default () => <div onClick={() => confetti()} />;`)

	res, err := Module(rec, mapSnapshot{})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if !strings.Contains(res.Body, `require("npm:canvas-confetti@1.6.0")`) {
		t.Errorf("external import not canonicalized:\n%s", res.Body)
	}
	if len(res.Externals) != 1 || res.Externals[0].Package != "canvas-confetti" {
		t.Errorf("unexpected externals %+v", res.Externals)
	}
}

func TestModuleElidesStyleImport(t *testing.T) {
	snap := mapSnapshot{"/styles.css": true}
	rec := record("/App.jsx", `import "./styles.css";
export default function App() { return <div />; }`)

	res, err := Module(rec, snap)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if strings.Contains(res.Body, "require") && strings.Contains(res.Body, "styles") {
		t.Errorf("style import not elided:\n%s", res.Body)
	}
	if len(res.StylePaths) != 1 || res.StylePaths[0] != "/styles.css" {
		t.Errorf("style path not collected: %v", res.StylePaths)
	}
	if len(res.LocalDeps) != 0 {
		t.Errorf("style sheet leaked into deps: %v", res.LocalDeps)
	}
}

func TestModuleUnresolvedImport(t *testing.T) {
	rec := record("/App.jsx", `import Button from "@/components/Button";
export default function App() { return <Button />; }`)

	_, err := Module(rec, mapSnapshot{})
	ue, ok := err.(*resolve.ErrUnresolved)
	if !ok {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
	if ue.Specifier != "@/components/Button" || ue.Importer != "/App.jsx" {
		t.Errorf("unexpected error detail %+v", ue)
	}
}

func TestModuleSyntaxError(t *testing.T) {
	rec := record("/App.jsx", "export default function App() {\n  return <div>\n}")

	_, err := Module(rec, mapSnapshot{})
	se, ok := err.(*SyntaxError)
	if !ok {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
	if se.Path != "/App.jsx" || se.Line == 0 {
		t.Errorf("position missing from error: %+v", se)
	}
}

func TestModulePlainScriptSyntaxError(t *testing.T) {
	rec := record("/util.js", "function broken( {")
	_, err := Module(rec, mapSnapshot{})
	if _, ok := err.(*SyntaxError); !ok {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
}

func TestModuleExportForms(t *testing.T) {
	rec := record("/util.js", `export const version = "1.0";
export function helper(x) { return x; }
const hidden = 1;
export { hidden as visible };`)

	res, err := Module(rec, mapSnapshot{})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	for _, want := range []string{
		"module.exports.version = version;",
		"module.exports.helper = helper;",
		"module.exports.visible = hidden;",
	} {
		if !strings.Contains(res.Body, want) {
			t.Errorf("missing %q in body:\n%s", want, res.Body)
		}
	}
	if strings.Contains(res.Body, "export ") {
		t.Errorf("export syntax left behind:\n%s", res.Body)
	}
}

func TestModuleExportDefaultClassHeritage(t *testing.T) {
	rec := record("/widget.js", `class Base {}
export default class extends Base {
  render() { return null; }
}`)

	res, err := Module(rec, mapSnapshot{})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if !strings.Contains(res.Body, "module.exports.default = class extends") {
		t.Errorf("anonymous class heritage not exported as expression:\n%s", res.Body)
	}
	if strings.Contains(res.Body, "= extends;") {
		t.Errorf("heritage keyword captured as a declaration name:\n%s", res.Body)
	}
}

func TestModuleShadowCandidates(t *testing.T) {
	snap := mapSnapshot{"/Button.js": true}
	rec := record("/App.jsx", `import Button from "./Button";
export default function App() { return <Button />; }`)

	res, err := Module(rec, snap)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if len(res.LocalDeps) != 1 || res.LocalDeps[0] != "/Button.js" {
		t.Fatalf("unexpected deps %v", res.LocalDeps)
	}
	// Everything the probe order would have preferred over /Button.js.
	want := []string{"/Button", "/Button.jsx", "/Button.tsx"}
	if len(res.ShadowCandidates) != len(want) {
		t.Fatalf("shadow candidates = %v, want %v", res.ShadowCandidates, want)
	}
	for i, c := range want {
		if res.ShadowCandidates[i] != c {
			t.Errorf("shadow candidate[%d] = %q, want %q", i, res.ShadowCandidates[i], c)
		}
	}
}

func TestModuleShadowCandidatesExplicitExtension(t *testing.T) {
	snap := mapSnapshot{"/Button.jsx": true}
	rec := record("/App.jsx", `import Button from "./Button.jsx";
export default function App() { return <Button />; }`)

	res, err := Module(rec, snap)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	// An explicit-extension import has exactly one candidate; nothing can
	// outrank it.
	if len(res.ShadowCandidates) != 0 {
		t.Errorf("unexpected shadow candidates %v", res.ShadowCandidates)
	}
}

func TestModuleExportFrom(t *testing.T) {
	snap := mapSnapshot{"/components/Button.jsx": true}
	rec := record("/components/index.js", `export { default as Button } from "./Button";`)

	res, err := Module(rec, snap)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	token := PathToken("/components/Button.jsx")
	if !strings.Contains(res.Body, "module.exports.Button = require(\""+token+"\").default;") {
		t.Errorf("export-from not rewritten:\n%s", res.Body)
	}
	if len(res.LocalDeps) != 1 {
		t.Errorf("export-from dependency not recorded: %v", res.LocalDeps)
	}
}

func TestModuleJSONAsset(t *testing.T) {
	rec := record("/data.json", `{"greeting": "hi"}`)
	res, err := Module(rec, mapSnapshot{})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if res.Body != `module.exports.default = ({"greeting": "hi"});` {
		t.Errorf("unexpected asset body %s", res.Body)
	}
}

func TestModuleTextAsset(t *testing.T) {
	rec := record("/notes.txt", "line1\nline2")
	res, err := Module(rec, mapSnapshot{})
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if !strings.Contains(res.Body, `"line1\nline2"`) {
		t.Errorf("text asset not quoted: %s", res.Body)
	}
}

func TestModuleStyleRejected(t *testing.T) {
	rec := record("/styles.css", ".a{}")
	if _, err := Module(rec, mapSnapshot{}); err == nil {
		t.Fatal("style sheets must not be transformed as modules")
	}
}

func TestModuleMultilineImport(t *testing.T) {
	snap := mapSnapshot{"/lib/util.js": true}
	rec := record("/a.js", "import {\n  one,\n  two,\n} from \"./lib/util\";\none(); two();")

	res, err := Module(rec, snap)
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if !strings.Contains(res.Body, "const {one, two} = require(") {
		t.Errorf("multi-line import not handled:\n%s", res.Body)
	}
}

func TestPathTokenStable(t *testing.T) {
	a := PathToken("/App.jsx")
	if a != PathToken("/App.jsx") {
		t.Error("token not stable")
	}
	if a == PathToken("/app.jsx") {
		t.Error("token collision for distinct paths")
	}
	for _, c := range a {
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z')) {
			t.Errorf("token %s contains non-identifier char %q", a, c)
		}
	}
}
