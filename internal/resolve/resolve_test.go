package resolve

import "testing"

// mapSnapshot is a minimal store snapshot for resolver tests.
type mapSnapshot map[string]bool

func (m mapSnapshot) Exists(p string) bool { return m[p] }

func TestResolveRootAlias(t *testing.T) {
	snap := mapSnapshot{"/components/Button.jsx": true}

	r, err := Resolve("@/components/Button", "/App.jsx", snap)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.Kind != Local || r.Path != "/components/Button.jsx" {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestResolveRelative(t *testing.T) {
	snap := mapSnapshot{"/components/Card.jsx": true, "/lib/util.js": true}

	r, err := Resolve("./Card", "/components/Button.jsx", snap)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.Path != "/components/Card.jsx" {
		t.Errorf("unexpected path %s", r.Path)
	}

	r, err = Resolve("../lib/util", "/components/Button.jsx", snap)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.Path != "/lib/util.js" {
		t.Errorf("unexpected path %s", r.Path)
	}
}

func TestResolveExplicitExtension(t *testing.T) {
	snap := mapSnapshot{"/styles.css": true}

	r, err := Resolve("./styles.css", "/App.jsx", snap)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.Path != "/styles.css" {
		t.Errorf("unexpected path %s", r.Path)
	}

	// Explicit extension that does not exist is not probed further.
	if _, err := Resolve("./styles.css", "/App.jsx", mapSnapshot{}); err == nil {
		t.Error("expected unresolved for missing explicit-extension path")
	}
}

func TestResolveProbeOrder(t *testing.T) {
	// .jsx wins over .js when both exist.
	snap := mapSnapshot{"/Button.jsx": true, "/Button.js": true}
	r, err := Resolve("@/Button", "/App.jsx", snap)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.Path != "/Button.jsx" {
		t.Errorf("probe order broken, got %s", r.Path)
	}
}

func TestResolveExactWinsOverProbe(t *testing.T) {
	snap := mapSnapshot{"/Button": true, "/Button.jsx": true}
	r, err := Resolve("@/Button", "/App.jsx", snap)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.Path != "/Button" {
		t.Errorf("existing exact path should win, got %s", r.Path)
	}
}

func TestResolveIndexFile(t *testing.T) {
	snap := mapSnapshot{"/components/index.jsx": true}
	r, err := Resolve("@/components", "/App.jsx", snap)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.Path != "/components/index.jsx" {
		t.Errorf("unexpected path %s", r.Path)
	}
}

func TestLocalCandidatesOrder(t *testing.T) {
	// Candidate order must match Resolve's probe order exactly, exact path
	// first, then extensions, then index files.
	got := LocalCandidates("./Button", "/src/App.jsx")
	want := []string{
		"/src/Button",
		"/src/Button.jsx", "/src/Button.tsx", "/src/Button.js", "/src/Button.ts",
		"/src/Button/index.jsx", "/src/Button/index.tsx", "/src/Button/index.js", "/src/Button/index.ts",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("candidate %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestLocalCandidatesExplicitExtension(t *testing.T) {
	got := LocalCandidates("@/Button.jsx", "/App.jsx")
	if len(got) != 1 || got[0] != "/Button.jsx" {
		t.Errorf("explicit extension should yield a single candidate, got %v", got)
	}
	if got := LocalCandidates("react", "/App.jsx"); got != nil {
		t.Errorf("bare specifiers have no local candidates, got %v", got)
	}
}

func TestResolveUnresolved(t *testing.T) {
	_, err := Resolve("@/components/Button", "/App.jsx", mapSnapshot{})
	ue, ok := err.(*ErrUnresolved)
	if !ok {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
	if ue.Specifier != "@/components/Button" || ue.Importer != "/App.jsx" {
		t.Errorf("unexpected error detail %+v", ue)
	}
}

func TestResolveDeterministic(t *testing.T) {
	snap := mapSnapshot{"/a/b.jsx": true}
	first, err := Resolve("./b", "/a/x.jsx", snap)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Resolve("./b", "/a/x.jsx", snap)
		if err != nil || again != first {
			t.Fatalf("resolution not deterministic: %+v vs %+v (%v)", first, again, err)
		}
	}
}

func TestResolveExternal(t *testing.T) {
	cases := []struct {
		spec              string
		pkg, ver, subpath string
		canonical         string
	}{
		{"react", "react", "", "", "npm:react@latest"},
		{"react@18.2.0", "react", "18.2.0", "", "npm:react@18.2.0"},
		{"react-dom/client", "react-dom", "", "client", "npm:react-dom@latest/client"},
		{"@radix-ui/icons", "@radix-ui/icons", "", "", "npm:@radix-ui/icons@latest"},
		{"@radix-ui/icons@1.3.0/dist", "@radix-ui/icons", "1.3.0", "dist", "npm:@radix-ui/icons@1.3.0/dist"},
	}

	for _, tc := range cases {
		r, err := Resolve(tc.spec, "/App.jsx", mapSnapshot{})
		if err != nil {
			t.Fatalf("%s: resolve failed: %v", tc.spec, err)
		}
		if r.Kind != External {
			t.Errorf("%s: expected external", tc.spec)
		}
		if r.Package != tc.pkg || r.Version != tc.ver || r.Subpath != tc.subpath {
			t.Errorf("%s: got %+v", tc.spec, r)
		}
		if got := r.Specifier(); got != tc.canonical {
			t.Errorf("%s: canonical form %s, want %s", tc.spec, got, tc.canonical)
		}
	}
}

func TestExternalNeverHitsStore(t *testing.T) {
	// Even if a file named like the package exists, bare specifiers stay
	// external.
	snap := mapSnapshot{"/react": true}
	r, err := Resolve("react", "/App.jsx", snap)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if r.Kind != External {
		t.Errorf("bare specifier resolved locally: %+v", r)
	}
}
