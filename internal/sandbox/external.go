package sandbox

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gili-labs/uigen/internal/logging"
	"github.com/gili-labs/uigen/internal/metrics"
)

// Built-in host modules: external packages satisfied from the embedded
// runtime instead of the network. All React entry points resolve to the
// same shim.
var builtinExternals = map[string]string{
	"react": `module.exports = React;
module.exports.default = React;`,

	"react-dom": `module.exports.default = { render: function () {}, hydrate: function () {} };
module.exports.render = function () {};`,

	"react-dom/client": `function createRoot() {
  return { render: function () {}, unmount: function () {} };
}
module.exports.createRoot = createRoot;
module.exports.hydrateRoot = createRoot;
module.exports.default = { createRoot: createRoot, hydrateRoot: createRoot };`,

	"react-dom/server": `module.exports.renderToString = React.renderToString;
module.exports.default = { renderToString: React.renderToString };`,
}

// ExternalRegistry satisfies npm: specifiers for the loader. Built-in host
// modules are matched by package name ignoring version; everything else
// goes to the CDN fetcher when one is configured, and fails fast otherwise.
type ExternalRegistry struct {
	fetchEnabled bool
	cdnBase      string
	client       *http.Client

	mu    sync.Mutex
	cache map[string]string
}

// NewExternalRegistry builds a registry. cdnBase is the root URL of an
// unpkg-style CDN; fetching is off unless enabled explicitly.
func NewExternalRegistry(fetchEnabled bool, cdnBase string, timeout time.Duration) *ExternalRegistry {
	return &ExternalRegistry{
		fetchEnabled: fetchEnabled,
		cdnBase:      strings.TrimRight(cdnBase, "/"),
		client:       &http.Client{Timeout: timeout},
		cache:        make(map[string]string),
	}
}

// Source returns the module body for a canonical npm:name@version/subpath
// specifier.
func (r *ExternalRegistry) Source(spec string) (string, error) {
	name, version, subpath, err := splitNpmSpec(spec)
	if err != nil {
		return "", err
	}

	key := name
	if subpath != "" {
		key += "/" + subpath
	}
	if src, ok := builtinExternals[key]; ok {
		return src, nil
	}

	if !r.fetchEnabled {
		return "", fmt.Errorf("unknown external package %q (fetching disabled)", key)
	}

	r.mu.Lock()
	if src, ok := r.cache[spec]; ok {
		r.mu.Unlock()
		return src, nil
	}
	r.mu.Unlock()

	src, err := r.fetch(name, version, subpath)
	if err != nil {
		metrics.RecordExternalFetch(false)
		return "", err
	}
	metrics.RecordExternalFetch(true)

	r.mu.Lock()
	r.cache[spec] = src
	r.mu.Unlock()
	return src, nil
}

func (r *ExternalRegistry) fetch(name, version, subpath string) (string, error) {
	u := r.cdnBase + "/" + url.PathEscape(name) + "@" + url.PathEscape(version)
	if subpath != "" {
		u += "/" + subpath
	}

	resp, err := r.client.Get(u)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", u, err)
	}
	logging.Debug("fetched external package",
		zap.String("package", name),
		zap.String("version", version),
		zap.Int("bytes", len(body)))
	return string(body), nil
}

// splitNpmSpec parses "npm:name@version/subpath" with scoped-name support.
func splitNpmSpec(spec string) (name, version, subpath string, err error) {
	rest, ok := strings.CutPrefix(spec, "npm:")
	if !ok || rest == "" {
		return "", "", "", fmt.Errorf("malformed external specifier %q", spec)
	}

	// A scope keeps its leading @; the version separator is the last @
	// past position zero of the name@version segment.
	head := rest
	if i := strings.Index(rest, "/"); i >= 0 {
		if strings.HasPrefix(rest, "@") {
			// Scoped: the first slash belongs to the name.
			if j := strings.Index(rest[i+1:], "/"); j >= 0 {
				head, subpath = rest[:i+1+j], rest[i+j+2:]
			}
		} else {
			head, subpath = rest[:i], rest[i+1:]
		}
	}
	if at := strings.LastIndex(head, "@"); at > 0 {
		name, version = head[:at], head[at+1:]
	} else {
		name, version = head, "latest"
	}
	if name == "" {
		return "", "", "", fmt.Errorf("malformed external specifier %q", spec)
	}
	return name, version, subpath, nil
}
