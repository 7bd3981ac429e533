package earlyhints

import (
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"
)

// Loader answers loader navigations: a 103 Early Hints response carrying a
// preload Link header per descriptor, then the test document itself.
// test_url is resolved against the loader URL and preload URLs against the
// test URL; the Link headers carry the resolved paths. No 103 is sent when
// there are no preloads.
type Loader struct {
	docs   fs.FS
	prefix string
	log    *zap.SugaredLogger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger.
func WithLoaderLogger(l *zap.SugaredLogger) LoaderOption {
	return func(ld *Loader) {
		ld.log = l
	}
}

// NewLoader serves test documents from docs. prefix is the URL path docs is
// mounted at, e.g. "/early-hints/"; test URLs outside it are rejected.
func NewLoader(docs fs.FS, prefix string, opts ...LoaderOption) *Loader {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	l := &Loader{docs: docs, prefix: prefix}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = zap.NewNop().Sugar()
	}
	return l
}

// LinkHeader formats a preload as a Link header value. as must be a token;
// DecodePreloads guarantees that for loader requests.
func LinkHeader(u *url.URL, as string) string {
	return fmt.Sprintf("<%s>; rel=preload; as=%s", u.String(), as)
}

func (l *Loader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := ParseLoaderParams(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	testURL, err := r.URL.Parse(params.TestURL)
	if err != nil || (testURL.Host != "" && testURL.Host != r.Host) {
		http.Error(w, "test_url must be a same-origin URL", http.StatusBadRequest)
		return
	}
	name, ok := l.docName(testURL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	links := make([]string, 0, len(params.Preloads))
	for _, p := range params.Preloads {
		u, err := testURL.Parse(p.URL)
		if err != nil {
			http.Error(w, fmt.Sprintf("preload %q: %v", p.URL, err), http.StatusBadRequest)
			return
		}
		if strings.ContainsAny(u.String(), "<>") {
			http.Error(w, fmt.Sprintf("preload %q: URL breaks the Link header", p.URL), http.StatusBadRequest)
			return
		}
		links = append(links, LinkHeader(u, p.As))
	}

	if len(links) > 0 {
		w.Header()["Link"] = links
		w.WriteHeader(http.StatusEarlyHints)
		// The final response must not repeat the hints.
		w.Header().Del("Link")
	}
	l.log.Debugw("early hints sent", "test_url", testURL.String(), "preloads", len(links))

	http.ServeFileFS(w, r, l.docs, name)
}

// docName maps a URL path to a regular file in docs.
func (l *Loader) docName(urlPath string) (string, bool) {
	clean := path.Clean("/" + urlPath)
	if !strings.HasPrefix(clean, l.prefix) {
		return "", false
	}
	name := strings.TrimPrefix(clean, l.prefix)
	if !fs.ValidPath(name) || name == "." {
		return "", false
	}
	info, err := fs.Stat(l.docs, name)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return name, true
}
