// Package ui embeds the browser chat client served next to the REST API.
package ui

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// Assets returns the embedded client files rooted at dist/.
func Assets() (fs.FS, error) {
	return fs.Sub(distFS, "dist")
}

// Handler serves the embedded client. Existing files are served as is,
// extensionless paths fall back to index.html, and /api/ paths the REST API
// did not claim are 404s rather than the page.
func Handler() (http.Handler, error) {
	assets, err := Assets()
	if err != nil {
		return nil, err
	}
	files := http.FileServerFS(assets)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		switch {
		case p == "" || p == ".":
			files.ServeHTTP(w, r)
		case strings.HasPrefix(p, "api/"):
			http.NotFound(w, r)
		case exists(assets, p):
			files.ServeHTTP(w, r)
		case strings.Contains(path.Base(p), "."):
			http.NotFound(w, r)
		default:
			r2 := r.Clone(r.Context())
			r2.URL.Path = "/"
			files.ServeHTTP(w, r2)
		}
	}), nil
}

func exists(fsys fs.FS, name string) bool {
	_, err := fs.Stat(fsys, name)
	return err == nil
}
