package worker

import (
	_ "embed"
	"net/http"
)

// indexHTML is the single-page game client.
//
//go:embed static/index.html
var indexHTML []byte

func serveIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(indexHTML)
}
