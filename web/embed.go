// Package web provides the embedded form UI.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed dist/*
var embeddedFiles embed.FS

// Handler serves the form UI. index.html is served for "/".
func Handler() (http.Handler, error) {
	dist, err := fs.Sub(embeddedFiles, "dist")
	if err != nil {
		return nil, err
	}
	return http.FileServer(http.FS(dist)), nil
}
