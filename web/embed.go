// Package web embeds the dashboard served by the server observer.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

// Assets embeds the dashboard page
//
//go:embed dist
var Assets embed.FS

// GetFS returns the filesystem for serving web assets
func GetFS() (http.FileSystem, error) {
	distFS, err := fs.Sub(Assets, "dist")
	if err != nil {
		return nil, err
	}
	return http.FS(distFS), nil
}

// HasAssets checks if web assets are embedded in the binary
func HasAssets() bool {
	_, err := Assets.Open("dist/index.html")
	return err == nil
}
