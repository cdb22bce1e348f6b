// Package assets contains the embedded dashboard and login pages.
package assets

import "embed"

// WebFiles holds web/index.html and web/login.html, parsed as templates,
// and the files under web/static.
//
//go:embed web
var WebFiles embed.FS
