// Package templates embeds static assets served by IGED.
package templates

import _ "embed"

// IndexHTML is the admin panel landing page.
//
//go:embed index.html
var IndexHTML []byte
