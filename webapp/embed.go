// Package webapp provides the embedded editing page.
package webapp

import "embed"

//go:embed index.html
var Assets embed.FS
