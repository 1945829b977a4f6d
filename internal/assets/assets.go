// Package assets holds files compiled into the binary.
package assets

import _ "embed"

// DefaultField is the bundled wind field served until the first successful
// update. It is already downscaled and blurred.
//
//go:embed wind_cache.png
var DefaultField []byte
