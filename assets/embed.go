// Package assets provides embedded assets for the zipvfs program.
package assets

import _ "embed"

// Logo is a byte slice containing the embedded zipvfs program logo.
//
//go:embed zipvfs.svg
var Logo []byte
