// Package integrity computes Subresource Integrity tokens for cached files.
package integrity

import (
	"crypto/sha256"
	"encoding/base64"
)

// SRI returns the Subresource Integrity token for data, formatted as
// "sha256-<base64>". The token is persisted in package manifests and
// surfaced to clients on directory listings.
func SRI(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256-" + base64.StdEncoding.EncodeToString(sum[:])
}
