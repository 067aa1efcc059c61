package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/verisim-io/verisim/types"
)

// KeyFor derives the cache key identifying one (archive, simulator
// image, cache buster) dispatch. Inputs are joined with a zero byte
// before hashing so no concatenation of fields can collide with another.
// The image digest pins the exact simulator build: a re-released version
// under the same tag gets a different key and therefore a fresh run.
func KeyFor(contentHash, imageDigest, cacheBuster string) string {
	if cacheBuster == "" {
		cacheBuster = types.DefaultCacheBuster
	}
	h := sha256.New()
	h.Write([]byte(contentHash))
	h.Write([]byte{0})
	h.Write([]byte(imageDigest))
	h.Write([]byte{0})
	h.Write([]byte(cacheBuster))
	return hex.EncodeToString(h.Sum(nil))
}
