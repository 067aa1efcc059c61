package types

import "time"

// ArchiveRecord is the catalog entry for a deduplicated model archive.
// Identity is ContentHash: at most one record exists per hash, and
// re-submitting identical bytes returns the existing record.
// Records are immutable once created and are never deleted.
type ArchiveRecord struct {
	// ContentHash is the hex-encoded sha256 digest of the archive bytes.
	ContentHash string `msgpack:"content_hash" json:"content_hash"`
	// StorageURI is the object-store location of the archive bytes.
	StorageURI string `msgpack:"storage_uri" json:"storage_uri"`
	// Filename is the name the archive was submitted under.
	Filename string `msgpack:"filename" json:"filename"`
	// Size is the archive size in bytes.
	Size int64 `msgpack:"size" json:"size"`
	// CreatedAt is the first-upload timestamp (UTC).
	CreatedAt time.Time `msgpack:"created_at" json:"created_at"`
}
