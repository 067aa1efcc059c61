// Package content implements content-addressed deduplication of
// submitted model archives.
//
// Identity is the sha256 digest of the archive bytes. Submitting
// identical bytes twice returns the same ArchiveRecord and never writes
// a second storage object or catalog row.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/verisim-io/verisim/docstore"
	"github.com/verisim-io/verisim/log"
	"github.com/verisim-io/verisim/metrics"
	"github.com/verisim-io/verisim/objstore"
	"github.com/verisim-io/verisim/types"
)

// Store deduplicates and persists uploaded archives by content hash.
type Store struct {
	objects   objstore.Store
	docs      docstore.Store
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time
}

// NewStore creates a content store over the given backends.
// The collector may be nil.
func NewStore(objects objstore.Store, docs docstore.Store, logger *log.Logger, collector *metrics.Collector) *Store {
	return &Store{
		objects:   objects,
		docs:      docs,
		logger:    logger.WithComponent("content"),
		collector: collector,
		now:       time.Now,
	}
}

// HashBytes returns the hex-encoded sha256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// objectKey is the hash-derived storage path for archive bytes.
func objectKey(contentHash string) string {
	return "archives/" + contentHash + ".omex"
}

// Submit persists the archive and returns its catalog record.
//
// The object write happens before the catalog insert, so a catalog row
// never references a missing object. The insert is a compare-and-swap on
// content hash: a duplicate insert is treated as success and the winning
// record is returned, so concurrent submissions of identical bytes never
// create two records. Re-writing the object for an existing hash is
// byte-identical and therefore harmless.
func (s *Store) Submit(ctx context.Context, filename string, data []byte) (*types.ArchiveRecord, error) {
	if len(data) == 0 {
		return nil, errors.New("content: empty archive")
	}

	contentHash := HashBytes(data)

	var existing types.ArchiveRecord
	err := s.docs.Get(ctx, docstore.ArchiveKey(contentHash), &existing)
	if err == nil {
		s.collector.IncCacheHit()
		s.logger.Debug("archive already cataloged", map[string]any{
			"content_hash": contentHash,
			"filename":     filename,
		})
		return &existing, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("content: catalog lookup: %w", err)
	}

	uri, err := s.objects.Put(ctx, objectKey(contentHash), data)
	if err != nil {
		s.collector.IncStoragePutFailure()
		return nil, fmt.Errorf("content: store archive: %w", err)
	}
	s.collector.IncStoragePutSuccess()

	record := &types.ArchiveRecord{
		ContentHash: contentHash,
		StorageURI:  uri,
		Filename:    filename,
		Size:        int64(len(data)),
		CreatedAt:   s.now().UTC(),
	}

	inserted, err := s.docs.PutIfAbsent(ctx, docstore.ArchiveKey(contentHash), record)
	if err != nil {
		return nil, fmt.Errorf("content: catalog insert: %w", err)
	}
	if !inserted {
		// A concurrent submission won the insert. Its object bytes are
		// identical to ours, so read back and return the winning record.
		var winner types.ArchiveRecord
		if err := s.docs.Get(ctx, docstore.ArchiveKey(contentHash), &winner); err != nil {
			return nil, fmt.Errorf("content: read winning record: %w", err)
		}
		return &winner, nil
	}

	s.logger.Info("archive cataloged", map[string]any{
		"content_hash": contentHash,
		"filename":     filename,
		"size":         record.Size,
		"storage_uri":  uri,
	})
	return record, nil
}

// Fetch reads the archive bytes for a cataloged record.
func (s *Store) Fetch(ctx context.Context, record *types.ArchiveRecord) ([]byte, error) {
	data, err := s.objects.Get(ctx, record.StorageURI)
	if err != nil {
		s.collector.IncStorageGetFailure()
		return nil, fmt.Errorf("content: fetch archive %s: %w", record.ContentHash, err)
	}
	s.collector.IncStorageGetSuccess()
	return data, nil
}
