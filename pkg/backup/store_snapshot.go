package backup

import (
	"bytes"
	"fmt"

	"github.com/chronoindex/chronoindex/pkg/pool"
	"github.com/chronoindex/chronoindex/pkg/store"
)

// Section names within a store snapshot file. The index section must be
// written before and read before the records section, since ReadRecords
// pairs each record's attributes with the vector data the index already
// restored.
const (
	sectionIndex   = "index"
	sectionRecords = "records"
)

// SaveStore writes a full store snapshot — its HNSW index and every
// record's temporal attributes — to path.
func SaveStore(path string, s *store.Store) error {
	return CreateSnapshot(path, 0, func(w *SnapshotWriter) error {
		// Staging buffers start from the shared pool's smallest class and
		// grow on demand; bytes.Buffer handles the growth, the pool just
		// avoids starting every section from a zero-capacity allocation.
		indexBuf := bytes.NewBuffer(pool.DefaultBufferPool.Get(0))
		if err := s.WriteIndex(indexBuf); err != nil {
			return fmt.Errorf("write index section: %w", err)
		}
		if err := w.WriteSection(sectionIndex, indexBuf.Bytes()); err != nil {
			return err
		}
		pool.DefaultBufferPool.Put(indexBuf.Bytes())

		recordsBuf := bytes.NewBuffer(pool.DefaultBufferPool.Get(0))
		if err := s.WriteRecords(recordsBuf); err != nil {
			return fmt.Errorf("write records section: %w", err)
		}
		if err := w.WriteSection(sectionRecords, recordsBuf.Bytes()); err != nil {
			return err
		}
		pool.DefaultBufferPool.Put(recordsBuf.Bytes())
		return nil
	})
}

// LoadStore restores a snapshot written by SaveStore into s, replacing
// its current index and records.
func LoadStore(path string, s *store.Store) error {
	return RestoreSnapshot(path, func(r *SnapshotReader) error {
		sections := make(map[string][]byte, 2)
		for {
			name, data, err := r.ReadSection()
			if err != nil {
				break
			}
			sections[name] = data
		}

		indexData, ok := sections[sectionIndex]
		if !ok {
			return fmt.Errorf("snapshot missing %q section", sectionIndex)
		}
		if err := s.ReadIndex(bytes.NewReader(indexData)); err != nil {
			return fmt.Errorf("read index section: %w", err)
		}

		recordsData, ok := sections[sectionRecords]
		if !ok {
			return fmt.Errorf("snapshot missing %q section", sectionRecords)
		}
		if err := s.ReadRecords(bytes.NewReader(recordsData)); err != nil {
			return fmt.Errorf("read records section: %w", err)
		}
		return nil
	})
}
