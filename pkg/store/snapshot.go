package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/chronoindex/chronoindex/pkg/temporal"
)

// WriteRecords serializes every stored record's attributes (not its
// vector — the index's own Save/Load owns vector data) in a format the
// backup package frames into a named snapshot section.
func (s *Store) WriteRecords(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := writeUint32(w, uint32(len(s.records))); err != nil {
		return err
	}
	for id, rec := range s.records {
		if err := writeString(w, id); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, rec.Attributes.CreatedAt.UnixNano()); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, rec.Attributes.LastAccess.UnixNano()); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, rec.Attributes.Importance); err != nil {
			return err
		}
		if err := writeString(w, rec.Attributes.Context); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, rec.Attributes.DecayRate); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, rec.Attributes.AccessCount); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(rec.Attributes.Relationships))); err != nil {
			return err
		}
		for relID := range rec.Attributes.Relationships {
			if err := writeString(w, relID); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadRecords replaces the store's records with data written by
// WriteRecords, pairing each record's attributes with the vector data
// already present in the index (restored separately, first).
func (s *Store) ReadRecords(r io.Reader) error {
	count, err := readUint32(r)
	if err != nil {
		return fmt.Errorf("read record count: %w", err)
	}
	if count > 100_000_000 {
		return fmt.Errorf("invalid record count in header: %d", count)
	}

	vectors := s.index.GetAllVectors()
	records := make(map[string]temporal.TemporalRecord, count)

	for i := uint32(0); i < count; i++ {
		id, err := readString(r)
		if err != nil {
			return fmt.Errorf("read record %d id: %w", i, err)
		}
		var createdNanos, lastAccessNanos int64
		if err := binary.Read(r, binary.LittleEndian, &createdNanos); err != nil {
			return fmt.Errorf("read record %d created_at: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &lastAccessNanos); err != nil {
			return fmt.Errorf("read record %d last_access: %w", i, err)
		}
		var importance float32
		if err := binary.Read(r, binary.LittleEndian, &importance); err != nil {
			return fmt.Errorf("read record %d importance: %w", i, err)
		}
		context, err := readString(r)
		if err != nil {
			return fmt.Errorf("read record %d context: %w", i, err)
		}
		var decayRate float32
		if err := binary.Read(r, binary.LittleEndian, &decayRate); err != nil {
			return fmt.Errorf("read record %d decay_rate: %w", i, err)
		}
		var accessCount uint64
		if err := binary.Read(r, binary.LittleEndian, &accessCount); err != nil {
			return fmt.Errorf("read record %d access_count: %w", i, err)
		}
		relCount, err := readUint32(r)
		if err != nil {
			return fmt.Errorf("read record %d relationship count: %w", i, err)
		}
		if relCount > 1_000_000 {
			return fmt.Errorf("invalid relationship count: %d", relCount)
		}
		relationships := make(map[string]struct{}, relCount)
		for j := uint32(0); j < relCount; j++ {
			relID, err := readString(r)
			if err != nil {
				return fmt.Errorf("read record %d relationship %d: %w", i, j, err)
			}
			relationships[relID] = struct{}{}
		}

		records[id] = temporal.TemporalRecord{
			Vector: temporal.Vector{ID: id, Data: vectors[id]},
			Attributes: temporal.MemoryAttributes{
				CreatedAt:     time.Unix(0, createdNanos),
				LastAccess:    time.Unix(0, lastAccessNanos),
				Importance:    importance,
				Context:       context,
				DecayRate:     decayRate,
				AccessCount:   accessCount,
				Relationships: relationships,
			},
		}
	}

	s.mu.Lock()
	s.records = records
	s.mu.Unlock()
	return nil
}

// WriteIndex delegates to the underlying vector index's own Save.
func (s *Store) WriteIndex(w io.Writer) error {
	return s.index.Save(w)
}

// ReadIndex delegates to the underlying vector index's own Load.
func (s *Store) ReadIndex(r io.Reader) error {
	return s.index.Load(r)
}

func writeUint32(w io.Writer, v uint32) error { return binary.Write(w, binary.LittleEndian, v) }

func writeString(w io.Writer, str string) error {
	if err := writeUint32(w, uint32(len(str))); err != nil {
		return err
	}
	_, err := w.Write([]byte(str))
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	if n > 10_000_000 {
		return "", fmt.Errorf("invalid string length: %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
