// SPDX-License-Identifier: MIT
/*
Package persist keeps finished captures in a bbolt database, one leaf block
per key.

Layout:

	captures/
	  <uuid>/
	    meta          CBOR CaptureMeta
	    blocks/
	      <index>     big-endian uint32 key, value = xxhash64 (8 bytes BE) | block bytes

Blocks are written in one transaction, so a capture is either stored whole or
not at all.
*/
package persist

import (
	"context"
	"encoding/binary"
	"maps"
	"slices"
	"sort"
	"time"

	"dsoscope/internal/log"

	"github.com/cespare/xxhash/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned for an unknown capture id.
	ErrNotFound = errors.New("persist: capture not found")
	// ErrChecksum is returned when a stored block does not match its hash.
	ErrChecksum = errors.New("persist: block checksum mismatch")
	// ErrEmpty is returned when saving a snapshot without samples.
	ErrEmpty = errors.New("persist: snapshot is empty")
)

var (
	capturesBucket = []byte("captures")
	blocksBucket   = []byte("blocks")
	metaKey        = []byte("meta")
)

const checksumSize = 8

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// BlockSource is the read side of a snapshot Save consumes. The source must
// not be appended to while it is saved.
type BlockSource interface {
	Size() uint64
	TotalSampleCount() uint64
	ChannelCount() int
	EnabledChannels() map[int]bool
	BlockCount() int
	Block(index int) ([]byte, error)
}

// CaptureMeta describes a stored capture.
type CaptureMeta struct {
	ID           uuid.UUID `cbor:"id"`
	Seq          uint64    `cbor:"seq"` // store-wide save order
	Label        string    `cbor:"label"`
	Created      time.Time `cbor:"created"`
	SampleRate   float64   `cbor:"sample_rate"`
	Channels     []int     `cbor:"channels"` // enabled ordinals, ascending
	Samples      uint64    `cbor:"samples"`
	TotalSamples uint64    `cbor:"total_samples"`
	Blocks       int       `cbor:"blocks"`
	Bytes        uint64    `cbor:"bytes"`
}

// SaveOption adjusts the metadata of a capture being saved.
type SaveOption func(*CaptureMeta)

// WithSampleRate records the acquisition sample rate.
func WithSampleRate(sampleRate float64) SaveOption {
	return func(m *CaptureMeta) { m.SampleRate = sampleRate }
}

// Store is a capture database.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open capture store %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(capturesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create captures bucket")
	}
	log.Debugf("Persist: opened %s", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func blockKey(index int) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(index))
}

// Save writes every leaf block of src as a new capture. Cancelling ctx
// aborts the transaction and nothing is stored.
func (s *Store) Save(ctx context.Context, src BlockSource, label string, opts ...SaveOption) (CaptureMeta, error) {
	size := src.Size()
	if size == 0 {
		return CaptureMeta{}, ErrEmpty
	}

	chEnable := src.EnabledChannels()
	meta := CaptureMeta{
		ID:           uuid.New(),
		Label:        label,
		Created:      time.Now().UTC(),
		Samples:      size,
		TotalSamples: src.TotalSampleCount(),
		Blocks:       src.BlockCount(),
	}
	for _, ordinal := range slices.Sorted(maps.Keys(chEnable)) {
		if chEnable[ordinal] {
			meta.Channels = append(meta.Channels, ordinal)
		}
	}
	for _, opt := range opts {
		opt(&meta)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(capturesBucket)
		seq, err := root.NextSequence()
		if err != nil {
			return err
		}
		meta.Seq = seq
		capture, err := root.CreateBucket([]byte(meta.ID.String()))
		if err != nil {
			return err
		}
		blocks, err := capture.CreateBucket(blocksBucket)
		if err != nil {
			return err
		}

		for i := range meta.Blocks {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := src.Block(i)
			if err != nil {
				return errors.Wrapf(err, "block %d", i)
			}
			value := make([]byte, checksumSize, checksumSize+len(data))
			binary.BigEndian.PutUint64(value, xxhash.Sum64(data))
			value = append(value, data...)
			if err := blocks.Put(blockKey(i), value); err != nil {
				return err
			}
			meta.Bytes += uint64(len(data))
		}

		if want := size * uint64(src.ChannelCount()); meta.Bytes != want {
			return errors.Errorf("snapshot changed while saving: %d bytes stored, %d expected", meta.Bytes, want)
		}

		encoded, err := encMode.Marshal(meta)
		if err != nil {
			return errors.Wrap(err, "encode meta")
		}
		return capture.Put(metaKey, encoded)
	})
	if err != nil {
		return CaptureMeta{}, errors.Wrap(err, "save capture")
	}

	log.Infof("Persist: saved capture %s (%d samples, %d blocks)", meta.ID, meta.Samples, meta.Blocks)
	return meta, nil
}

func parseID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", errors.Wrapf(ErrNotFound, "invalid id %q", id)
	}
	return parsed.String(), nil
}

func decodeMeta(b *bolt.Bucket) (CaptureMeta, error) {
	var meta CaptureMeta
	raw := b.Get(metaKey)
	if raw == nil {
		return meta, errors.New("missing meta")
	}
	if err := cbor.Unmarshal(raw, &meta); err != nil {
		return meta, errors.Wrap(err, "decode meta")
	}
	return meta, nil
}

// Load reads a capture and verifies every block checksum.
func (s *Store) Load(id string) (*Capture, error) {
	key, err := parseID(id)
	if err != nil {
		return nil, err
	}

	c := &Capture{}
	err = s.db.View(func(tx *bolt.Tx) error {
		capture := tx.Bucket(capturesBucket).Bucket([]byte(key))
		if capture == nil {
			return ErrNotFound
		}
		meta, err := decodeMeta(capture)
		if err != nil {
			return err
		}
		c.Meta = meta

		blocks := capture.Bucket(blocksBucket)
		if blocks == nil {
			return errors.New("missing blocks")
		}
		c.data = make([]byte, 0, meta.Bytes)
		for i := range meta.Blocks {
			value := blocks.Get(blockKey(i))
			if len(value) < checksumSize {
				return errors.Wrapf(ErrChecksum, "block %d missing", i)
			}
			data := value[checksumSize:]
			if binary.BigEndian.Uint64(value) != xxhash.Sum64(data) {
				return errors.Wrapf(ErrChecksum, "block %d", i)
			}
			c.data = append(c.data, data...)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load capture %s", key)
	}
	return c, nil
}

// List returns the metadata of every stored capture in save order.
func (s *Store) List() ([]CaptureMeta, error) {
	var out []CaptureMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(capturesBucket).ForEach(func(k, v []byte) error {
			capture := tx.Bucket(capturesBucket).Bucket(k)
			if v != nil || capture == nil {
				return nil
			}
			meta, err := decodeMeta(capture)
			if err != nil {
				log.Warnf("Persist: skipping capture %s: %v", k, err)
				return nil
			}
			out = append(out, meta)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "list captures")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Delete removes a capture.
func (s *Store) Delete(id string) error {
	key, err := parseID(id)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(capturesBucket).DeleteBucket([]byte(key))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "delete capture %s", key)
	}
	return nil
}
