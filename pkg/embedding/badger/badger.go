// Package badger persists embeddings in a local Badger database so they
// survive restarts.
package badger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/dgraph-io/badger/v4"

	"github.com/barekit/ragchat/pkg/embedding"
)

var _ embedding.Store = (*Store)(nil)

// Store implements embedding.Store. Keys are SHA-256 digests of the model
// name and the text, so vectors of different models never collide.
type Store struct {
	db    *badger.DB
	model string
}

// Open opens (or creates) the database in dir.
func Open(dir, model string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding store: %w", err)
	}
	return &Store{db: db, model: model}, nil
}

func (s *Store) key(text string) []byte {
	h := sha256.New()
	h.Write([]byte(s.model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return append([]byte("emb:"), h.Sum(nil)...)
}

// Get returns the stored vector for text, or nil if none is stored.
func (s *Store) Get(_ context.Context, text string) ([]float32, error) {
	var vec []float32
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(text))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := decode(val)
			vec = v
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding: %w", err)
	}
	return vec, nil
}

// Put stores vector for text.
func (s *Store) Put(_ context.Context, text string, vector []float32) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(text), encode(vector))
	})
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("corrupt embedding value of %d bytes", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
