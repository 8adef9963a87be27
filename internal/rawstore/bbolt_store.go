package rawstore

import (
	"context"
	"encoding/binary"
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"graphsense.dev/deltaupdater/internal/boltkv"
	"graphsense.dev/deltaupdater/internal/model"
)

var (
	bucketBlocks = []byte("block")
	bucketRates  = []byte("exchange_rates")
)

// BoltStore is a reference durable Raw Store adapter. It exists so the
// engine can be exercised end-to-end against a real on-disk keyspace
// (e.g. for `patch-exchange-rates` or local replay) without a network
// dependency; production deployments implement Store against the actual
// ingestion-populated wide-column raw keyspace named in spec.md §6.
type BoltStore struct {
	db *bolt.DB
}

func Open(datadir, keyspace string) (*BoltStore, error) {
	db, err := boltkv.Open(datadir, keyspace, "raw.db", bucketBlocks, bucketRates)
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func heightKey(h int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(h))
	return b
}

// PutBundle is the ingestion-side write path this adapter assumes
// already ran; exposed so tests can seed fixtures without a second
// component (`patch-exchange-rates` writes through PutRate instead).
func (s *BoltStore) PutBundle(b model.BlockBundle) error {
	enc, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put(heightKey(b.Block.Height), enc)
	})
}

func (s *BoltStore) PutRate(height int64, rates []float32) error {
	enc, err := json.Marshal(rates)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRates).Put(heightKey(height), enc)
	})
}

func (s *BoltStore) FetchRange(_ context.Context, start, end int64) ([]model.BlockBundle, error) {
	if end < start {
		return nil, nil
	}
	out := make([]model.BlockBundle, 0, end-start+1)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		for h := start; h <= end; h++ {
			v := b.Get(heightKey(h))
			if v == nil {
				return &GapError{Height: h}
			}
			var bundle model.BlockBundle
			if err := json.Unmarshal(v, &bundle); err != nil {
				return &CorruptError{Height: h, Reason: err.Error()}
			}
			out = append(out, bundle)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) Tip(_ context.Context) (int64, error) {
	tip := int64(-1)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlocks).Cursor()
		expect := int64(0)
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			h := int64(binary.BigEndian.Uint64(k))
			if h != expect {
				break
			}
			tip = h
			expect++
		}
		return nil
	})
	return tip, err
}

func (s *BoltStore) LatestRateAtOrBefore(_ context.Context, height int64) ([]float32, bool, error) {
	var out []float32
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRates).Cursor()
		k, v := c.Seek(heightKey(height))
		if k == nil || int64(binary.BigEndian.Uint64(k)) > height {
			k, v = c.Prev()
		}
		if k == nil || int64(binary.BigEndian.Uint64(k)) > height {
			return nil
		}
		var r []float32
		if err := json.Unmarshal(v, &r); err != nil {
			return &CorruptError{Height: height, Reason: err.Error()}
		}
		out, ok = r, true
		return nil
	})
	return out, ok, err
}

func (s *BoltStore) GetRates(_ context.Context, from, to int64) (map[int64][]float32, error) {
	out := make(map[int64][]float32)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRates)
		for h := from; h <= to; h++ {
			v := b.Get(heightKey(h))
			if v == nil {
				continue
			}
			var r []float32
			if err := json.Unmarshal(v, &r); err != nil {
				return &CorruptError{Height: h, Reason: err.Error()}
			}
			out[h] = r
		}
		return nil
	})
	return out, err
}
