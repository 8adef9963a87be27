package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	bolt "go.etcd.io/bbolt"

	"graphsense.dev/deltaupdater/internal/boltkv"
	"graphsense.dev/deltaupdater/internal/model"
)

var (
	bucketAddress       = []byte("address")
	bucketAddressByAddr = []byte("address_id_by_address")
	bucketTxIDByHash    = []byte("tx_id_by_hash")
	bucketRelationOut   = []byte("address_outgoing_relations")
	bucketRelationIn    = []byte("address_incoming_relations")
	bucketAddressTx     = []byte("address_transactions")
	bucketBlockTx       = []byte("block_transactions")
	bucketEntity        = []byte("entity")
	bucketAddressEntity = []byte("address_entity")
	bucketExchangeRates = []byte("exchange_rates")
	bucketConfig        = []byte("configuration")
	bucketSummary       = []byte("summary_statistics")
	bucketStatus        = []byte("status")
	bucketHistory        = []byte("history")
)

var allBuckets = [][]byte{
	bucketAddress, bucketAddressByAddr, bucketTxIDByHash,
	bucketRelationOut, bucketRelationIn, bucketAddressTx, bucketBlockTx,
	bucketEntity, bucketAddressEntity, bucketExchangeRates, bucketConfig, bucketSummary,
	bucketStatus, bucketHistory,
}

const configKey = "configuration"
const summaryKey = "summary"
const statusKey = "status"

// BoltStore is the reference Transformed Store adapter (C2), backed by
// boltkv. See boltkv's package doc for why bbolt stands in for a
// wide-column store in this reference implementation.
type BoltStore struct {
	db     *bolt.DB
	policy RetryPolicy
	writeN int
}

// Options configures a BoltStore.
type Options struct {
	DataDir         string
	Keyspace        string
	WriteBatchSize  int
	Retry           RetryPolicy
}

// Open opens (creating if absent) the transformed keyspace at
// datadir/keyspaces/<keyspace>/transformed.db.
func Open(opts Options) (*BoltStore, error) {
	db, err := boltkv.Open(opts.DataDir, opts.Keyspace, "transformed.db", allBuckets...)
	if err != nil {
		return nil, err
	}
	writeN := opts.WriteBatchSize
	if writeN <= 0 {
		writeN = 500
	}
	policy := opts.Retry
	if policy == (RetryPolicy{}) {
		policy = DefaultRetryPolicy()
	}
	return &BoltStore{db: db, policy: policy, writeN: writeN}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func addrIDKey(id model.AddressID) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(id))
	return b
}

func (s *BoltStore) GetAddressID(_ context.Context, addr model.CanonicalAddress) (model.AddressID, bool, error) {
	var id model.AddressID
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAddressByAddr).Get(addr.Bytes)
		if v == nil {
			return nil
		}
		id = model.AddressID(int32(binary.BigEndian.Uint32(v)))
		ok = true
		return nil
	})
	return id, ok, err
}

func (s *BoltStore) GetHighestAddressID(_ context.Context) (model.AddressID, error) {
	var max int32 = -1
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAddressByAddr).Cursor()
		for _, v := c.First(); v != nil; _, v = c.Next() {
			if id := int32(binary.BigEndian.Uint32(v)); id > max {
				max = id
			}
		}
		return nil
	})
	return model.AddressID(max), err
}

func (s *BoltStore) GetHighestBlock(_ context.Context) (int64, error) {
	var max int64 = -1
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketBlockTx).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		max = int64(binary.BigEndian.Uint64(k))
		return nil
	})
	return max, err
}

func (s *BoltStore) GetTxID(_ context.Context, hash string) (model.TxID, bool, error) {
	var id model.TxID
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTxIDByHash).Get([]byte(hash))
		if v == nil {
			return nil
		}
		id = model.TxID(int64(binary.BigEndian.Uint64(v)))
		ok = true
		return nil
	})
	return id, ok, err
}

func (s *BoltStore) GetHighestTxID(_ context.Context) (model.TxID, error) {
	var max int64 = -1
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTxIDByHash).Cursor()
		for _, v := c.First(); v != nil; _, v = c.Next() {
			n := int64(binary.BigEndian.Uint64(v))
			if n > max {
				max = n
			}
		}
		return nil
	})
	return model.TxID(max), err
}

func (s *BoltStore) GetAddress(_ context.Context, id model.AddressID) (*model.Address, bool, error) {
	var out *model.Address
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAddress).Get(addrIDKey(id))
		if v == nil {
			return nil
		}
		var a model.Address
		if err := json.Unmarshal(v, &a); err != nil {
			return newErr(ErrWriteRejected, "decode address row", err)
		}
		out = &a
		return nil
	})
	return out, out != nil, err
}

func relationKeyBytes(k model.RelationKey) []byte {
	b := make([]byte, 8+len(k.Token))
	binary.BigEndian.PutUint32(b[0:4], uint32(k.Src))
	binary.BigEndian.PutUint32(b[4:8], uint32(k.Dst))
	copy(b[8:], []byte(k.Token))
	return b
}

func (s *BoltStore) GetRelation(_ context.Context, key model.RelationKey) (*model.AddressRelation, bool, error) {
	var out *model.AddressRelation
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRelationOut).Get(relationKeyBytes(key))
		if v == nil {
			return nil
		}
		var r model.AddressRelation
		if err := json.Unmarshal(v, &r); err != nil {
			return newErr(ErrWriteRejected, "decode relation row", err)
		}
		out = &r
		return nil
	})
	return out, out != nil, err
}

// GetIncomingRelation reads the twin of the outgoing relation identified
// by key from bucketRelationIn, which is filed under the reversed key
// (see applyRowOp's RelationRow case).
func (s *BoltStore) GetIncomingRelation(_ context.Context, key model.RelationKey) (*model.AddressRelation, bool, error) {
	var out *model.AddressRelation
	reversed := model.RelationKey{Src: key.Dst, Dst: key.Src, Token: key.Token}
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRelationIn).Get(relationKeyBytes(reversed))
		if v == nil {
			return nil
		}
		var r model.AddressRelation
		if err := json.Unmarshal(v, &r); err != nil {
			return newErr(ErrWriteRejected, "decode relation row", err)
		}
		out = &r
		return nil
	})
	return out, out != nil, err
}

func (s *BoltStore) GetAddressEntity(_ context.Context, addr model.AddressID) (model.EntityID, bool, error) {
	var id model.EntityID
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAddressEntity).Get(addrIDKey(addr))
		if v == nil {
			return nil
		}
		id = model.EntityID(int32(binary.BigEndian.Uint32(v)))
		ok = true
		return nil
	})
	return id, ok, err
}

func (s *BoltStore) GetHighestEntityID(_ context.Context) (model.EntityID, error) {
	var max int32 = -1
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntity).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		max = int32(binary.BigEndian.Uint32(k))
		return nil
	})
	return model.EntityID(max), err
}

func (s *BoltStore) GetEntity(_ context.Context, id model.EntityID) (*model.Entity, bool, error) {
	var out *model.Entity
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketEntity).Get(entityIDKey(id))
		if v == nil {
			return nil
		}
		var members []model.AddressID
		if err := json.Unmarshal(v, &members); err != nil {
			return newErr(ErrWriteRejected, "decode entity row", err)
		}
		out = &model.Entity{ID: id, Members: members}
		return nil
	})
	return out, out != nil, err
}

func entityIDKey(id model.EntityID) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(id))
	return b
}

func (s *BoltStore) GetConfiguration(_ context.Context) (*Configuration, bool, error) {
	var out *Configuration
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketConfig).Get([]byte(configKey))
		if v == nil {
			return nil
		}
		var c Configuration
		if err := json.Unmarshal(v, &c); err != nil {
			return newErr(ErrWriteRejected, "decode configuration row", err)
		}
		out = &c
		return nil
	})
	return out, out != nil, err
}

func (s *BoltStore) PutConfiguration(_ context.Context, cfg Configuration) error {
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).Put([]byte(configKey), b)
	})
}

func (s *BoltStore) GetSummaryStatistics(_ context.Context) (*SummaryStatistics, bool, error) {
	var out *SummaryStatistics
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSummary).Get([]byte(summaryKey))
		if v == nil {
			return nil
		}
		var st SummaryStatistics
		if err := json.Unmarshal(v, &st); err != nil {
			return newErr(ErrWriteRejected, "decode summary row", err)
		}
		out = &st
		return nil
	})
	return out, out != nil, err
}

func (s *BoltStore) GetStatus(_ context.Context) (*StatusRow, bool, error) {
	var out *StatusRow
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketStatus).Get([]byte(statusKey))
		if v == nil {
			return nil
		}
		var st StatusRow
		if err := json.Unmarshal(v, &st); err != nil {
			return newErr(ErrWriteRejected, "decode status row", err)
		}
		out = &st
		return nil
	})
	return out, out != nil, err
}

func (s *BoltStore) GetHistory(_ context.Context) ([]HistoryRow, error) {
	var out []HistoryRow
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var h HistoryRow
			if err := json.Unmarshal(v, &h); err != nil {
				return newErr(ErrWriteRejected, "decode history row", err)
			}
			out = append(out, h)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].LastSyncedBlock < out[j].LastSyncedBlock })
	return out, err
}

func (s *BoltStore) CommitStatus(_ context.Context, status StatusRow) error {
	sb, err := json.Marshal(status)
	if err != nil {
		return err
	}
	hb, err := json.Marshal(HistoryRow(status))
	if err != nil {
		return err
	}
	hkey := make([]byte, 8)
	binary.BigEndian.PutUint64(hkey, uint64(status.LastSyncedBlock))
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketStatus).Put([]byte(statusKey), sb); err != nil {
			return err
		}
		return tx.Bucket(bucketHistory).Put(hkey, hb)
	})
}

// BatchWrite applies rows in deterministic, chunked, retried writes
// (spec.md §4.2, §5). Rows are sorted into per-table groups and then by
// their natural key before chunking, so that retries (and replays after
// a crash) produce byte-identical writes.
func (s *BoltStore) BatchWrite(ctx context.Context, rows []RowOp) error {
	ordered := orderRows(rows)
	for _, group := range chunk(ordered, s.writeN) {
		group := group
		err := withRetry(ctx, s.policy, func() error {
			return s.writeChunk(group)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) writeChunk(rows []RowOp) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, r := range rows {
			if err := applyRowOp(tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func applyRowOp(tx *bolt.Tx, r RowOp) error {
	switch v := r.(type) {
	case AddressRow:
		b, err := json.Marshal(v.Address)
		if err != nil {
			return newErr(ErrWriteRejected, "encode address row", err)
		}
		return tx.Bucket(bucketAddress).Put(addrIDKey(v.Address.ID), b)

	case AddressIDIndexRow:
		idb := make([]byte, 4)
		binary.BigEndian.PutUint32(idb, uint32(v.ID))
		return tx.Bucket(bucketAddressByAddr).Put(v.Address.Bytes, idb)

	case TxIDIndexRow:
		idb := make([]byte, 8)
		binary.BigEndian.PutUint64(idb, uint64(v.ID))
		return tx.Bucket(bucketTxIDByHash).Put([]byte(v.Hash), idb)

	case RelationRow:
		b, err := json.Marshal(v.AddressRelation)
		if err != nil {
			return newErr(ErrWriteRejected, "encode relation row", err)
		}
		bucket := bucketRelationOut
		key := model.RelationKey{Src: v.Src, Dst: v.Dst}
		if !v.Outgoing {
			bucket = bucketRelationIn
			key = model.RelationKey{Src: v.Dst, Dst: v.Src}
		}
		return tx.Bucket(bucket).Put(relationKeyBytes(key), b)

	case AddressTransactionRow:
		key := addressTxKey(v.Address, v.Outgoing, v.Token, v.TxID)
		b, err := json.Marshal(v)
		if err != nil {
			return newErr(ErrWriteRejected, "encode address_transactions row", err)
		}
		return tx.Bucket(bucketAddressTx).Put(key, b)

	case BlockTransactionRow:
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(v.BlockHeight))
		b, err := json.Marshal(v.TxIDs)
		if err != nil {
			return newErr(ErrWriteRejected, "encode block_transactions row", err)
		}
		return tx.Bucket(bucketBlockTx).Put(key, b)

	case EntityRow:
		b, err := json.Marshal(v.Entity.Members)
		if err != nil {
			return newErr(ErrWriteRejected, "encode entity row", err)
		}
		return tx.Bucket(bucketEntity).Put(entityIDKey(v.Entity.ID), b)

	case AddressEntityIndexRow:
		eb := make([]byte, 4)
		binary.BigEndian.PutUint32(eb, uint32(v.Entity))
		return tx.Bucket(bucketAddressEntity).Put(addrIDKey(v.Address), eb)

	case ExchangeRateRow:
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, uint64(v.BlockHeight))
		b, err := json.Marshal(v.Rates)
		if err != nil {
			return newErr(ErrWriteRejected, "encode exchange_rates row", err)
		}
		return tx.Bucket(bucketExchangeRates).Put(key, b)

	case SummaryStatisticsRow:
		b, err := json.Marshal(v)
		if err != nil {
			return newErr(ErrWriteRejected, "encode summary_statistics row", err)
		}
		return tx.Bucket(bucketSummary).Put([]byte(summaryKey), b)

	default:
		return newErr(ErrWriteRejected, fmt.Sprintf("unknown RowOp %T", r), nil)
	}
}

// addressTxKey builds the clustering key for address_transactions:
// (address_id, is_outgoing, token, transaction_id DESC). bbolt iterates
// keys in ascending byte order, so the tx id component is bit-inverted
// to make ascending key order equal descending tx-id order (spec.md §6).
func addressTxKey(addr model.AddressID, outgoing bool, token model.TokenKey, txID model.TxID) []byte {
	key := make([]byte, 4+1+len(token)+8)
	binary.BigEndian.PutUint32(key[0:4], uint32(addr))
	if outgoing {
		key[4] = 1
	}
	copy(key[5:5+len(token)], []byte(token))
	binary.BigEndian.PutUint64(key[5+len(token):], math.MaxUint64-uint64(txID))
	return key
}

// orderRows sorts RowOps by table and then by each table's natural key,
// so that repeated writes of the same batch (retries, or a replay after
// a crash restart) produce byte-identical operations in byte-identical
// order (spec.md §5 "Ordering guarantees").
func orderRows(rows []RowOp) []RowOp {
	out := make([]RowOp, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := rowOrderKey(out[i]), rowOrderKey(out[j])
		return oi < oj
	})
	return out
}

func rowOrderKey(r RowOp) string {
	switch v := r.(type) {
	case AddressRow:
		return fmt.Sprintf("0/%010d", v.Address.ID)
	case AddressIDIndexRow:
		return fmt.Sprintf("1/%010d", v.ID)
	case TxIDIndexRow:
		return fmt.Sprintf("2/%020d", v.ID)
	case RelationRow:
		return fmt.Sprintf("3/%010d/%010d/%v", v.Src, v.Dst, v.Outgoing)
	case AddressTransactionRow:
		return fmt.Sprintf("4/%010d/%v/%s/%020d", v.Address, v.Outgoing, v.Token, v.TxID)
	case BlockTransactionRow:
		return fmt.Sprintf("5/%020d", v.BlockHeight)
	case EntityRow:
		return fmt.Sprintf("6/%010d", v.Entity.ID)
	case AddressEntityIndexRow:
		return fmt.Sprintf("6b/%010d", v.Address)
	case ExchangeRateRow:
		return fmt.Sprintf("7/%020d", v.BlockHeight)
	case SummaryStatisticsRow:
		return "8"
	default:
		return "9"
	}
}
