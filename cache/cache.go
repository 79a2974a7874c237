/*
	Package cache is the durable OID/CID cache (spec §4.1): a leveldb-backed
	key-value store, keyed by the byte-string families spec §3 defines
	("<OID>", "modes:<OID>", "<CID>").

	The sharded-shelf idea comes from the teacher's own `cache/filesetCache.go`
	(`ShelfFor`), which derived a deterministic path from a content hash for
	an external blobstore; here the same determinism lands on leveldb keys
	instead of filesystem paths, because the backend is now an embedded
	ordered key-value store, as spec.md §9 recommends ("the reference
	implementation uses an ordered-key-value log (leveldb-style)").
*/
package cache

import (
	"bytes"
	"context"

	. "github.com/warpfork/go-errcat"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/ipfs-shipyard/git-remote-igis"
)

// Key namespace prefixes (spec §3 "Cache entries"). Reserved; must not
// collide across families.
const (
	prefixOID   = "o:" // <OID> -> <CID>
	prefixModes = "m:" // modes:<OID> -> <modesCID>
	prefixCID   = "c:" // <CID> -> <OID>
)

var _ igis.Cache = (*Store)(nil)

// Store is a leveldb-backed implementation of igis.Cache.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if necessary) a cache database rooted at dir --
// conventionally "<GIT_DIR>/remote-igis", as config.GetCacheDir returns
// (spec §6 "On-disk cache path").
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, Errorf(igis.ErrIPFSUnavailable, "could not open cache at %s: %s", dir, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// OIDKey builds the cache key for the OID -> CID translation family.
func OIDKey(oid igis.OID) []byte {
	return append([]byte(prefixOID), []byte(oid)...)
}

// ModesKey builds the cache key for the tree-mode companion family.
func ModesKey(oid igis.OID) []byte {
	return append([]byte(prefixModes), []byte(oid)...)
}

// CIDKey builds the cache key for the reverse CID -> OID lookup family.
func CIDKey(cid igis.CID) []byte {
	return append([]byte(prefixCID), []byte(cid)...)
}

func (s *Store) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	v, err := s.db.Get(key, nil)
	if err == errors.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Errorf(igis.ErrIPFSUnavailable, "cache get failed: %s", err)
	}
	return v, true, nil
}

// Put is atomic per key (spec §4.1). A put to an existing key with the
// same value is a no-op; with a different value it is a hard
// inconsistency -- spec §3 "Lifecycle", §7 CacheInconsistent, property P6.
func (s *Store) Put(ctx context.Context, key, value []byte) error {
	existing, err := s.db.Get(key, nil)
	switch err {
	case nil:
		if bytes.Equal(existing, value) {
			return nil
		}
		return ErrorDetailed(igis.ErrCacheInconsistent, "cache key written with a differing value", map[string]string{
			"key":      string(key),
			"existing": string(existing),
			"new":      string(value),
		})
	case errors.ErrNotFound:
		// fall through to write
	default:
		return Errorf(igis.ErrIPFSUnavailable, "cache get (pre-put check) failed: %s", err)
	}
	if err := s.db.Put(key, value, nil); err != nil {
		return Errorf(igis.ErrIPFSUnavailable, "cache put failed: %s", err)
	}
	return nil
}

// Drop empties the store (the `hash-cache:clear` administrative op,
// spec §6). Correctness is preserved without the cache; only throughput
// suffers.
func (s *Store) Drop(ctx context.Context) error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte{}, iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return Errorf(igis.ErrIPFSUnavailable, "cache drop scan failed: %s", err)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return Errorf(igis.ErrIPFSUnavailable, "cache drop failed: %s", err)
	}
	return nil
}

func (s *Store) Iterate(ctx context.Context) (igis.CacheIterator, error) {
	return &iterator{it: s.db.NewIterator(util.BytesPrefix(nil), nil)}, nil
}

type iterator struct {
	it  iteratorLike
	err error
}

// iteratorLike narrows goleveldb's iterator.Iterator to what we use, so
// this file doesn't have to import it under its own unwieldy package name
// twice.
type iteratorLike interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

func (i *iterator) Next() bool      { return i.it.Next() }
func (i *iterator) Key() []byte     { return append([]byte{}, i.it.Key()...) }
func (i *iterator) Value() []byte   { return append([]byte{}, i.it.Value()...) }
func (i *iterator) Close() error    { i.it.Release(); return nil }
func (i *iterator) Err() error      { return i.it.Error() }
