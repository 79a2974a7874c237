package igis

import (
	"context"
	"io"
)

// Cache is the durable, ordered key-value store behind the OID/CID cache
// (spec §4.1). Keys and values are opaque byte strings; namespacing (the
// `<OID>`, `modes:<OID>`, `<CID>` key families of spec §3) is the caller's
// concern, not the store's.
type Cache interface {
	Get(ctx context.Context, key []byte) (value []byte, found bool, err error)
	Put(ctx context.Context, key, value []byte) error
	Drop(ctx context.Context) error
	Iterate(ctx context.Context) (CacheIterator, error)
}

// CacheIterator is a lazy sequence of (key, value) pairs, used by the
// `hash-cache:dump` administrative operation (spec §6).
type CacheIterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Close() error
	Err() error
}

// DirEntry is one child of a UnixFS directory listing, as returned by
// IPFS.Ls (spec §4.4 step 3).
type DirEntry struct {
	Name string
	CID  CID
	Dir  bool
}

// IPFS is the set of operations the core requires of an IPFS node,
// narrowed to exactly the calls spec §5 names as suspension points:
// dag.get, dag.put, ls, cat, add, object.patch.addLink, pin.add.
type IPFS interface {
	// DagPut stores a dag-cbor node and returns its CID.
	DagPut(ctx context.Context, node interface{}) (CID, error)
	// DagGet reads a dag-cbor node back into out.
	DagGet(ctx context.Context, cid CID, out interface{}) error
	// Ls lists the immediate children of a UnixFS directory.
	Ls(ctx context.Context, cid CID) ([]DirEntry, error)
	// Cat streams the bytes of a UnixFS file.
	Cat(ctx context.Context, cid CID) (io.ReadCloser, error)
	// Add streams bytes into a new UnixFS file, optionally pinning it.
	Add(ctx context.Context, r io.Reader, pin bool) (CID, error)
	// PatchAddLink returns a new dag-pb directory equal to base plus one
	// link named name pointing at target.
	PatchAddLink(ctx context.Context, base CID, name string, target CID, pin bool) (CID, error)
	// PinAdd pins cid and everything reachable from it.
	PinAdd(ctx context.Context, cid CID) error
}

// TreeEntry is one entry of a Git tree, independent of any particular Git
// library's representation (spec §3 "Tree Node").
type TreeEntry struct {
	Name string
	Mode FileMode
	OID  OID
}

// GitRepo is the set of operations the core requires of the local Git
// object database and working tree (spec §1).
type GitRepo interface {
	// ReadTree lists the entries of the tree object at oid.
	ReadTree(ctx context.Context, oid OID) ([]TreeEntry, error)
	// WriteTree creates a tree object from entries and returns its OID.
	WriteTree(ctx context.Context, entries []TreeEntry) (OID, error)

	// ReadBlob streams the bytes of the blob at oid.
	ReadBlob(ctx context.Context, oid OID) (io.ReadCloser, error)
	// WriteBlob creates a blob object from r and returns its OID.
	WriteBlob(ctx context.Context, r io.Reader) (OID, error)

	// ReadCommit looks up the commit at oid.
	ReadCommit(ctx context.Context, oid OID) (*LocalCommit, error)
	// WriteCommit creates a commit object and returns its OID.
	WriteCommit(ctx context.Context, c *LocalCommit) (OID, error)

	// ReadTag looks up the tag at oid; returns ErrTagNotATag (category)
	// if oid names something other than an annotated tag object.
	ReadTag(ctx context.Context, oid OID) (*LocalTag, error)
	// WriteTag creates an (optionally signed) annotated tag object.
	WriteTag(ctx context.Context, t *LocalTag) (OID, error)

	// ExistsPrefix reports whether oid is present in the local ODB
	// (spec §4.4 edge case).
	ExistsPrefix(ctx context.Context, oid OID) (bool, error)

	// ResolveRef returns the OID a ref (e.g. "refs/heads/master" or
	// "HEAD") currently points at.
	ResolveRef(ctx context.Context, ref string) (OID, error)
	// CreateBranch points refs/heads/<name> at oid, force-creating it.
	// A BranchExists condition is not an error (spec §7).
	CreateBranch(ctx context.Context, name string, oid OID) error
	// CreateLightweightTag points refs/tags/<name> at oid, force-creating it.
	CreateLightweightTag(ctx context.Context, name string, oid OID) error
	// SetHEAD repoints the local HEAD symbolic ref at ref.
	SetHEAD(ctx context.Context, ref string) error
}

// LocalCommit is a Git-library-independent view of a commit, used to move
// data across the GitRepo boundary (spec §3 "Commit Node", §4.5).
type LocalCommit struct {
	OID          OID
	Tree         OID
	Parents      []OID
	AuthorSig    Signature
	CommitterSig Signature
	Encoding     string
	Message      string
	PGPSignature string // the `gpgsig` header block, if any
}

// LocalTag is a Git-library-independent view of an annotated tag object
// (spec §3 "Tag Node", §4.6).
type LocalTag struct {
	OID          OID
	Name         string
	Target       OID // the commit (or other object) this tag points at
	TaggerSig    Signature
	Message      string
	PGPSignature string
}
