package igis

// Error categories for this tool, in the style of the teacher's own
// `rio.Error` taxonomy (root `errors.go`): each value below is passed as
// the `category` argument to `errcat.Errorf`/`errcat.ErrorDetailed`, and
// recovered later with `errcat.Category(err)`. See spec §7.
type Category string

const (
	// ErrIPFSUnavailable: transport or node error on any IPFS call.
	// Surfaced after one attempt; no automatic retries at this layer.
	ErrIPFSUnavailable Category = "IPFSUnavailable"

	// ErrCacheInconsistent: a Put would overwrite an existing key with a
	// differing value. Fatal: corruption or a hash collision.
	ErrCacheInconsistent Category = "CacheInconsistent"

	// ErrODBMissing: a cached OID is not present in the local ODB.
	// Handled locally by re-materializing the object; not surfaced to
	// the caller of the push/fetch operation.
	ErrODBMissing Category = "ODBMissing"

	// ErrTagNotATag: Tag lookup on an OID that is not an annotated tag
	// object. Handled locally by falling through to the commit path.
	ErrTagNotATag Category = "TagNotATag"

	// ErrUnrepresentableEntry: a tree entry is neither blob nor tree
	// (e.g. a submodule gitlink). Warned to stderr, omitted from both
	// artifacts.
	ErrUnrepresentableEntry Category = "UnrepresentableEntry"

	// ErrSignatureMismatch: after fetch, the reconstructed commit's OID
	// disagrees with the `oid` field of the CBOR node. Fatal.
	ErrSignatureMismatch Category = "SignatureMismatch"

	// ErrMalformedNode: a CBOR node is missing a required field. Fatal.
	ErrMalformedNode Category = "MalformedNode"

	// ErrCancelled: a context.Context cancelled a long operation
	// part-way through.
	ErrCancelled Category = "Cancelled"
)
