/*
	Package igis maps a local Git repository onto a content-addressed
	distributed store (IPFS).

	This file holds the data model shared by every component: the opaque
	identifiers (OID, CID), the Git file modes, and the on-wire dag-cbor
	node shapes described in spec §3 and §6.
*/
package igis

// OID is a Git object identifier: a 20-byte SHA-1, rendered as 40 lowercase
// hex characters. Equality is the only operation the core requires of it.
type OID string

// CID is an opaque IPFS content identifier (multihash + codec tag). The
// core never inspects a CID's bytes; it only round-trips the string form
// handed back by the IPFS collaborator.
type CID string

// FileMode is a Git tree-entry file mode, preserved losslessly end-to-end.
type FileMode int

const (
	ModeFile       FileMode = 0100644
	ModeExecutable FileMode = 0100755
	ModeSymlink    FileMode = 0120000
	ModeSubmodule  FileMode = 0160000
	ModeDir        FileMode = 0040000
)

// EmptyDirCID is the canonical UnixFS directory CID for a directory with no
// entries; the starting point of every new working tree (spec §6).
const EmptyDirCID CID = "QmUNLLsPACCz1vLxQVkXqqLX5R1X345qqfHbsf67hvA3Nn"

// Signature is a Git author/committer/tagger identity (spec §3, §6).
type Signature struct {
	Name   string `refmt:"name"`
	Email  string `refmt:"email"`
	Time   int64  `refmt:"time"`   // unix seconds
	Offset int    `refmt:"offset"` // minutes east of UTC
}

// CommitNode is the dag-cbor object a Git commit is translated into
// (spec §3 "Commit Node", §6 "Commit CBOR-DAG fields").
type CommitNode struct {
	OID          OID       `refmt:"oid"`
	AuthorSig    Signature `refmt:"authorSig"`
	CommitterSig Signature `refmt:"committerSig"`
	Encoding     string    `refmt:"encoding"`
	Message      string    `refmt:"message"`
	Tree         CID       `refmt:"tree"`
	Modes        CID       `refmt:"modes"`
	Parents      []CID     `refmt:"parents"`
	Signature    string    `refmt:"signature,omitempty"`
}

// TagType distinguishes annotated tags (full tag objects, possibly signed)
// from lightweight tags (bare refs pointing at a commit).
type TagType string

const (
	TagAnnotated  TagType = "annotated"
	TagLightweight TagType = "lightweight"
)

// TagNode is the dag-cbor object a Git tag is translated into (spec §3
// "Tag Node", §6 "Tag CBOR-DAG fields").
type TagNode struct {
	OID       OID       `refmt:"oid"`
	Name      string    `refmt:"name"`
	Type      TagType   `refmt:"type"`
	Commit    CID       `refmt:"commit"`
	TaggerSig Signature `refmt:"taggerSig,omitempty"`
	Message   string    `refmt:"message,omitempty"`
	Signature string    `refmt:"signature,omitempty"`
}

// ModesNode is the dag-cbor mapping that accompanies a UnixFS directory:
// each value is either a file mode (leaf) or the CID of a child ModesNode
// (subtree) -- spec §3 "Tree Node", invariant (Tree).
type ModesNode map[string]ModeEntry

// ModeEntry is the tagged union stored per entry of a ModesNode: exactly
// one of Mode (a leaf) or Child (a subtree's own modesCID) is meaningful,
// distinguished by IsTree.
type ModeEntry struct {
	IsTree bool
	Mode   FileMode
	Child  CID
}

// VFSRoot is the dag-cbor object describing the virtual `.git/` tree
// attached to every pushed remote (spec §3 "VFS Root").
type VFSRoot struct {
	Name string
	UUID string
	HEAD string
	Refs map[string]RefTree
}

// RefTree is one branch of the `refs/{heads,tags}/...` hierarchy: either a
// leaf CID (a commit or tag) or a nested namespace.
type RefTree struct {
	Leaf    CID
	IsLeaf  bool
	Entries map[string]RefTree
}
