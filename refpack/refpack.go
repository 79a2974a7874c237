/*
	Package refpack implements the Ref Pack Builder (spec §4.7): it
	composes the CIDs of a completed push batch into the virtual `.git/`
	tree (HEAD, uuid, refs/{heads,tags}/...) and attaches that tree to the
	pushed branch's working-tree root, producing the final remote root
	CID.

	Grounded on `assembler/assembler.go`'s `AssemblyPart` -- pairing a
	source path with a target path -- repurposed here from "mount source
	path into target path" to "insert a CID at a ref path" (PushResult
	plays AssemblyPart's role).
*/
package refpack

import (
	"context"
	"strings"

	"github.com/google/uuid"
	errcat "github.com/warpfork/go-errcat"

	"github.com/ipfs-shipyard/git-remote-igis"
)

// PushResult is one completed push in a batch: the ref it landed on and
// the CID of the commit or tag node produced for it (spec §4.7's
// "(dstRef, topCID)" pairs).
type PushResult struct {
	DstRef string
	CID    igis.CID
	IsTag  bool
}

// Preload reads the VFS root nested at "<rootCID>/.git" (spec §4.7
// "Continuation push"), used when the push URL names an existing remote
// CID rather than a fresh "ipfs://<name>".
func Preload(ctx context.Context, ipfs igis.IPFS, rootCID igis.CID) (*igis.VFSRoot, error) {
	entries, err := ipfs.Ls(ctx, rootCID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name == ".git" {
			var vfs igis.VFSRoot
			if err := ipfs.DagGet(ctx, e.CID, &vfs); err != nil {
				return nil, err
			}
			return &vfs, nil
		}
	}
	return nil, errcat.Errorf(igis.ErrMalformedNode, "remote root %s has no .git entry", rootCID)
}

// Build assembles a new remote root from a completed push batch (spec
// §4.7 steps 1-7).
//
// vfs is the preloaded VFS root for a continuation push, or nil for a
// fresh "ipfs://<name>" push. name is the repository name to record when
// non-empty (only a fresh push supplies one; a continuation push's
// caller-provided fields -- here, an empty name -- never overwrite a
// preloaded one). results must be ordered the way they completed (spec
// §5 "Ref push results are emitted ... in the order pushes complete").
func Build(ctx context.Context, ipfs igis.IPFS, vfs *igis.VFSRoot, name string, results []PushResult) (igis.CID, *igis.VFSRoot, error) {
	if len(results) == 0 {
		return "", nil, errcat.Errorf(igis.ErrMalformedNode, "refpack: cannot build a root from an empty push batch")
	}
	if vfs == nil {
		vfs = &igis.VFSRoot{}
	}
	if vfs.Refs == nil {
		vfs.Refs = map[string]igis.RefTree{}
	}
	if name != "" {
		vfs.Name = name
	}

	// Step 1: HEAD is recomputed fresh for this batch.
	vfs.HEAD = ""
	for _, res := range results {
		insertRef(vfs.Refs, refSegments(res.DstRef), res.CID)
		if vfs.HEAD == "" {
			vfs.HEAD = res.DstRef
		}
	}

	// Step 5: mint a uuid on first push; preserve it thereafter (P7).
	if vfs.UUID == "" {
		id, err := uuid.NewUUID()
		if err != nil {
			return "", nil, errcat.Errorf(igis.ErrIPFSUnavailable, "refpack: could not mint uuid: %s", err)
		}
		vfs.UUID = id.String()
	}

	// Step 4: the working-tree base is the tree of the first successful
	// result, dereferencing .commit first if it was a tag.
	workingBase, err := treeOf(ctx, ipfs, results[0])
	if err != nil {
		return "", nil, err
	}

	vfsCID, err := ipfs.DagPut(ctx, vfs)
	if err != nil {
		return "", nil, err
	}

	rootCID, err := ipfs.PatchAddLink(ctx, workingBase, ".git", vfsCID, true)
	if err != nil {
		return "", nil, err
	}
	if err := ipfs.PinAdd(ctx, rootCID); err != nil {
		return "", nil, err
	}
	return rootCID, vfs, nil
}

// treeOf resolves the working-tree CID behind a push result: its commit
// node's tree field directly, or (for a tag result) the tree field of
// the commit the tag targets.
func treeOf(ctx context.Context, ipfs igis.IPFS, res PushResult) (igis.CID, error) {
	commitCID := res.CID
	if res.IsTag {
		var tagNode igis.TagNode
		if err := ipfs.DagGet(ctx, res.CID, &tagNode); err != nil {
			return "", err
		}
		commitCID = tagNode.Commit
	}
	var commitNode igis.CommitNode
	if err := ipfs.DagGet(ctx, commitCID, &commitNode); err != nil {
		return "", err
	}
	return commitNode.Tree, nil
}

// refSegments splits a ref path like "refs/heads/master" into the
// segments below "refs/" ("heads", "master"), matching vfs.Refs's shape
// (spec §6 "refs/{heads,tags}/..."; VFSRoot.Refs represents everything
// under that top-level "refs" key).
func refSegments(ref string) []string {
	return strings.Split(strings.TrimPrefix(ref, "refs/"), "/")
}

// insertRef creates intermediate RefTree mappings on demand and sets the
// final segment's leaf CID (spec §4.7 step 2).
func insertRef(refs map[string]igis.RefTree, segments []string, cid igis.CID) {
	if len(segments) == 1 {
		refs[segments[0]] = igis.RefTree{IsLeaf: true, Leaf: cid}
		return
	}
	node := refs[segments[0]]
	if node.Entries == nil {
		node = igis.RefTree{Entries: map[string]igis.RefTree{}}
	}
	insertRef(node.Entries, segments[1:], cid)
	refs[segments[0]] = node
}
