/*
	Package commit implements the Commit Serializer/Deserializer (spec
	§4.5): it converts a Git commit -- parents, tree, author/committer
	signatures, message, encoding, and optional PGP signature -- into a
	dag-cbor CommitNode, and back, driving package tree for the commit's
	tree.

	Grounded on `warehouse/impl/git/git.go`'s `GetCommit` for the shape of
	reading a commit out of the local ODB and translating it into a
	library-independent struct.
*/
package commit

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	errcat "github.com/warpfork/go-errcat"
	"golang.org/x/sync/singleflight"

	"github.com/ipfs-shipyard/git-remote-igis"
	"github.com/ipfs-shipyard/git-remote-igis/cache"
	"github.com/ipfs-shipyard/git-remote-igis/resolve"
	"github.com/ipfs-shipyard/git-remote-igis/tree"
)

// Codec drives pushes and fetches of Git commit objects.
type Codec struct {
	Git   igis.GitRepo
	IPFS  igis.IPFS
	Cache igis.Cache
	Tree  *tree.Codec
	Log   zerolog.Logger

	// Push is the coalescing resolver that PushCommit (and so package
	// tag) and this package's own parent recursion go through, so a
	// commit OID is pushed once no matter how many refs or parent edges
	// reach it (spec §4.2, P5, P8).
	Push *resolve.PushResolver

	fetchGroup singleflight.Group
}

// New builds a Codec.
func New(git igis.GitRepo, ipfs igis.IPFS, c igis.Cache, t *tree.Codec, log zerolog.Logger) *Codec {
	cd := &Codec{Git: git, IPFS: ipfs, Cache: c, Tree: t, Log: log}
	cd.Push = resolve.NewPushResolver(cd.pushCommit)
	return cd
}

// PushCommit is the coalescing resolver's entry point (spec §4.5 "Push"):
// it goes through c.Push.Resolve, so concurrent callers for the same OID
// share one translation.
func (c *Codec) PushCommit(ctx context.Context, oid igis.OID) (igis.CID, error) {
	return c.Push.Resolve(ctx, oid)
}

// pushCommit is the underlying, uncoalesced translation (spec §4.5 steps
// 1-5).
func (c *Codec) pushCommit(ctx context.Context, oid igis.OID) (igis.CID, error) {
	// Fast path (step 1): a prior push (this process or an earlier one,
	// since the cache is durable) already translated this commit.
	if v, found, err := c.Cache.Get(ctx, cache.OIDKey(oid)); err != nil {
		return "", err
	} else if found {
		return igis.CID(v), nil
	}

	lc, err := c.Git.ReadCommit(ctx, oid)
	if err != nil {
		return "", err
	}

	fsCID, modesCID, err := c.Tree.PushTree(ctx, lc.Tree)
	if err != nil {
		return "", err
	}

	parentCIDs := make([]igis.CID, len(lc.Parents))
	errs := make([]error, len(lc.Parents))
	var wg sync.WaitGroup
	wg.Add(len(lc.Parents))
	for i, p := range lc.Parents {
		go func(i int, p igis.OID) {
			defer wg.Done()
			cid, err := c.Push.Resolve(ctx, p)
			if err != nil {
				errs[i] = err
				return
			}
			parentCIDs[i] = cid
		}(i, p)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return "", err
		}
	}

	node := &igis.CommitNode{
		OID:          oid,
		AuthorSig:    lc.AuthorSig,
		CommitterSig: lc.CommitterSig,
		Encoding:     lc.Encoding,
		Message:      lc.Message,
		Tree:         fsCID,
		Modes:        modesCID,
		Parents:      parentCIDs,
		Signature:    lc.PGPSignature,
	}

	cid, err := c.IPFS.DagPut(ctx, node)
	if err != nil {
		return "", err
	}
	if err := c.Cache.Put(ctx, cache.OIDKey(oid), []byte(cid)); err != nil {
		return "", err
	}
	if err := c.Cache.Put(ctx, cache.CIDKey(cid), []byte(oid)); err != nil {
		return "", err
	}
	return cid, nil
}

// FetchCommit is the coalescing resolver's fetch-side entry point (spec
// §4.5 "Fetch"). Coalesces concurrent fetches of the same commit CID
// (e.g. a shared merge ancestor reached through two parent edges, §9
// "source fetch bypasses the coalescing resolver on some paths" -- this
// implementation does not).
func (c *Codec) FetchCommit(ctx context.Context, cid igis.CID) (igis.OID, error) {
	if oid, ok, err := c.cachedAndPresent(ctx, cid); err != nil {
		return "", err
	} else if ok {
		return oid, nil
	}
	v, err, _ := c.fetchGroup.Do(string(cid), func() (interface{}, error) {
		if oid, ok, err := c.cachedAndPresent(ctx, cid); err != nil {
			return nil, err
		} else if ok {
			return oid, nil
		}
		return c.fetchCommit(ctx, cid)
	})
	if err != nil {
		return "", err
	}
	return v.(igis.OID), nil
}

func (c *Codec) fetchCommit(ctx context.Context, cid igis.CID) (igis.OID, error) {
	var node igis.CommitNode
	if err := c.IPFS.DagGet(ctx, cid, &node); err != nil {
		return "", err
	}

	treeOID, err := c.Tree.FetchTree(ctx, node.Tree, node.Modes)
	if err != nil {
		return "", err
	}

	parents := make([]igis.OID, len(node.Parents))
	errs := make([]error, len(node.Parents))
	var wg sync.WaitGroup
	wg.Add(len(node.Parents))
	for i, p := range node.Parents {
		go func(i int, p igis.CID) {
			defer wg.Done()
			oid, err := c.FetchCommit(ctx, p)
			if err != nil {
				errs[i] = err
				return
			}
			parents[i] = oid
		}(i, p)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return "", err
		}
	}

	lc := &igis.LocalCommit{
		Tree:         treeOID,
		Parents:      parents,
		AuthorSig:    node.AuthorSig,
		CommitterSig: node.CommitterSig,
		Encoding:     node.Encoding,
		Message:      node.Message,
		PGPSignature: node.Signature,
	}
	newOID, err := c.Git.WriteCommit(ctx, lc)
	if err != nil {
		return "", err
	}

	// Determinism check (spec §4.5 "Determinism", §7 SignatureMismatch):
	// reconstruction must reproduce the exact OID the node was built
	// from, whether or not a PGP signature was present.
	if node.OID != "" && newOID != node.OID {
		return "", errcat.ErrorDetailed(igis.ErrSignatureMismatch,
			"reconstructed commit does not match its recorded oid", map[string]string{
				"recorded":      string(node.OID),
				"reconstructed": string(newOID),
			})
	}

	if err := c.Cache.Put(ctx, cache.CIDKey(cid), []byte(newOID)); err != nil {
		return "", err
	}
	if err := c.Cache.Put(ctx, cache.OIDKey(newOID), []byte(cid)); err != nil {
		return "", err
	}
	return newOID, nil
}

func (c *Codec) cachedAndPresent(ctx context.Context, cid igis.CID) (igis.OID, bool, error) {
	v, found, err := c.Cache.Get(ctx, cache.CIDKey(cid))
	if err != nil || !found {
		return "", false, err
	}
	oid := igis.OID(v)
	exists, err := c.Git.ExistsPrefix(ctx, oid)
	if err != nil {
		return "", false, err
	}
	return oid, exists, nil
}
