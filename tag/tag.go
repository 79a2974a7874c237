/*
	Package tag implements the Tag Serializer/Deserializer (spec §4.6):
	lightweight and annotated (optionally PGP-signed) Git tags, translated
	to and from dag-cbor TagNodes.

	Grounded on `warehouse/impl/git/git.go`'s error-category-driven
	branching (`errcat.Category(err)` switches): the same "look up, branch
	on the failure category" shape distinguishes an annotated tag object
	from a lightweight tag here, via igis.ErrTagNotATag.
*/
package tag

import (
	"context"

	"github.com/rs/zerolog"
	errcat "github.com/warpfork/go-errcat"

	"github.com/ipfs-shipyard/git-remote-igis"
	"github.com/ipfs-shipyard/git-remote-igis/cache"
	"github.com/ipfs-shipyard/git-remote-igis/commit"
)

// Codec drives pushes and fetches of Git tag refs (both annotated tag
// objects and lightweight tags that are bare pointers at a commit).
type Codec struct {
	Git    igis.GitRepo
	IPFS   igis.IPFS
	Cache  igis.Cache
	Commit *commit.Codec
	Log    zerolog.Logger
}

func New(git igis.GitRepo, ipfs igis.IPFS, c igis.Cache, cm *commit.Codec, log zerolog.Logger) *Codec {
	return &Codec{Git: git, IPFS: ipfs, Cache: c, Commit: cm, Log: log}
}

// PushTag translates the ref named name, currently pointing at oid, into
// a TagNode (spec §4.6 "Push"). oid may name either an annotated tag
// object or (for a lightweight tag) a commit directly.
func (c *Codec) PushTag(ctx context.Context, oid igis.OID, name string) (igis.CID, error) {
	lt, err := c.Git.ReadTag(ctx, oid)
	var node *igis.TagNode
	switch {
	case err == nil:
		if v, found, err := c.Cache.Get(ctx, cache.OIDKey(oid)); err != nil {
			return "", err
		} else if found {
			return igis.CID(v), nil
		}
		targetCID, perr := c.Commit.PushCommit(ctx, lt.Target)
		if perr != nil {
			return "", perr
		}
		node = &igis.TagNode{
			OID:       oid,
			Name:      name,
			Type:      igis.TagAnnotated,
			Commit:    targetCID,
			TaggerSig: lt.TaggerSig,
			Message:   lt.Message,
			Signature: lt.PGPSignature,
		}
	case errcat.Category(err) == igis.ErrTagNotATag:
		commitCID, perr := c.Commit.PushCommit(ctx, oid)
		if perr != nil {
			return "", perr
		}
		node = &igis.TagNode{
			OID:    oid,
			Name:   name,
			Type:   igis.TagLightweight,
			Commit: commitCID,
		}
	default:
		return "", err
	}

	cid, err := c.IPFS.DagPut(ctx, node)
	if err != nil {
		return "", err
	}
	// A lightweight tag's oid is its commit's oid, whose OID -> CID entry
	// belongs to the commit node; only an annotated tag object gets one.
	if node.Type == igis.TagAnnotated {
		if err := c.Cache.Put(ctx, cache.OIDKey(oid), []byte(cid)); err != nil {
			return "", err
		}
	}
	if err := c.Cache.Put(ctx, cache.CIDKey(cid), []byte(oid)); err != nil {
		return "", err
	}
	return cid, nil
}

// FetchTag reconstructs the local object a TagNode describes (spec §4.6
// "Fetch") and returns its OID: a fresh annotated tag object for
// type=annotated, or the target commit's own OID for type=lightweight
// (a lightweight tag has no object of its own -- the ref points straight
// at the commit).
func (c *Codec) FetchTag(ctx context.Context, cid igis.CID) (igis.OID, error) {
	if v, found, err := c.Cache.Get(ctx, cache.CIDKey(cid)); err != nil {
		return "", err
	} else if found {
		oid := igis.OID(v)
		if exists, err := c.Git.ExistsPrefix(ctx, oid); err != nil {
			return "", err
		} else if exists {
			return oid, nil
		}
	}

	var node igis.TagNode
	if err := c.IPFS.DagGet(ctx, cid, &node); err != nil {
		return "", err
	}

	commitOID, err := c.Commit.FetchCommit(ctx, node.Commit)
	if err != nil {
		return "", err
	}

	var oid igis.OID
	switch node.Type {
	case igis.TagLightweight:
		oid = commitOID
	case igis.TagAnnotated:
		oid, err = c.Git.WriteTag(ctx, &igis.LocalTag{
			Name:         node.Name,
			Target:       commitOID,
			TaggerSig:    node.TaggerSig,
			Message:      node.Message,
			PGPSignature: node.Signature,
		})
		if err != nil {
			return "", err
		}
	default:
		return "", errcat.Errorf(igis.ErrMalformedNode, "tag node %s has unknown type %q", cid, node.Type)
	}

	if err := c.Cache.Put(ctx, cache.CIDKey(cid), []byte(oid)); err != nil {
		return "", err
	}
	if node.Type == igis.TagAnnotated {
		if err := c.Cache.Put(ctx, cache.OIDKey(oid), []byte(cid)); err != nil {
			return "", err
		}
	}
	return oid, nil
}
