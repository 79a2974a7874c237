/*
	Package tree implements the Tree Serializer/Deserializer (spec §4.3,
	§4.4): it converts a Git tree object into a UnixFS directory plus a
	dag-cbor mapping of file modes, and back.

	The fan-out-over-entries, fold-errors-after-wait shape is grounded on
	`stitch/treePack.go`'s `PackMulti` (sort, launch a goroutine per spec,
	`sync.WaitGroup`, first-error-wins). Where the teacher fans out over a
	flat list of independent pack specs, this fans out over one Git tree's
	entries and recurses for subtrees.
*/
package tree

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	errcat "github.com/warpfork/go-errcat"
	"golang.org/x/sync/singleflight"

	"github.com/ipfs-shipyard/git-remote-igis"
	"github.com/ipfs-shipyard/git-remote-igis/cache"
	"github.com/ipfs-shipyard/git-remote-igis/resolve"
)

// Codec drives pushes and fetches of Git tree objects against the IPFS
// and cache collaborators.
type Codec struct {
	Git   igis.GitRepo
	IPFS  igis.IPFS
	Cache igis.Cache
	Log   zerolog.Logger

	dirPush  *resolve.PushResolver
	blobPush *resolve.PushResolver

	fetchDirGroup  singleflight.Group
	fetchBlobGroup singleflight.Group
}

// New builds a Codec. The push-side coalescing resolvers wrap the Codec's
// own subtree/blob push methods, so concurrent references to the same
// subtree or blob OID -- e.g. two branches sharing a common ancestor's
// unchanged files -- translate it at most once (spec §4.2, P5).
func New(git igis.GitRepo, ipfs igis.IPFS, c igis.Cache, log zerolog.Logger) *Codec {
	cd := &Codec{Git: git, IPFS: ipfs, Cache: c, Log: log}
	cd.dirPush = resolve.NewPushResolver(cd.pushSubtree)
	cd.blobPush = resolve.NewPushResolver(cd.pushBlob)
	return cd
}

// PushTree walks the Git tree at oid and materializes it as a UnixFS
// directory (fsCID) plus its dag-cbor mode companion (modesCID), per
// spec §4.3's algorithm. Every directory, top-level or nested, is built
// up starting from igis.EmptyDirCID.
func (c *Codec) PushTree(ctx context.Context, oid igis.OID) (fsCID, modesCID igis.CID, err error) {
	entries, err := c.Git.ReadTree(ctx, oid)
	if err != nil {
		return "", "", err
	}

	results := make([]entryResult, len(entries))
	errs := make([]error, len(entries))
	var wg sync.WaitGroup
	wg.Add(len(entries))
	for i, e := range entries {
		go func(i int, e igis.TreeEntry) {
			defer wg.Done()
			res, err := c.pushEntry(ctx, e)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = res
		}(i, e)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return "", "", err
		}
	}

	base := igis.EmptyDirCID
	modes := igis.ModesNode{}
	for _, res := range results {
		if res.skip {
			continue
		}
		base, err = c.IPFS.PatchAddLink(ctx, base, res.name, res.cid, true)
		if err != nil {
			return "", "", err
		}
		if res.isTree {
			modes[res.name] = igis.ModeEntry{IsTree: true, Child: res.childModes}
		} else {
			modes[res.name] = igis.ModeEntry{Mode: res.mode}
		}
	}

	modesCID, err = c.IPFS.DagPut(ctx, modes)
	if err != nil {
		return "", "", err
	}
	return base, modesCID, nil
}

type entryResult struct {
	name       string
	cid        igis.CID
	mode       igis.FileMode
	isTree     bool
	childModes igis.CID
	skip       bool
}

// pushEntry translates one tree entry (spec §4.3's per-entry branches).
func (c *Codec) pushEntry(ctx context.Context, e igis.TreeEntry) (entryResult, error) {
	switch e.Mode {
	case igis.ModeDir:
		fsCID, err := c.dirPush.Resolve(ctx, e.OID)
		if err != nil {
			return entryResult{}, err
		}
		v, found, err := c.Cache.Get(ctx, cache.ModesKey(e.OID))
		if err != nil {
			return entryResult{}, err
		}
		if !found {
			return entryResult{}, errcat.Errorf(igis.ErrMalformedNode, "modes cache entry missing for tree %s after push", e.OID)
		}
		return entryResult{name: e.Name, cid: fsCID, isTree: true, childModes: igis.CID(v)}, nil

	case igis.ModeFile, igis.ModeExecutable, igis.ModeSymlink:
		cid, err := c.blobPush.Resolve(ctx, e.OID)
		if err != nil {
			return entryResult{}, err
		}
		return entryResult{name: e.Name, cid: cid, mode: e.Mode}, nil

	default:
		// UnrepresentableEntry (spec §7): submodule gitlinks and anything
		// else not a blob or tree. Warn and omit from both artifacts.
		c.Log.Warn().Str("name", e.Name).Str("oid", string(e.OID)).Int("mode", int(e.Mode)).
			Msg("tree entry is not representable on ipfs, skipping")
		return entryResult{skip: true}, nil
	}
}

// pushSubtree is the push function behind dirPush: cache-check, recurse
// on miss, write both cache entries (spec §4.3 "Entry is a tree").
func (c *Codec) pushSubtree(ctx context.Context, oid igis.OID) (igis.CID, error) {
	if v, found, err := c.Cache.Get(ctx, cache.OIDKey(oid)); err != nil {
		return "", err
	} else if found {
		return igis.CID(v), nil
	}
	fsCID, modesCID, err := c.PushTree(ctx, oid)
	if err != nil {
		return "", err
	}
	if err := c.Cache.Put(ctx, cache.OIDKey(oid), []byte(fsCID)); err != nil {
		return "", err
	}
	if err := c.Cache.Put(ctx, cache.ModesKey(oid), []byte(modesCID)); err != nil {
		return "", err
	}
	if err := c.Cache.Put(ctx, cache.CIDKey(fsCID), []byte(oid)); err != nil {
		return "", err
	}
	return fsCID, nil
}

// pushBlob is the push function behind blobPush (spec §4.3 "Entry is a
// blob"): cache-check, stream into UnixFS on miss, cache the result.
func (c *Codec) pushBlob(ctx context.Context, oid igis.OID) (igis.CID, error) {
	if v, found, err := c.Cache.Get(ctx, cache.OIDKey(oid)); err != nil {
		return "", err
	} else if found {
		return igis.CID(v), nil
	}
	rc, err := c.Git.ReadBlob(ctx, oid)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	cid, err := c.IPFS.Add(ctx, rc, true)
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

// FetchTree reads the UnixFS listing at fsCID and the mode mapping at
// modesCID and reconstructs a Git tree object in the local ODB, per spec
// §4.4's algorithm. Returns the new tree's OID.
func (c *Codec) FetchTree(ctx context.Context, fsCID, modesCID igis.CID) (igis.OID, error) {
	listing, err := c.IPFS.Ls(ctx, fsCID)
	if err != nil {
		return "", err
	}
	var modes igis.ModesNode
	if err := c.IPFS.DagGet(ctx, modesCID, &modes); err != nil {
		return "", err
	}

	entries := make([]igis.TreeEntry, len(listing))
	errs := make([]error, len(listing))
	var wg sync.WaitGroup
	wg.Add(len(listing))
	for i, de := range listing {
		go func(i int, de igis.DirEntry) {
			defer wg.Done()
			me, ok := modes[de.Name]
			if !ok {
				errs[i] = errcat.Errorf(igis.ErrMalformedNode, "modes node missing entry for %q", de.Name)
				return
			}
			if de.Dir {
				oid, err := c.fetchDir(ctx, de.CID, me.Child)
				if err != nil {
					errs[i] = err
					return
				}
				entries[i] = igis.TreeEntry{Name: de.Name, Mode: igis.ModeDir, OID: oid}
			} else {
				oid, err := c.fetchBlob(ctx, de.CID)
				if err != nil {
					errs[i] = err
					return
				}
				entries[i] = igis.TreeEntry{Name: de.Name, Mode: me.Mode, OID: oid}
			}
		}(i, de)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return "", err
		}
	}
	return c.Git.WriteTree(ctx, entries)
}

// fetchDir coalesces concurrent fetches of the same directory CID and
// handles the ODBMissing edge case: a cached OID that git-gc has since
// collected is re-materialized rather than trusted blindly (spec §4.4
// "Edge").
func (c *Codec) fetchDir(ctx context.Context, fsCID, modesCID igis.CID) (igis.OID, error) {
	if oid, ok, err := c.cachedAndPresent(ctx, fsCID); err != nil {
		return "", err
	} else if ok {
		return oid, nil
	}
	v, err, _ := c.fetchDirGroup.Do(string(fsCID), func() (interface{}, error) {
		if oid, ok, err := c.cachedAndPresent(ctx, fsCID); err != nil {
			return nil, err
		} else if ok {
			return oid, nil
		}
		return c.FetchTree(ctx, fsCID, modesCID)
	})
	if err != nil {
		return "", err
	}
	oid := v.(igis.OID)
	if err := c.Cache.Put(ctx, cache.CIDKey(fsCID), []byte(oid)); err != nil {
		return "", err
	}
	if err := c.Cache.Put(ctx, cache.OIDKey(oid), []byte(fsCID)); err != nil {
		return "", err
	}
	return oid, nil
}

// fetchBlob is fetchDir's counterpart for file entries (spec §4.4 "Else
// (file)").
func (c *Codec) fetchBlob(ctx context.Context, cid igis.CID) (igis.OID, error) {
	if oid, ok, err := c.cachedAndPresent(ctx, cid); err != nil {
		return "", err
	} else if ok {
		return oid, nil
	}
	v, err, _ := c.fetchBlobGroup.Do(string(cid), func() (interface{}, error) {
		if oid, ok, err := c.cachedAndPresent(ctx, cid); err != nil {
			return nil, err
		} else if ok {
			return oid, nil
		}
		rc, err := c.IPFS.Cat(ctx, cid)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return c.Git.WriteBlob(ctx, rc)
	})
	if err != nil {
		return "", err
	}
	oid := v.(igis.OID)
	if err := c.Cache.Put(ctx, cache.CIDKey(cid), []byte(oid)); err != nil {
		return "", err
	}
	if err := c.Cache.Put(ctx, cache.OIDKey(oid), []byte(cid)); err != nil {
		return "", err
	}
	return oid, nil
}

// cachedAndPresent reports a cached OID for cid only if that object is
// still resident in the local ODB (spec §4.4 "The check is existsPrefix").
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
