package igis

import (
	"context"
	"strings"

	"github.com/ipfs-shipyard/git-remote-igis/batch"
)

// TagPushFunc pushes an oid as the named tag ref and returns the CID it
// was translated to (spec §4.6). name has no Git-object source of its
// own for a lightweight tag, so it is threaded through explicitly rather
// than read back off the object, unlike PushFunc.
type TagPushFunc func(ctx context.Context, oid OID, name string, m *Monitor) (CID, error)

// PushedRef is one ref's outcome within a push batch: the destination
// ref, the CID its tip translated to, whether that ref lives under
// refs/tags/ (needed by the Ref Pack Builder to dereference .commit
// before picking a working-tree base), and Err if the push failed.
type PushedRef struct {
	Dst   string
	CID   CID
	IsTag bool
	Err   error
}

// DoPush is the `doPush` entry point (spec §6): it resolves and pushes
// every requested (src, dst) pair concurrently (spec §5), then folds the
// refs that succeeded into a new remote root via buildRoot (typically
// refpack.Build, adapted by the caller since this package cannot import
// refpack without a cycle). Per spec §7, a failed ref does not stop its
// siblings; buildRoot only sees the refs that succeeded.
func DoPush(
	ctx context.Context,
	git GitRepo,
	refs []RefPair,
	pushCommit PushFunc,
	pushTag TagPushFunc,
	buildRoot func(ctx context.Context, oks []PushedRef) (CID, error),
	m *Monitor,
) (CID, []PushedRef, error) {
	raw := batch.Run(ctx, len(refs), func(ctx context.Context, i int) (interface{}, error) {
		rp := refs[i]
		oid, err := git.ResolveRef(ctx, rp.Src)
		if err != nil {
			return PushedRef{Dst: rp.Dst, Err: err}, nil
		}
		isTag := strings.HasPrefix(rp.Dst, "refs/tags/")
		var cid CID
		if isTag {
			cid, err = pushTag(ctx, oid, strings.TrimPrefix(rp.Dst, "refs/tags/"), m)
		} else {
			cid, err = pushCommit(ctx, oid, m)
		}
		return PushedRef{Dst: rp.Dst, CID: cid, IsTag: isTag, Err: err}, nil
	})

	results := make([]PushedRef, len(raw))
	oks := make([]PushedRef, 0, len(raw))
	for i, r := range raw {
		pr := r.Value.(PushedRef)
		results[i] = pr
		emitProgress(m, "push", pr.Dst, i+1, len(raw))
		if pr.Err != nil {
			emit(m, Event{Result: &EventResult{Ref: pr.Dst, Error: pr.Err}})
			continue
		}
		emit(m, Event{Result: &EventResult{Ref: pr.Dst, CID: pr.CID}})
		oks = append(oks, pr)
	}
	if len(oks) == 0 {
		return "", results, nil
	}
	rootCID, err := buildRoot(ctx, oks)
	if err != nil {
		return "", results, err
	}
	return rootCID, results, nil
}
