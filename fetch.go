package igis

import (
	"context"
	"strings"

	"github.com/ipfs-shipyard/git-remote-igis/batch"
)

// FetchRequest is one ref to materialize locally (spec §6 `doFetch`).
// IsTag selects which FetchFunc handles it and which local ref namespace
// it lands under.
type FetchRequest struct {
	FetchRef
	IsTag bool
}

// DoFetch is the `doFetch` entry point (spec §6): it fetches every
// requested ref concurrently (spec §5), creates or updates the matching
// local ref for each success, and repoints HEAD if head is non-empty.
// Per spec §7, a failed ref aborts only that ref, not the batch; DoFetch
// returns the first error encountered (if any) after every ref has been
// attempted.
func DoFetch(ctx context.Context, git GitRepo, reqs []FetchRequest, fetchCommit, fetchTag FetchFunc, head string, m *Monitor) error {
	raw := batch.Run(ctx, len(reqs), func(ctx context.Context, i int) (interface{}, error) {
		req := reqs[i]
		fn := fetchCommit
		if req.IsTag {
			fn = fetchTag
		}
		return fn(ctx, req.CID, m)
	})

	var firstErr error
	for i, r := range raw {
		req := reqs[r.Index]
		emitProgress(m, "fetch", req.Ref, i+1, len(raw))
		if r.Err != nil {
			emit(m, Event{Result: &EventResult{Ref: req.Ref, Error: r.Err}})
			if firstErr == nil {
				firstErr = r.Err
			}
			continue
		}
		oid := r.Value.(OID)

		// Local refs are content-addressed and move forward idempotently,
		// the same way a plain `git fetch` repoints a tracking branch --
		// an existing ref at this name is overwritten, not rejected.
		var werr error
		switch {
		case req.IsTag:
			werr = git.CreateLightweightTag(ctx, strings.TrimPrefix(req.Ref, "refs/tags/"), oid)
		default:
			werr = git.CreateBranch(ctx, strings.TrimPrefix(req.Ref, "refs/heads/"), oid)
		}
		if werr != nil {
			emit(m, Event{Result: &EventResult{Ref: req.Ref, Error: werr}})
			if firstErr == nil {
				firstErr = werr
			}
			continue
		}
		emit(m, Event{Result: &EventResult{Ref: req.Ref, CID: req.CID}})
	}

	if head != "" {
		if err := git.SetHEAD(ctx, head); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
