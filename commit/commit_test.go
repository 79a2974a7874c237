package commit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/rs/zerolog"
	"github.com/warpfork/go-errcat"

	"github.com/ipfs-shipyard/git-remote-igis"
	"github.com/ipfs-shipyard/git-remote-igis/testutil"
	"github.com/ipfs-shipyard/git-remote-igis/tree"
)

func newCodec() (*Codec, *testutil.FakeGitRepo) {
	git := testutil.NewFakeGitRepo()
	ipfs := testutil.NewFakeIPFS()
	c := testutil.NewFakeCache()
	t := tree.New(git, ipfs, c, zerolog.Nop())
	return New(git, ipfs, c, t, zerolog.Nop()), git
}

func sig(name string) igis.Signature {
	return igis.Signature{Name: name, Email: name + "@example.com", Time: 1000, Offset: 0}
}

func TestPushFetchSingleCommit(t *testing.T) {
	Convey("Given a repo with one commit and one file", t, func() {
		cd, git := newCodec()
		ctx := context.Background()

		blobOID := git.PutBlob([]byte("hi\n"))
		treeOID := git.PutTree([]igis.TreeEntry{{Name: "README", Mode: igis.ModeFile, OID: blobOID}})
		commitOID := git.PutCommit(&igis.LocalCommit{
			Tree: treeOID, AuthorSig: sig("A"), CommitterSig: sig("C"),
			Encoding: "UTF-8", Message: "hello\n",
		})

		cid, err := cd.PushCommit(ctx, commitOID)
		So(err, ShouldBeNil)
		So(cid, ShouldNotBeEmpty)

		Convey("fetching it back yields the identical commit OID (P1)", func() {
			gotOID, err := cd.FetchCommit(ctx, cid)
			So(err, ShouldBeNil)
			So(gotOID, ShouldEqual, commitOID)
		})
	})
}

func TestMergeCommitCoalescesSharedAncestor(t *testing.T) {
	Convey("Given a merge commit whose two parents share a common ancestor", t, func() {
		cd, git := newCodec()
		ctx := context.Background()

		rootBlob := git.PutBlob([]byte("root\n"))
		rootTree := git.PutTree([]igis.TreeEntry{{Name: "a", Mode: igis.ModeFile, OID: rootBlob}})
		ancestorOID := git.PutCommit(&igis.LocalCommit{Tree: rootTree, AuthorSig: sig("A"), CommitterSig: sig("C"), Message: "base\n"})

		blob1 := git.PutBlob([]byte("p1\n"))
		tree1 := git.PutTree([]igis.TreeEntry{{Name: "a", Mode: igis.ModeFile, OID: blob1}})
		p1OID := git.PutCommit(&igis.LocalCommit{Tree: tree1, Parents: []igis.OID{ancestorOID}, AuthorSig: sig("A"), CommitterSig: sig("C"), Message: "p1\n"})

		blob2 := git.PutBlob([]byte("p2\n"))
		tree2 := git.PutTree([]igis.TreeEntry{{Name: "a", Mode: igis.ModeFile, OID: blob2}})
		p2OID := git.PutCommit(&igis.LocalCommit{Tree: tree2, Parents: []igis.OID{ancestorOID}, AuthorSig: sig("A"), CommitterSig: sig("C"), Message: "p2\n"})

		mergeTree := git.PutTree([]igis.TreeEntry{{Name: "a", Mode: igis.ModeFile, OID: blob2}})
		mergeOID := git.PutCommit(&igis.LocalCommit{
			Tree: mergeTree, Parents: []igis.OID{p1OID, p2OID},
			AuthorSig: sig("A"), CommitterSig: sig("C"), Message: "merge\n",
		})

		// Count commit reads: merge, p1, p2 and the shared ancestor are
		// each read from the ODB exactly once.
		var reads int32
		cd.Git = countingGitRepo{cd.Git, &reads}
		cid, err := cd.PushCommit(ctx, mergeOID)
		So(err, ShouldBeNil)
		So(atomic.LoadInt32(&reads), ShouldEqual, 4)

		Convey("fetching reconstructs two parents in original order", func() {
			var node igis.CommitNode
			So(cd.IPFS.DagGet(ctx, cid, &node), ShouldBeNil)
			So(len(node.Parents), ShouldEqual, 2)

			gotOID, err := cd.FetchCommit(ctx, cid)
			So(err, ShouldBeNil)
			So(gotOID, ShouldEqual, mergeOID)

			got, err := cd.Git.ReadCommit(ctx, gotOID)
			So(err, ShouldBeNil)
			So(len(got.Parents), ShouldEqual, 2)
			So(got.Parents[0], ShouldEqual, p1OID)
			So(got.Parents[1], ShouldEqual, p2OID)
		})
	})
}

func TestPushCoalescesConcurrentCallersOfSameOID(t *testing.T) {
	Convey("Given N concurrent PushCommit calls for the same OID", t, func(c C) {
		cd, git := newCodec()
		ctx := context.Background()

		blobOID := git.PutBlob([]byte("x\n"))
		treeOID := git.PutTree([]igis.TreeEntry{{Name: "x", Mode: igis.ModeFile, OID: blobOID}})
		commitOID := git.PutCommit(&igis.LocalCommit{Tree: treeOID, AuthorSig: sig("A"), CommitterSig: sig("C"), Message: "x\n"})

		const n = 10
		var wg sync.WaitGroup
		results := make([]igis.CID, n)
		wg.Add(n)
		for i := 0; i < n; i++ {
			go func(i int) {
				defer wg.Done()
				cid, err := cd.PushCommit(ctx, commitOID)
				c.So(err, ShouldBeNil)
				results[i] = cid
			}(i)
		}
		wg.Wait()

		Convey("every caller receives the same CID", func() {
			for _, cid := range results {
				So(cid, ShouldEqual, results[0])
			}
		})
	})
}

func TestSignatureMismatchIsFatal(t *testing.T) {
	Convey("Given a commit node whose recorded oid cannot match any reconstruction", t, func() {
		cd, git := newCodec()
		ctx := context.Background()

		blobOID := git.PutBlob([]byte("hi\n"))
		treeOID := git.PutTree([]igis.TreeEntry{{Name: "README", Mode: igis.ModeFile, OID: blobOID}})
		fsCID, modesCID, err := cd.Tree.PushTree(ctx, treeOID)
		So(err, ShouldBeNil)

		node := &igis.CommitNode{
			OID: igis.OID("0000000000000000000000000000000000000000"),
			AuthorSig: sig("A"), CommitterSig: sig("C"),
			Message: "hello\n", Tree: fsCID, Modes: modesCID,
		}
		cid, err := cd.IPFS.DagPut(ctx, node)
		So(err, ShouldBeNil)

		_, err = cd.FetchCommit(ctx, cid)
		So(err, ShouldNotBeNil)
		So(errcat.Category(err), ShouldEqual, igis.ErrSignatureMismatch)
	})
}

func TestPushIsIdempotentWithWarmCache(t *testing.T) {
	Convey("Pushing the same commit twice with a warm cache yields the same CID (P4)", t, func() {
		cd, git := newCodec()
		ctx := context.Background()

		blobOID := git.PutBlob([]byte("hi\n"))
		treeOID := git.PutTree([]igis.TreeEntry{{Name: "README", Mode: igis.ModeFile, OID: blobOID}})
		commitOID := git.PutCommit(&igis.LocalCommit{Tree: treeOID, AuthorSig: sig("A"), CommitterSig: sig("C"), Message: "hello\n"})

		cid1, err := cd.PushCommit(ctx, commitOID)
		So(err, ShouldBeNil)
		var calls int32
		origGit := cd.Git
		cd.Git = countingGitRepo{origGit, &calls}
		cid2, err := cd.PushCommit(ctx, commitOID)
		So(err, ShouldBeNil)
		So(cid2, ShouldEqual, cid1)
		So(atomic.LoadInt32(&calls), ShouldEqual, 0)
	})
}

// countingGitRepo wraps a GitRepo and counts ReadCommit calls, used to
// assert a warm-cache push never re-reads the commit from the ODB.
type countingGitRepo struct {
	igis.GitRepo
	calls *int32
}

func (g countingGitRepo) ReadCommit(ctx context.Context, oid igis.OID) (*igis.LocalCommit, error) {
	atomic.AddInt32(g.calls, 1)
	return g.GitRepo.ReadCommit(ctx, oid)
}
