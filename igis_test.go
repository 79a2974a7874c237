package igis_test

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/rs/zerolog"

	"github.com/ipfs-shipyard/git-remote-igis"
	"github.com/ipfs-shipyard/git-remote-igis/commit"
	"github.com/ipfs-shipyard/git-remote-igis/refpack"
	"github.com/ipfs-shipyard/git-remote-igis/testutil"
	"github.com/ipfs-shipyard/git-remote-igis/tree"
)

func sig(name string) igis.Signature {
	return igis.Signature{Name: name, Email: name + "@example.com", Time: 1000, Offset: 0}
}

func newCommitCodec() (*commit.Codec, *testutil.FakeGitRepo, *testutil.FakeIPFS) {
	git := testutil.NewFakeGitRepo()
	ipfs := testutil.NewFakeIPFS()
	c := testutil.NewFakeCache()
	t := tree.New(git, ipfs, c, zerolog.Nop())
	return commit.New(git, ipfs, c, t, zerolog.Nop()), git, ipfs
}

func pushFuncOf(cd *commit.Codec) igis.PushFunc {
	return func(ctx context.Context, oid igis.OID, m *igis.Monitor) (igis.CID, error) {
		return cd.PushCommit(ctx, oid)
	}
}

func fetchFuncOf(cd *commit.Codec) igis.FetchFunc {
	return func(ctx context.Context, cid igis.CID, m *igis.Monitor) (igis.OID, error) {
		return cd.FetchCommit(ctx, cid)
	}
}

func buildRootOf(ipfs igis.IPFS) func(context.Context, []igis.PushedRef) (igis.CID, error) {
	return func(ctx context.Context, oks []igis.PushedRef) (igis.CID, error) {
		prs := make([]refpack.PushResult, len(oks))
		for i, ok := range oks {
			prs[i] = refpack.PushResult{DstRef: ok.Dst, CID: ok.CID, IsTag: ok.IsTag}
		}
		cid, _, err := refpack.Build(ctx, ipfs, nil, "myrepo", prs)
		return cid, err
	}
}

func TestDoPushPushesEveryRefAndBuildsARoot(t *testing.T) {
	Convey("Given a repo with two branches", t, func() {
		cd, git, ipfs := newCommitCodec()
		ctx := context.Background()

		blobOID := git.PutBlob([]byte("hi\n"))
		treeOID := git.PutTree([]igis.TreeEntry{{Name: "a", Mode: igis.ModeFile, OID: blobOID}})
		masterOID := git.PutCommit(&igis.LocalCommit{Tree: treeOID, AuthorSig: sig("A"), CommitterSig: sig("C"), Message: "m\n"})
		devOID := git.PutCommit(&igis.LocalCommit{Tree: treeOID, AuthorSig: sig("A"), CommitterSig: sig("C"), Message: "d\n"})
		So(git.CreateBranch(ctx, "master", masterOID), ShouldBeNil)
		So(git.CreateBranch(ctx, "dev", devOID), ShouldBeNil)

		rootCID, results, err := igis.DoPush(ctx, git, []igis.RefPair{
			{Src: "refs/heads/master", Dst: "refs/heads/master"},
			{Src: "refs/heads/dev", Dst: "refs/heads/dev"},
		}, pushFuncOf(cd), nil, buildRootOf(ipfs), nil)

		Convey("both refs succeed and a root CID comes back", func() {
			So(err, ShouldBeNil)
			So(rootCID, ShouldNotBeEmpty)
			So(len(results), ShouldEqual, 2)
			for _, r := range results {
				So(r.Err, ShouldBeNil)
			}
		})
	})
}

func TestDoPushSurvivesOneFailingRef(t *testing.T) {
	Convey("Given one ref that cannot be resolved and one that can", t, func() {
		cd, git, ipfs := newCommitCodec()
		ctx := context.Background()

		blobOID := git.PutBlob([]byte("hi\n"))
		treeOID := git.PutTree([]igis.TreeEntry{{Name: "a", Mode: igis.ModeFile, OID: blobOID}})
		masterOID := git.PutCommit(&igis.LocalCommit{Tree: treeOID, AuthorSig: sig("A"), CommitterSig: sig("C"), Message: "m\n"})
		So(git.CreateBranch(ctx, "master", masterOID), ShouldBeNil)

		rootCID, results, err := igis.DoPush(ctx, git, []igis.RefPair{
			{Src: "refs/heads/nonexistent", Dst: "refs/heads/nonexistent"},
			{Src: "refs/heads/master", Dst: "refs/heads/master"},
		}, pushFuncOf(cd), nil, buildRootOf(ipfs), nil)

		Convey("the good ref still lands in the root; the bad one reports its own error", func() {
			So(err, ShouldBeNil)
			So(rootCID, ShouldNotBeEmpty)
			var sawErr, sawOK bool
			for _, r := range results {
				if r.Dst == "refs/heads/nonexistent" {
					sawErr = r.Err != nil
				}
				if r.Dst == "refs/heads/master" {
					sawOK = r.Err == nil
				}
			}
			So(sawErr, ShouldBeTrue)
			So(sawOK, ShouldBeTrue)
		})
	})
}

func TestDoFetchCreatesLocalBranchAndSetsHEAD(t *testing.T) {
	Convey("Given a pushed branch fetched into a fresh repo", t, func() {
		cd, git, ipfs := newCommitCodec()
		ctx := context.Background()

		blobOID := git.PutBlob([]byte("hi\n"))
		treeOID := git.PutTree([]igis.TreeEntry{{Name: "a", Mode: igis.ModeFile, OID: blobOID}})
		commitOID := git.PutCommit(&igis.LocalCommit{Tree: treeOID, AuthorSig: sig("A"), CommitterSig: sig("C"), Message: "m\n"})
		So(git.CreateBranch(ctx, "master", commitOID), ShouldBeNil)

		_, _, err := igis.DoPush(ctx, git, []igis.RefPair{
			{Src: "refs/heads/master", Dst: "refs/heads/master"},
		}, pushFuncOf(cd), nil, buildRootOf(ipfs), nil)
		So(err, ShouldBeNil)

		git.Forget(commitOID)

		err = igis.DoFetch(ctx, git, []igis.FetchRequest{
			{FetchRef: igis.FetchRef{CID: mustCID(cd, ctx, commitOID), Ref: "refs/heads/master"}},
		}, fetchFuncOf(cd), fetchFuncOf(cd), "refs/heads/master", nil)
		So(err, ShouldBeNil)

		Convey("the local branch and HEAD both point at the reconstructed commit", func() {
			oid, ok := git.Ref("refs/heads/master")
			So(ok, ShouldBeTrue)
			So(oid, ShouldEqual, commitOID)
			So(git.HEAD(), ShouldEqual, "refs/heads/master")
		})
	})
}

// mustCID re-derives the CID a commit was already pushed to, via the
// same coalescing resolver the push path used (a warm-cache hit).
func mustCID(cd *commit.Codec, ctx context.Context, oid igis.OID) igis.CID {
	cid, err := cd.PushCommit(ctx, oid)
	if err != nil {
		panic(err)
	}
	return cid
}
