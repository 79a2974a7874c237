package refpack

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/rs/zerolog"

	"github.com/ipfs-shipyard/git-remote-igis"
	"github.com/ipfs-shipyard/git-remote-igis/commit"
	"github.com/ipfs-shipyard/git-remote-igis/testutil"
	"github.com/ipfs-shipyard/git-remote-igis/tree"
)

func sig(name string) igis.Signature {
	return igis.Signature{Name: name, Email: name + "@example.com", Time: 1000, Offset: 0}
}

func newCommit(t *testing.T, git *testutil.FakeGitRepo, content string) igis.OID {
	blobOID := git.PutBlob([]byte(content))
	treeOID := git.PutTree([]igis.TreeEntry{{Name: "a", Mode: igis.ModeFile, OID: blobOID}})
	return git.PutCommit(&igis.LocalCommit{Tree: treeOID, AuthorSig: sig("A"), CommitterSig: sig("C"), Message: content})
}

func TestFreshPushMintsUUIDAndPicksHEAD(t *testing.T) {
	Convey("Given a fresh push of a single branch", t, func() {
		git := testutil.NewFakeGitRepo()
		ipfs := testutil.NewFakeIPFS()
		c := testutil.NewFakeCache()
		tr := tree.New(git, ipfs, c, zerolog.Nop())
		cm := commit.New(git, ipfs, c, tr, zerolog.Nop())
		ctx := context.Background()

		commitOID := newCommit(t, git, "root\n")
		commitCID, err := cm.PushCommit(ctx, commitOID)
		So(err, ShouldBeNil)

		rootCID, vfs, err := Build(ctx, ipfs, nil, "myrepo", []PushResult{
			{DstRef: "refs/heads/master", CID: commitCID},
		})
		So(err, ShouldBeNil)
		So(rootCID, ShouldNotBeEmpty)
		So(vfs.Name, ShouldEqual, "myrepo")
		So(vfs.HEAD, ShouldEqual, "refs/heads/master")
		So(vfs.UUID, ShouldNotBeEmpty)
		So(vfs.Refs["heads"].Entries["master"].Leaf, ShouldEqual, commitCID)

		Convey("the .git link is attached to the commit's working tree", func() {
			listing, err := ipfs.Ls(ctx, rootCID)
			So(err, ShouldBeNil)
			var sawGit, sawA bool
			for _, e := range listing {
				if e.Name == ".git" {
					sawGit = true
				}
				if e.Name == "a" {
					sawA = true
				}
			}
			So(sawGit, ShouldBeTrue)
			So(sawA, ShouldBeTrue)
		})
	})
}

func TestContinuationPushPreservesUUIDAndOtherRefs(t *testing.T) {
	Convey("Given a remote already carrying a master branch and a uuid", t, func() {
		git := testutil.NewFakeGitRepo()
		ipfs := testutil.NewFakeIPFS()
		c := testutil.NewFakeCache()
		tr := tree.New(git, ipfs, c, zerolog.Nop())
		cm := commit.New(git, ipfs, c, tr, zerolog.Nop())
		ctx := context.Background()

		masterOID := newCommit(t, git, "master\n")
		masterCID, err := cm.PushCommit(ctx, masterOID)
		So(err, ShouldBeNil)

		root1, vfs1, err := Build(ctx, ipfs, nil, "myrepo", []PushResult{
			{DstRef: "refs/heads/master", CID: masterCID},
		})
		So(err, ShouldBeNil)

		Convey("pushing a new branch dev preserves uuid and master's entry", func() {
			preloaded, err := Preload(ctx, ipfs, root1)
			So(err, ShouldBeNil)
			So(preloaded.UUID, ShouldEqual, vfs1.UUID)

			devOID := newCommit(t, git, "dev\n")
			devCID, err := cm.PushCommit(ctx, devOID)
			So(err, ShouldBeNil)

			root2, vfs2, err := Build(ctx, ipfs, preloaded, "", []PushResult{
				{DstRef: "refs/heads/dev", CID: devCID},
			})
			So(err, ShouldBeNil)
			So(root2, ShouldNotEqual, root1)
			So(vfs2.UUID, ShouldEqual, vfs1.UUID)
			So(vfs2.Name, ShouldEqual, "myrepo")
			So(vfs2.Refs["heads"].Entries["master"].Leaf, ShouldEqual, masterCID)
			So(vfs2.Refs["heads"].Entries["dev"].Leaf, ShouldEqual, devCID)
		})
	})
}

func TestTagResultDereferencesCommitForWorkingTree(t *testing.T) {
	Convey("Given a push batch whose first result is an annotated tag", t, func() {
		git := testutil.NewFakeGitRepo()
		ipfs := testutil.NewFakeIPFS()
		c := testutil.NewFakeCache()
		tr := tree.New(git, ipfs, c, zerolog.Nop())
		cm := commit.New(git, ipfs, c, tr, zerolog.Nop())
		ctx := context.Background()

		commitOID := newCommit(t, git, "tagged\n")
		commitCID, err := cm.PushCommit(ctx, commitOID)
		So(err, ShouldBeNil)

		tagNode := &igis.TagNode{
			OID: igis.OID("2222222222222222222222222222222222222222"),
			Name: "v1", Type: igis.TagAnnotated, Commit: commitCID,
			TaggerSig: sig("T"), Message: "release\n",
		}
		tagCID, err := ipfs.DagPut(ctx, tagNode)
		So(err, ShouldBeNil)

		rootCID, vfs, err := Build(ctx, ipfs, nil, "myrepo", []PushResult{
			{DstRef: "refs/tags/v1", CID: tagCID, IsTag: true},
		})
		So(err, ShouldBeNil)
		So(vfs.Refs["tags"].Entries["v1"].Leaf, ShouldEqual, tagCID)

		listing, err := ipfs.Ls(ctx, rootCID)
		So(err, ShouldBeNil)
		var sawA bool
		for _, e := range listing {
			if e.Name == "a" {
				sawA = true
			}
		}
		So(sawA, ShouldBeTrue)
	})
}
