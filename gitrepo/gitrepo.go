/*
	Package gitrepo is the Git collaborator adapter (spec §1, §6): it wraps
	the local object database and ref store that `git-remote-igis` is
	invoked against, and implements `igis.GitRepo`.

	Grounded on `warehouse/impl/git/git.go`'s Controller: the same
	`storage/filesystem` + `go-billy.v4/osfs` pair to open an on-disk
	`.git` directory directly (skipping `git.PlainOpen`'s worktree
	discovery, which this tool doesn't need since Git invokes remote
	helpers with GIT_DIR already resolved), the same `StringToHash` /
	`mustBeFullHash` validation, and the same category-tagged error style.
	The read paths (ReadTree, ReadBlob, ReadCommit, ReadTag) follow
	`GetCommit`/`GetTree` almost verbatim; the write paths are new,
	grounded in the same `plumbing/object` and `storage.Storer` APIs the
	teacher already imports.
*/
package gitrepo

import (
	"context"
	"encoding/hex"
	"io"
	"time"

	. "github.com/warpfork/go-errcat"
	git "gopkg.in/src-d/go-git.v4"
	"gopkg.in/src-d/go-git.v4/plumbing"
	"gopkg.in/src-d/go-git.v4/plumbing/cache"
	"gopkg.in/src-d/go-git.v4/plumbing/filemode"
	"gopkg.in/src-d/go-git.v4/plumbing/object"
	"gopkg.in/src-d/go-git.v4/storage"
	"gopkg.in/src-d/go-git.v4/storage/filesystem"
	osfs "gopkg.in/src-d/go-billy.v4/osfs"

	"github.com/ipfs-shipyard/git-remote-igis"
)

var _ igis.GitRepo = (*Repo)(nil)

// Repo is the local Git object database and ref store at a single GIT_DIR.
type Repo struct {
	store storage.Storer
	repo  *git.Repository
}

// Open opens the repository rooted at gitDir (the value Git passes a
// remote helper as $GIT_DIR). gitDir must already exist; this tool never
// initializes one.
func Open(gitDir string) (*Repo, error) {
	store := filesystem.NewStorage(osfs.New(gitDir), cache.NewObjectLRUDefault())
	repo, err := git.Open(store, nil)
	if err != nil {
		return nil, Errorf(igis.ErrODBMissing, "gitrepo: could not open %q: %s", gitDir, err)
	}
	return &Repo{store: store, repo: repo}, nil
}

func stringToHash(oid igis.OID) (plumbing.Hash, error) {
	s := string(oid)
	if len(s) != 40 {
		return plumbing.Hash{}, Errorf(igis.ErrMalformedNode, "git object ids are 40 hex characters, got %q", s)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return plumbing.Hash{}, Errorf(igis.ErrMalformedNode, "git object id %q is not hex", s)
	}
	return plumbing.NewHash(s), nil
}

func wireMode(m filemode.FileMode) igis.FileMode {
	switch m {
	case filemode.Dir:
		return igis.ModeDir
	case filemode.Executable:
		return igis.ModeExecutable
	case filemode.Symlink:
		return igis.ModeSymlink
	case filemode.Submodule:
		return igis.ModeSubmodule
	default:
		return igis.ModeFile
	}
}

func gitMode(m igis.FileMode) filemode.FileMode {
	switch m {
	case igis.ModeDir:
		return filemode.Dir
	case igis.ModeExecutable:
		return filemode.Executable
	case igis.ModeSymlink:
		return filemode.Symlink
	case igis.ModeSubmodule:
		return filemode.Submodule
	default:
		return filemode.Regular
	}
}

func (r *Repo) ReadTree(ctx context.Context, oid igis.OID) ([]igis.TreeEntry, error) {
	hash, err := stringToHash(oid)
	if err != nil {
		return nil, err
	}
	tree, err := object.GetTree(r.store, hash)
	if err == plumbing.ErrObjectNotFound {
		return nil, Errorf(igis.ErrODBMissing, "tree %s not in local odb", oid)
	} else if err != nil {
		return nil, Errorf(igis.ErrODBMissing, "failed to read tree %s: %s", oid, err)
	}
	out := make([]igis.TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		out = append(out, igis.TreeEntry{
			Name: e.Name,
			Mode: wireMode(e.Mode),
			OID:  igis.OID(e.Hash.String()),
		})
	}
	return out, nil
}

func (r *Repo) WriteTree(ctx context.Context, entries []igis.TreeEntry) (igis.OID, error) {
	tree := object.Tree{Entries: make([]object.TreeEntry, 0, len(entries))}
	for _, e := range entries {
		hash, err := stringToHash(e.OID)
		if err != nil {
			return "", err
		}
		tree.Entries = append(tree.Entries, object.TreeEntry{
			Name: e.Name,
			Mode: gitMode(e.Mode),
			Hash: hash,
		})
	}
	obj := r.store.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return "", Errorf(igis.ErrMalformedNode, "failed to encode tree: %s", err)
	}
	hash, err := r.store.SetEncodedObject(obj)
	if err != nil {
		return "", Errorf(igis.ErrODBMissing, "failed to write tree: %s", err)
	}
	return igis.OID(hash.String()), nil
}

func (r *Repo) ReadBlob(ctx context.Context, oid igis.OID) (io.ReadCloser, error) {
	hash, err := stringToHash(oid)
	if err != nil {
		return nil, err
	}
	blob, err := object.GetBlob(r.store, hash)
	if err == plumbing.ErrObjectNotFound {
		return nil, Errorf(igis.ErrODBMissing, "blob %s not in local odb", oid)
	} else if err != nil {
		return nil, Errorf(igis.ErrODBMissing, "failed to read blob %s: %s", oid, err)
	}
	return blob.Reader()
}

func (r *Repo) WriteBlob(ctx context.Context, rd io.Reader) (igis.OID, error) {
	obj := r.store.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return "", Errorf(igis.ErrODBMissing, "failed to open blob writer: %s", err)
	}
	if _, err := io.Copy(w, rd); err != nil {
		w.Close()
		return "", Errorf(igis.ErrODBMissing, "failed to write blob content: %s", err)
	}
	if err := w.Close(); err != nil {
		return "", Errorf(igis.ErrODBMissing, "failed to close blob writer: %s", err)
	}
	hash, err := r.store.SetEncodedObject(obj)
	if err != nil {
		return "", Errorf(igis.ErrODBMissing, "failed to write blob: %s", err)
	}
	return igis.OID(hash.String()), nil
}

func toSig(s object.Signature) igis.Signature {
	_, offsetSec := s.When.Zone()
	return igis.Signature{
		Name:   s.Name,
		Email:  s.Email,
		Time:   s.When.Unix(),
		Offset: offsetSec / 60,
	}
}

func fromSig(s igis.Signature) object.Signature {
	loc := time.FixedZone("", s.Offset*60)
	return object.Signature{
		Name:  s.Name,
		Email: s.Email,
		When:  time.Unix(s.Time, 0).In(loc),
	}
}

func (r *Repo) ReadCommit(ctx context.Context, oid igis.OID) (*igis.LocalCommit, error) {
	hash, err := stringToHash(oid)
	if err != nil {
		return nil, err
	}
	c, err := object.GetCommit(r.store, hash)
	if err == plumbing.ErrObjectNotFound {
		return nil, Errorf(igis.ErrODBMissing, "commit %s not in local odb", oid)
	} else if err != nil {
		return nil, Errorf(igis.ErrODBMissing, "failed to read commit %s: %s", oid, err)
	}
	parents := make([]igis.OID, 0, len(c.ParentHashes))
	for _, h := range c.ParentHashes {
		parents = append(parents, igis.OID(h.String()))
	}
	return &igis.LocalCommit{
		OID:          oid,
		Tree:         igis.OID(c.TreeHash.String()),
		Parents:      parents,
		AuthorSig:    toSig(c.Author),
		CommitterSig: toSig(c.Committer),
		Encoding:     string(c.Encoding),
		Message:      c.Message,
		PGPSignature: c.PGPSignature,
	}, nil
}

func (r *Repo) WriteCommit(ctx context.Context, lc *igis.LocalCommit) (igis.OID, error) {
	treeHash, err := stringToHash(lc.Tree)
	if err != nil {
		return "", err
	}
	parents := make([]plumbing.Hash, 0, len(lc.Parents))
	for _, p := range lc.Parents {
		h, err := stringToHash(p)
		if err != nil {
			return "", err
		}
		parents = append(parents, h)
	}
	c := &object.Commit{
		Author:       fromSig(lc.AuthorSig),
		Committer:    fromSig(lc.CommitterSig),
		Message:      lc.Message,
		TreeHash:     treeHash,
		ParentHashes: parents,
		PGPSignature: lc.PGPSignature,
		Encoding:     object.MessageEncoding(lc.Encoding),
	}
	obj := r.store.NewEncodedObject()
	if err := c.Encode(obj); err != nil {
		return "", Errorf(igis.ErrMalformedNode, "failed to encode commit: %s", err)
	}
	hash, err := r.store.SetEncodedObject(obj)
	if err != nil {
		return "", Errorf(igis.ErrODBMissing, "failed to write commit: %s", err)
	}
	return igis.OID(hash.String()), nil
}

func (r *Repo) ReadTag(ctx context.Context, oid igis.OID) (*igis.LocalTag, error) {
	hash, err := stringToHash(oid)
	if err != nil {
		return nil, err
	}
	obj, err := r.store.EncodedObject(plumbing.AnyObject, hash)
	if err == plumbing.ErrObjectNotFound {
		return nil, Errorf(igis.ErrODBMissing, "object %s not in local odb", oid)
	} else if err != nil {
		return nil, Errorf(igis.ErrODBMissing, "failed to read object %s: %s", oid, err)
	}
	if obj.Type() != plumbing.TagObject {
		return nil, Errorf(igis.ErrTagNotATag, "%s is a %s, not a tag", oid, obj.Type())
	}
	t, err := object.DecodeTag(r.store, obj)
	if err != nil {
		return nil, Errorf(igis.ErrODBMissing, "failed to decode tag %s: %s", oid, err)
	}
	return &igis.LocalTag{
		OID:          oid,
		Name:         t.Name,
		Target:       igis.OID(t.Target.String()),
		TaggerSig:    toSig(t.Tagger),
		Message:      t.Message,
		PGPSignature: t.PGPSignature,
	}, nil
}

func (r *Repo) WriteTag(ctx context.Context, lt *igis.LocalTag) (igis.OID, error) {
	target, err := stringToHash(lt.Target)
	if err != nil {
		return "", err
	}
	targetObj, err := r.store.EncodedObject(plumbing.AnyObject, target)
	targetType := plumbing.CommitObject
	if err == nil {
		targetType = targetObj.Type()
	}
	t := &object.Tag{
		Name:       lt.Name,
		Tagger:     fromSig(lt.TaggerSig),
		Message:    lt.Message,
		TargetType: targetType,
		Target:     target,
		PGPSignature: lt.PGPSignature,
	}
	obj := r.store.NewEncodedObject()
	if err := t.Encode(obj); err != nil {
		return "", Errorf(igis.ErrMalformedNode, "failed to encode tag: %s", err)
	}
	hash, err := r.store.SetEncodedObject(obj)
	if err != nil {
		return "", Errorf(igis.ErrODBMissing, "failed to write tag: %s", err)
	}
	return igis.OID(hash.String()), nil
}

func (r *Repo) ExistsPrefix(ctx context.Context, oid igis.OID) (bool, error) {
	hash, err := stringToHash(oid)
	if err != nil {
		return false, err
	}
	_, err = r.store.EncodedObject(plumbing.AnyObject, hash)
	if err == plumbing.ErrObjectNotFound {
		return false, nil
	} else if err != nil {
		return false, Errorf(igis.ErrODBMissing, "failed to probe %s: %s", oid, err)
	}
	return true, nil
}

func (r *Repo) ResolveRef(ctx context.Context, ref string) (igis.OID, error) {
	name := plumbing.ReferenceName(ref)
	if ref == "HEAD" {
		name = plumbing.HEAD
	}
	reference, err := r.repo.Reference(name, true)
	if err == plumbing.ErrReferenceNotFound {
		return "", Errorf(igis.ErrODBMissing, "ref %s not found", ref)
	} else if err != nil {
		return "", Errorf(igis.ErrODBMissing, "failed to resolve ref %s: %s", ref, err)
	}
	return igis.OID(reference.Hash().String()), nil
}

func (r *Repo) CreateBranch(ctx context.Context, name string, oid igis.OID) error {
	hash, err := stringToHash(oid)
	if err != nil {
		return err
	}
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)
	if err := r.store.SetReference(ref); err != nil {
		return Errorf(igis.ErrODBMissing, "failed to set branch %s: %s", name, err)
	}
	return nil
}

func (r *Repo) CreateLightweightTag(ctx context.Context, name string, oid igis.OID) error {
	hash, err := stringToHash(oid)
	if err != nil {
		return err
	}
	ref := plumbing.NewHashReference(plumbing.NewTagReferenceName(name), hash)
	if err := r.store.SetReference(ref); err != nil {
		return Errorf(igis.ErrODBMissing, "failed to set tag %s: %s", name, err)
	}
	return nil
}

func (r *Repo) SetHEAD(ctx context.Context, ref string) error {
	symref := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.ReferenceName(ref))
	if err := r.store.SetReference(symref); err != nil {
		return Errorf(igis.ErrODBMissing, "failed to set HEAD to %s: %s", ref, err)
	}
	return nil
}
