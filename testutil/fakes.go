/*
	Package testutil holds in-memory fakes of the three external
	collaborators the core depends on (spec §1, §6): igis.Cache,
	igis.IPFS, igis.GitRepo. The tests of tree, commit, tag, refpack and
	the root igis package are driven against these instead of a real
	leveldb file, IPFS node, or git ODB.

	Replaces the teacher's own testutil package, which held assertion
	helpers (ShouldStat, etc.) for live on-disk filesystem fixtures --
	this tool never touches a live working tree directly (see DESIGN.md),
	so those helpers have no caller here.
*/
package testutil

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"io/ioutil"
	"sort"
	"sync"

	"github.com/warpfork/go-errcat"

	"github.com/ipfs-shipyard/git-remote-igis"
	"github.com/ipfs-shipyard/git-remote-igis/dagcodec"
)

// ---- FakeCache --------------------------------------------------------

// FakeCache is an in-memory igis.Cache with the same monotonicity
// guarantee as cache.Store (spec §4.1, §3 "Lifecycle"), used so codec
// tests don't need a real leveldb file on disk.
type FakeCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func NewFakeCache() *FakeCache {
	return &FakeCache{m: map[string][]byte{}}
}

func (c *FakeCache) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[string(key)]
	return v, ok, nil
}

func (c *FakeCache) Put(ctx context.Context, key, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.m[string(key)]; ok {
		if bytes.Equal(existing, value) {
			return nil
		}
		return fmt.Errorf("testutil: fake cache key %q written with a differing value", key)
	}
	c.m[string(key)] = append([]byte{}, value...)
	return nil
}

func (c *FakeCache) Drop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = map[string][]byte{}
	return nil
}

func (c *FakeCache) Iterate(ctx context.Context) (igis.CacheIterator, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.m))
	for k := range c.m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &fakeIterator{keys: keys, m: c.m}, nil
}

type fakeIterator struct {
	keys []string
	m    map[string][]byte
	i    int
}

func (it *fakeIterator) Next() bool {
	if it.i >= len(it.keys) {
		return false
	}
	it.i++
	return true
}
func (it *fakeIterator) Key() []byte   { return []byte(it.keys[it.i-1]) }
func (it *fakeIterator) Value() []byte { return it.m[it.keys[it.i-1]] }
func (it *fakeIterator) Close() error  { return nil }
func (it *fakeIterator) Err() error    { return nil }

// ---- FakeIPFS ----------------------------------------------------------

// FakeIPFS is an in-memory, content-addressed stand-in for an IPFS node,
// implementing exactly the seven operations igis.IPFS narrows the real
// client down to (spec §5). CIDs are synthesized by hashing content, so
// repeated Add/DagPut/PatchAddLink calls with identical content are
// idempotent the way the real node's content-addressing is.
type FakeIPFS struct {
	mu    sync.Mutex
	dags  map[igis.CID][]byte
	blobs map[igis.CID][]byte
	dirs  map[igis.CID]map[string]igis.DirEntry
}

func NewFakeIPFS() *FakeIPFS {
	return &FakeIPFS{
		dags:  map[igis.CID][]byte{},
		blobs: map[igis.CID][]byte{},
		dirs:  map[igis.CID]map[string]igis.DirEntry{igis.EmptyDirCID: {}},
	}
}

func fakeCID(prefix string, data []byte) igis.CID {
	sum := sha1.Sum(data)
	return igis.CID(prefix + hex.EncodeToString(sum[:]))
}

func (f *FakeIPFS) DagPut(ctx context.Context, node interface{}) (igis.CID, error) {
	data, err := dagcodec.MarshalAny(node)
	if err != nil {
		return "", err
	}
	cid := fakeCID("dagcbor:", data)
	f.mu.Lock()
	f.dags[cid] = data
	f.mu.Unlock()
	return cid, nil
}

func (f *FakeIPFS) DagGet(ctx context.Context, cid igis.CID, out interface{}) error {
	f.mu.Lock()
	data, ok := f.dags[cid]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("testutil: fake ipfs has no dag node %s", cid)
	}
	return dagcodec.UnmarshalInto(data, out)
}

func (f *FakeIPFS) Ls(ctx context.Context, cid igis.CID) ([]igis.DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir, ok := f.dirs[cid]
	if !ok {
		return nil, fmt.Errorf("testutil: fake ipfs has no directory %s", cid)
	}
	out := make([]igis.DirEntry, 0, len(dir))
	for _, e := range dir {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *FakeIPFS) Cat(ctx context.Context, cid igis.CID) (io.ReadCloser, error) {
	f.mu.Lock()
	data, ok := f.blobs[cid]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("testutil: fake ipfs has no blob %s", cid)
	}
	return ioutil.NopCloser(bytes.NewReader(data)), nil
}

func (f *FakeIPFS) Add(ctx context.Context, r io.Reader, pin bool) (igis.CID, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return "", err
	}
	cid := fakeCID("blob:", data)
	f.mu.Lock()
	f.blobs[cid] = data
	f.mu.Unlock()
	return cid, nil
}

func (f *FakeIPFS) PatchAddLink(ctx context.Context, base igis.CID, name string, target igis.CID, pin bool) (igis.CID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	baseDir, ok := f.dirs[base]
	if !ok {
		return "", fmt.Errorf("testutil: fake ipfs has no directory %s", base)
	}
	next := make(map[string]igis.DirEntry, len(baseDir)+1)
	for k, v := range baseDir {
		next[k] = v
	}
	_, isDir := f.dirs[target]
	next[name] = igis.DirEntry{Name: name, CID: target, Dir: isDir}

	names := make([]string, 0, len(next))
	for k := range next {
		names = append(names, k)
	}
	sort.Strings(names)
	var buf bytes.Buffer
	for _, n := range names {
		e := next[n]
		buf.WriteString(n)
		buf.WriteByte(0)
		buf.WriteString(string(e.CID))
		buf.WriteByte(0)
	}
	newCID := fakeCID("dir:", buf.Bytes())
	f.dirs[newCID] = next
	return newCID, nil
}

func (f *FakeIPFS) PinAdd(ctx context.Context, cid igis.CID) error { return nil }

// ---- FakeGitRepo --------------------------------------------------------

// FakeGitRepo is an in-memory, content-addressed stand-in for the local
// Git object database and ref store (spec §1), implementing igis.GitRepo.
type FakeGitRepo struct {
	mu      sync.Mutex
	trees   map[igis.OID][]igis.TreeEntry
	blobs   map[igis.OID][]byte
	commits map[igis.OID]*igis.LocalCommit
	tags    map[igis.OID]*igis.LocalTag
	refs    map[string]igis.OID
	head    string
}

func NewFakeGitRepo() *FakeGitRepo {
	return &FakeGitRepo{
		trees:   map[igis.OID][]igis.TreeEntry{},
		blobs:   map[igis.OID][]byte{},
		commits: map[igis.OID]*igis.LocalCommit{},
		tags:    map[igis.OID]*igis.LocalTag{},
		refs:    map[string]igis.OID{},
	}
}

func fakeOID(parts ...string) igis.OID {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return igis.OID(hex.EncodeToString(h.Sum(nil)))
}

// PutBlob seeds the fake ODB with a blob and returns its OID, for tests
// that need to set up a tree fixture without going through WriteBlob.
func (g *FakeGitRepo) PutBlob(data []byte) igis.OID {
	oid := fakeOID("blob", string(data))
	g.mu.Lock()
	g.blobs[oid] = append([]byte{}, data...)
	g.mu.Unlock()
	return oid
}

// PutTree seeds the fake ODB with a tree and returns its OID.
func (g *FakeGitRepo) PutTree(entries []igis.TreeEntry) igis.OID {
	oid := treeOID(entries)
	g.mu.Lock()
	g.trees[oid] = entries
	g.mu.Unlock()
	return oid
}

func treeOID(entries []igis.TreeEntry) igis.OID {
	parts := []string{"tree"}
	for _, e := range entries {
		parts = append(parts, e.Name, fmt.Sprint(e.Mode), string(e.OID))
	}
	return fakeOID(parts...)
}

func (g *FakeGitRepo) ReadTree(ctx context.Context, oid igis.OID) ([]igis.TreeEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entries, ok := g.trees[oid]
	if !ok {
		return nil, fmt.Errorf("testutil: fake git repo has no tree %s", oid)
	}
	return entries, nil
}

func (g *FakeGitRepo) WriteTree(ctx context.Context, entries []igis.TreeEntry) (igis.OID, error) {
	oid := treeOID(entries)
	g.mu.Lock()
	g.trees[oid] = entries
	g.mu.Unlock()
	return oid, nil
}

func (g *FakeGitRepo) ReadBlob(ctx context.Context, oid igis.OID) (io.ReadCloser, error) {
	g.mu.Lock()
	data, ok := g.blobs[oid]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("testutil: fake git repo has no blob %s", oid)
	}
	return ioutil.NopCloser(bytes.NewReader(data)), nil
}

func (g *FakeGitRepo) WriteBlob(ctx context.Context, r io.Reader) (igis.OID, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return "", err
	}
	oid := fakeOID("blob", string(data))
	g.mu.Lock()
	g.blobs[oid] = data
	g.mu.Unlock()
	return oid, nil
}

func commitOID(c *igis.LocalCommit) igis.OID {
	parts := []string{"commit", string(c.Tree)}
	for _, p := range c.Parents {
		parts = append(parts, string(p))
	}
	parts = append(parts,
		c.AuthorSig.Name, c.AuthorSig.Email, fmt.Sprint(c.AuthorSig.Time), fmt.Sprint(c.AuthorSig.Offset),
		c.CommitterSig.Name, c.CommitterSig.Email, fmt.Sprint(c.CommitterSig.Time), fmt.Sprint(c.CommitterSig.Offset),
		c.Encoding, c.Message, c.PGPSignature,
	)
	return fakeOID(parts...)
}

// PutCommit seeds the fake ODB with a commit and returns its OID.
func (g *FakeGitRepo) PutCommit(c *igis.LocalCommit) igis.OID {
	oid := commitOID(c)
	cc := *c
	cc.OID = oid
	g.mu.Lock()
	g.commits[oid] = &cc
	g.mu.Unlock()
	return oid
}

func (g *FakeGitRepo) ReadCommit(ctx context.Context, oid igis.OID) (*igis.LocalCommit, error) {
	g.mu.Lock()
	c, ok := g.commits[oid]
	g.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("testutil: fake git repo has no commit %s", oid)
	}
	cc := *c
	return &cc, nil
}

func (g *FakeGitRepo) WriteCommit(ctx context.Context, c *igis.LocalCommit) (igis.OID, error) {
	oid := commitOID(c)
	cc := *c
	cc.OID = oid
	g.mu.Lock()
	g.commits[oid] = &cc
	g.mu.Unlock()
	return oid, nil
}

func tagOID(t *igis.LocalTag) igis.OID {
	return fakeOID("tag", t.Name, string(t.Target), t.TaggerSig.Name, t.TaggerSig.Email,
		fmt.Sprint(t.TaggerSig.Time), fmt.Sprint(t.TaggerSig.Offset), t.Message, t.PGPSignature)
}

// PutTag seeds the fake ODB with an annotated tag object and returns its OID.
func (g *FakeGitRepo) PutTag(t *igis.LocalTag) igis.OID {
	oid := tagOID(t)
	tt := *t
	tt.OID = oid
	g.mu.Lock()
	g.tags[oid] = &tt
	g.mu.Unlock()
	return oid
}

// ReadTag returns an igis.ErrTagNotATag-categorized error (matching the
// real gitrepo package) when oid names a commit rather than an annotated
// tag object.
func (g *FakeGitRepo) ReadTag(ctx context.Context, oid igis.OID) (*igis.LocalTag, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.tags[oid]; ok {
		tt := *t
		return &tt, nil
	}
	if _, ok := g.commits[oid]; ok {
		return nil, errcat.Errorf(igis.ErrTagNotATag, "%s is not an annotated tag", oid)
	}
	return nil, fmt.Errorf("testutil: fake git repo has no object %s", oid)
}

func (g *FakeGitRepo) WriteTag(ctx context.Context, t *igis.LocalTag) (igis.OID, error) {
	oid := tagOID(t)
	tt := *t
	tt.OID = oid
	g.mu.Lock()
	g.tags[oid] = &tt
	g.mu.Unlock()
	return oid, nil
}

func (g *FakeGitRepo) ExistsPrefix(ctx context.Context, oid igis.OID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.trees[oid]; ok {
		return true, nil
	}
	if _, ok := g.blobs[oid]; ok {
		return true, nil
	}
	if _, ok := g.commits[oid]; ok {
		return true, nil
	}
	if _, ok := g.tags[oid]; ok {
		return true, nil
	}
	return false, nil
}

// Forget removes oid from every object map, simulating a `git gc` that
// collected an object the cache still remembers (spec §4.4 "Edge").
func (g *FakeGitRepo) Forget(oid igis.OID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.trees, oid)
	delete(g.blobs, oid)
	delete(g.commits, oid)
	delete(g.tags, oid)
}

func (g *FakeGitRepo) ResolveRef(ctx context.Context, ref string) (igis.OID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ref == "HEAD" {
		ref = g.head
	}
	oid, ok := g.refs[ref]
	if !ok {
		return "", fmt.Errorf("testutil: fake git repo has no ref %s", ref)
	}
	return oid, nil
}

func (g *FakeGitRepo) CreateBranch(ctx context.Context, name string, oid igis.OID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refs["refs/heads/"+name] = oid
	return nil
}

func (g *FakeGitRepo) CreateLightweightTag(ctx context.Context, name string, oid igis.OID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refs["refs/tags/"+name] = oid
	return nil
}

func (g *FakeGitRepo) SetHEAD(ctx context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.head = ref
	return nil
}

// Ref reads back a ref set via CreateBranch/CreateLightweightTag/SetHEAD,
// for test assertions.
func (g *FakeGitRepo) Ref(name string) (igis.OID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	oid, ok := g.refs[name]
	return oid, ok
}

func (g *FakeGitRepo) HEAD() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.head
}

var _ igis.Cache = (*FakeCache)(nil)
var _ igis.IPFS = (*FakeIPFS)(nil)
var _ igis.GitRepo = (*FakeGitRepo)(nil)
