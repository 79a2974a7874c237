package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ipfs-shipyard/git-remote-igis"
	"github.com/ipfs-shipyard/git-remote-igis/cache"
	"github.com/ipfs-shipyard/git-remote-igis/commit"
	"github.com/ipfs-shipyard/git-remote-igis/config"
	"github.com/ipfs-shipyard/git-remote-igis/gitrepo"
	"github.com/ipfs-shipyard/git-remote-igis/ipfsnode"
	"github.com/ipfs-shipyard/git-remote-igis/refpack"
	"github.com/ipfs-shipyard/git-remote-igis/tag"
	"github.com/ipfs-shipyard/git-remote-igis/tree"
)

// runRemoteHelper builds the collaborators and speaks the remote-helper
// stdio protocol until stdin closes (spec §6).
func runRemoteHelper(remoteName, url string, gitDir string, log zerolog.Logger, stdin io.Reader, stdout, stderr io.Writer) int {
	cacheDir, err := config.GetCacheDir(gitDir)
	if err != nil {
		log.Error().Err(err).Msg("resolve cache directory")
		return 1
	}
	store, err := cache.Open(cacheDir)
	if err != nil {
		log.Error().Err(err).Msg("open cache")
		return 1
	}
	defer store.Close()

	repo, err := gitrepo.Open(gitDir)
	if err != nil {
		log.Error().Err(err).Msg("open git repository")
		return 1
	}

	ipfs := ipfsnode.New(config.GetIPFSAPI())
	treeCodec := tree.New(repo, ipfs, store, log)
	commitCodec := commit.New(repo, ipfs, store, treeCodec, log)
	tagCodec := tag.New(repo, ipfs, store, commitCodec, log)

	d := &driver{
		ctx:    context.Background(),
		git:    repo,
		ipfs:   ipfs,
		cache:  store,
		commit: commitCodec,
		tag:    tagCodec,
		log:    log,
		out:    bufio.NewWriter(stdout),
	}
	if strings.HasPrefix(url, "ipfs://") {
		d.name = strings.TrimPrefix(url, "ipfs://")
	} else {
		d.rootCID = igis.CID(url)
	}

	if err := d.run(stdin); err != nil {
		log.Error().Err(err).Msg("remote-helper loop")
		return 1
	}
	return 0
}

// driver holds one remote-helper invocation's state across the stdio
// protocol loop: the collaborators, the URL it was invoked with, and the
// VFS root it lazily loads (spec §6 "Remote URL forms").
type driver struct {
	ctx    context.Context
	git    igis.GitRepo
	ipfs   igis.IPFS
	cache  igis.Cache
	commit *commit.Codec
	tag    *tag.Codec
	log    zerolog.Logger
	out    *bufio.Writer

	name    string   // repo name, set only for a fresh "ipfs://<name>" URL
	rootCID igis.CID // set only for a continuation URL (a bare CID)
	vfs     *igis.VFSRoot
	loaded  bool
}

// loadVFS returns the remote's current VFS root, preloading it from
// rootCID on first use (spec §4.7 "Continuation push"). A fresh
// "ipfs://<name>" remote has none yet; loadVFS returns nil in that case.
func (d *driver) loadVFS() (*igis.VFSRoot, error) {
	if d.loaded {
		return d.vfs, nil
	}
	d.loaded = true
	if d.rootCID == "" {
		return nil, nil
	}
	vfs, err := refpack.Preload(d.ctx, d.ipfs, d.rootCID)
	if err != nil {
		return nil, err
	}
	d.vfs = vfs
	return vfs, nil
}

func (d *driver) run(stdin io.Reader) error {
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var pushBatch []igis.RefPair
	var fetchBatch []igis.FetchRequest

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "capabilities":
			fmt.Fprintln(d.out, "fetch")
			fmt.Fprintln(d.out, "push")
			fmt.Fprintln(d.out, "option")
			fmt.Fprintln(d.out)

		case line == "list" || line == "list for-push":
			d.handleList()

		case strings.HasPrefix(line, "option "):
			opt := strings.TrimPrefix(line, "option ")
			if strings.HasPrefix(opt, "verbosity") || strings.HasPrefix(opt, "progress") {
				fmt.Fprintln(d.out, "ok")
			} else {
				fmt.Fprintln(d.out, "unsupported")
			}

		case strings.HasPrefix(line, "push "):
			if rp, ok := parsePushLine(strings.TrimPrefix(line, "push ")); ok {
				pushBatch = append(pushBatch, rp)
			}

		case strings.HasPrefix(line, "fetch "):
			if fr, ok := parseFetchLine(strings.TrimPrefix(line, "fetch ")); ok {
				fetchBatch = append(fetchBatch, fr)
			}

		case line == "":
			switch {
			case len(pushBatch) > 0:
				d.handlePush(pushBatch)
				pushBatch = nil
				fmt.Fprintln(d.out)
			case len(fetchBatch) > 0:
				d.handleFetch(fetchBatch)
				fetchBatch = nil
				fmt.Fprintln(d.out)
			}

		default:
			d.log.Warn().Str("line", line).Msg("unrecognized remote-helper command")
		}
		d.out.Flush()
	}
	return scanner.Err()
}

// parsePushLine parses "[+]<src>:<dst>" (spec §6 `doPush`'s (src, dst)
// pairs). The force marker is dropped: every push is content-addressed
// and idempotent, so there is no fast-forward check to override.
func parsePushLine(spec string) (igis.RefPair, bool) {
	spec = strings.TrimPrefix(spec, "+")
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return igis.RefPair{}, false
	}
	return igis.RefPair{Src: parts[0], Dst: parts[1]}, true
}

// parseFetchLine parses "<cid> <ref>" (spec §6 `doFetch`'s (hash, ref)
// pairs).
func parseFetchLine(spec string) (igis.FetchRequest, bool) {
	parts := strings.SplitN(spec, " ", 2)
	if len(parts) != 2 {
		return igis.FetchRequest{}, false
	}
	ref := parts[1]
	return igis.FetchRequest{
		FetchRef: igis.FetchRef{CID: igis.CID(parts[0]), Ref: ref},
		IsTag:    strings.HasPrefix(ref, "refs/tags/"),
	}, true
}

func (d *driver) handleList() {
	vfs, err := d.loadVFS()
	if err != nil {
		d.log.Error().Err(err).Msg("list: load remote root")
		fmt.Fprintln(d.out)
		return
	}
	if vfs == nil {
		fmt.Fprintln(d.out)
		return
	}
	for _, line := range igis.SerializeRefs(vfs, func(cid igis.CID) (igis.OID, bool) {
		v, found, err := d.cache.Get(d.ctx, cache.CIDKey(cid))
		if err != nil || !found {
			return "", false
		}
		return igis.OID(v), true
	}) {
		fmt.Fprintln(d.out, line)
	}
	fmt.Fprintln(d.out)
}

func (d *driver) handlePush(refs []igis.RefPair) {
	base, err := d.loadVFS()
	if err != nil {
		d.log.Error().Err(err).Msg("push: load remote root")
		for _, rp := range refs {
			fmt.Fprintf(d.out, "error %s %s\n", rp.Dst, err)
		}
		return
	}

	rootCID, results, err := igis.DoPush(d.ctx, d.git, refs,
		func(ctx context.Context, oid igis.OID, m *igis.Monitor) (igis.CID, error) {
			return d.commit.PushCommit(ctx, oid)
		},
		func(ctx context.Context, oid igis.OID, name string, m *igis.Monitor) (igis.CID, error) {
			return d.tag.PushTag(ctx, oid, name)
		},
		func(ctx context.Context, oks []igis.PushedRef) (igis.CID, error) {
			prs := make([]refpack.PushResult, len(oks))
			for i, ok := range oks {
				prs[i] = refpack.PushResult{DstRef: ok.Dst, CID: ok.CID, IsTag: ok.IsTag}
			}
			newRoot, newVFS, err := refpack.Build(d.ctx, d.ipfs, base, d.name, prs)
			if err != nil {
				return "", err
			}
			d.vfs, d.rootCID, d.loaded = newVFS, newRoot, true
			return newRoot, nil
		},
		nil,
	)

	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(d.out, "error %s %s\n", r.Dst, r.Err)
			continue
		}
		fmt.Fprintf(d.out, "ok %s\n", r.Dst)
	}
	if err != nil {
		d.log.Error().Err(err).Msg("push: build remote root")
		return
	}
	if rootCID != "" {
		d.log.Info().Str("root", string(rootCID)).Msg("pushed")
	}
}

func (d *driver) handleFetch(reqs []igis.FetchRequest) {
	vfs, err := d.loadVFS()
	head := ""
	if err == nil && vfs != nil {
		head = vfs.HEAD
	}
	fetchCommit := func(ctx context.Context, cid igis.CID, m *igis.Monitor) (igis.OID, error) {
		return d.commit.FetchCommit(ctx, cid)
	}
	fetchTag := func(ctx context.Context, cid igis.CID, m *igis.Monitor) (igis.OID, error) {
		return d.tag.FetchTag(ctx, cid)
	}
	if err := igis.DoFetch(d.ctx, d.git, reqs, fetchCommit, fetchTag, head, nil); err != nil {
		d.log.Error().Err(err).Msg("fetch")
	}
}
