/*
	Package ipfsnode is the IPFS collaborator adapter (spec §1, §6): it
	narrows `github.com/ipfs/go-ipfs-api`'s `*shell.Shell` down to exactly
	the seven operations spec §5 lists as suspension points (dag.get,
	dag.put, ls, cat, add, object.patch.addLink, pin.add), implementing
	`igis.IPFS`.

	Grounded on `warehouse/impl/kvhttp/kvhttp.go`: the teacher's thinnest
	warehouse implementation, which also wraps a single HTTP-based
	collaborator behind a narrow interface and turns non-2xx responses
	into category-tagged errors.
*/
package ipfsnode

import (
	"bytes"
	"context"
	"io"

	. "github.com/warpfork/go-errcat"
	shell "github.com/ipfs/go-ipfs-api"

	"github.com/ipfs-shipyard/git-remote-igis"
	"github.com/ipfs-shipyard/git-remote-igis/dagcodec"
)

var _ igis.IPFS = (*Client)(nil)

// Client talks to one IPFS node over its HTTP API.
type Client struct {
	sh *shell.Shell
}

// New wraps an IPFS node reachable at apiAddr (a multiaddr or "host:port"
// string, per go-ipfs-api's NewShell).
func New(apiAddr string) *Client {
	return &Client{sh: shell.NewShell(apiAddr)}
}

func (c *Client) DagPut(ctx context.Context, node interface{}) (igis.CID, error) {
	data, err := dagcodec.MarshalAny(node)
	if err != nil {
		return "", err
	}
	resp, err := c.sh.Request("dag/put").
		Option("store-codec", "dag-cbor").
		Option("input-codec", "dag-cbor").
		Option("pin", "true").
		Body(bytes.NewReader(data)).
		Send(ctx)
	if err != nil {
		return "", Errorf(igis.ErrIPFSUnavailable, "dag.put failed: %s", err)
	}
	defer resp.Close()
	if resp.Error != nil {
		return "", Errorf(igis.ErrIPFSUnavailable, "dag.put failed: %s", resp.Error)
	}
	var out struct {
		Cid struct {
			Slash string `json:"/"`
		} `json:"Cid"`
	}
	if err := resp.Decode(&out); err != nil {
		return "", Errorf(igis.ErrIPFSUnavailable, "dag.put: malformed response: %s", err)
	}
	return igis.CID(out.Cid.Slash), nil
}

func (c *Client) DagGet(ctx context.Context, cid igis.CID, out interface{}) error {
	resp, err := c.sh.Request("dag/get", string(cid)).
		Option("output-codec", "dag-cbor").
		Send(ctx)
	if err != nil {
		return Errorf(igis.ErrIPFSUnavailable, "dag.get %s failed: %s", cid, err)
	}
	defer resp.Close()
	if resp.Error != nil {
		return Errorf(igis.ErrIPFSUnavailable, "dag.get %s failed: %s", cid, resp.Error)
	}
	data, err := io.ReadAll(resp.Output)
	if err != nil {
		return Errorf(igis.ErrIPFSUnavailable, "dag.get %s: read failed: %s", cid, err)
	}
	return dagcodec.UnmarshalInto(data, out)
}

func (c *Client) Ls(ctx context.Context, cid igis.CID) ([]igis.DirEntry, error) {
	links, err := c.sh.List(string(cid))
	if err != nil {
		return nil, Errorf(igis.ErrIPFSUnavailable, "ls %s failed: %s", cid, err)
	}
	out := make([]igis.DirEntry, 0, len(links))
	for _, l := range links {
		out = append(out, igis.DirEntry{
			Name: l.Name,
			CID:  igis.CID(l.Hash),
			Dir:  l.Type == shell.TDirectory,
		})
	}
	return out, nil
}

func (c *Client) Cat(ctx context.Context, cid igis.CID) (io.ReadCloser, error) {
	rc, err := c.sh.Cat(string(cid))
	if err != nil {
		return nil, Errorf(igis.ErrIPFSUnavailable, "cat %s failed: %s", cid, err)
	}
	return rc, nil
}

func (c *Client) Add(ctx context.Context, r io.Reader, pin bool) (igis.CID, error) {
	hash, err := c.sh.Add(r, shell.Pin(pin))
	if err != nil {
		return "", Errorf(igis.ErrIPFSUnavailable, "add failed: %s", err)
	}
	return igis.CID(hash), nil
}

func (c *Client) PatchAddLink(ctx context.Context, base igis.CID, name string, target igis.CID, pin bool) (igis.CID, error) {
	newCid, err := c.sh.Patch(string(base), "add-link", name, string(target))
	if err != nil {
		return "", Errorf(igis.ErrIPFSUnavailable, "object.patch.addLink(%s, %s, %s) failed: %s", base, name, target, err)
	}
	if pin {
		if err := c.PinAdd(ctx, igis.CID(newCid)); err != nil {
			return "", err
		}
	}
	return igis.CID(newCid), nil
}

func (c *Client) PinAdd(ctx context.Context, cid igis.CID) error {
	if err := c.sh.Pin(string(cid)); err != nil {
		return Errorf(igis.ErrIPFSUnavailable, "pin.add %s failed: %s", cid, err)
	}
	return nil
}
