/*
	Package dagcodec is the wire schema for every dag-cbor node this tool
	produces or consumes (spec §6): CommitNode, TagNode, ModesNode, and
	VFSRoot.

	Fixed-shape nodes (CommitNode, TagNode, Signature) are marshalled with a
	`refmt/obj/atlas`, the exact pattern the teacher uses in `api/rio/atlas.go`
	(one atlas entry per serializable struct, `.StructMap().Autogenerate()`).

	ModesNode and VFSRoot are not fixed shapes -- a ModesNode value is either
	an integer or a CID (spec §3, §6 "Modes CBOR-DAG"), and a VFSRoot's
	`refs` tree nests arbitrarily deep. Rather than fight refmt's
	one-entry-per-concrete-type atlas model for that, they're flattened into
	a generic `map[string]interface{}` tree first (ModesToWire / WireToModes,
	VFSToWire / WireToVFS) and handed to refmt's un-atlased, purely
	reflective encoder -- the same "manual token stepping for a
	variable-shape node" idea the teacher applies by hand in
	`transmat/mixins/fshash/bucketHash.go` for its own metadata encoding,
	just delegated to refmt's generic path instead of hand-stepped tokens.
*/
package dagcodec

import (
	"bytes"

	. "github.com/warpfork/go-errcat"
	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/cbor"
	"github.com/polydawn/refmt/obj/atlas"

	"github.com/ipfs-shipyard/git-remote-igis"
)

var wireAtlas = atlas.MustBuild(
	atlas.BuildEntry(igis.Signature{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(igis.CommitNode{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(igis.TagNode{}).StructMap().Autogenerate().Complete(),
)

// MarshalCommit renders a CommitNode as canonical dag-cbor bytes.
func MarshalCommit(n *igis.CommitNode) ([]byte, error) {
	return marshalAtlased(n)
}

// UnmarshalCommit parses dag-cbor bytes produced by MarshalCommit.
func UnmarshalCommit(data []byte) (*igis.CommitNode, error) {
	var n igis.CommitNode
	if err := unmarshalAtlased(data, &n); err != nil {
		return nil, err
	}
	if n.OID == "" || n.Tree == "" {
		return nil, Errorf(igis.ErrMalformedNode, "commit node missing oid or tree field")
	}
	return &n, nil
}

// MarshalTag renders a TagNode as canonical dag-cbor bytes.
func MarshalTag(n *igis.TagNode) ([]byte, error) {
	return marshalAtlased(n)
}

// UnmarshalTag parses dag-cbor bytes produced by MarshalTag.
func UnmarshalTag(data []byte) (*igis.TagNode, error) {
	var n igis.TagNode
	if err := unmarshalAtlased(data, &n); err != nil {
		return nil, err
	}
	if n.OID == "" || n.Name == "" || n.Commit == "" {
		return nil, Errorf(igis.ErrMalformedNode, "tag node missing oid, name, or commit field")
	}
	return &n, nil
}

func marshalAtlased(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	m := refmt.NewMarshallerAtlased(cbor.EncodeOptions{}, &buf, wireAtlas)
	if err := m.Marshal(v); err != nil {
		return nil, Errorf(igis.ErrMalformedNode, "cbor encode failed: %s", err)
	}
	return buf.Bytes(), nil
}

func unmarshalAtlased(data []byte, v interface{}) error {
	u := refmt.NewUnmarshallerAtlased(cbor.DecodeOptions{}, bytes.NewReader(data), wireAtlas)
	if err := u.Unmarshal(v); err != nil {
		return Errorf(igis.ErrMalformedNode, "cbor decode failed: %s", err)
	}
	return nil
}

// ModesToWire flattens a ModesNode into the generic map dag-cbor tree
// described in spec §6 "Modes CBOR-DAG": each entry's value is either an
// int64 (a leaf file mode) or a string (a child modesCID).
func ModesToWire(n igis.ModesNode) map[string]interface{} {
	out := make(map[string]interface{}, len(n))
	for name, entry := range n {
		if entry.IsTree {
			out[name] = string(entry.Child)
		} else {
			out[name] = int64(entry.Mode)
		}
	}
	return out
}

// WireToModes is the inverse of ModesToWire.
func WireToModes(w map[string]interface{}) (igis.ModesNode, error) {
	out := make(igis.ModesNode, len(w))
	for name, v := range w {
		switch x := v.(type) {
		case int64:
			out[name] = igis.ModeEntry{Mode: igis.FileMode(x)}
		case int:
			out[name] = igis.ModeEntry{Mode: igis.FileMode(x)}
		case string:
			out[name] = igis.ModeEntry{IsTree: true, Child: igis.CID(x)}
		default:
			return nil, Errorf(igis.ErrMalformedNode, "modes node entry %q has unexpected wire type %T", name, v)
		}
	}
	return out, nil
}

// MarshalModes renders a ModesNode as dag-cbor bytes.
func MarshalModes(n igis.ModesNode) ([]byte, error) {
	return marshalGeneric(ModesToWire(n))
}

// UnmarshalModes parses dag-cbor bytes produced by MarshalModes.
func UnmarshalModes(data []byte) (igis.ModesNode, error) {
	w, err := unmarshalGenericMap(data)
	if err != nil {
		return nil, err
	}
	return WireToModes(w)
}

// VFSToWire flattens a VFSRoot into the generic map tree of spec §6
// "Persisted state layout": `.name`, `.uuid`, `.HEAD`, and a nested
// `.refs` tree whose leaves are CID strings.
func VFSToWire(v *igis.VFSRoot) map[string]interface{} {
	out := map[string]interface{}{
		"uuid": v.UUID,
	}
	if v.Name != "" {
		out["name"] = v.Name
	}
	if v.HEAD != "" {
		out["HEAD"] = v.HEAD
	}
	out["refs"] = refTreeToWire(v.Refs)
	return out
}

func refTreeToWire(m map[string]igis.RefTree) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for name, t := range m {
		if t.IsLeaf {
			out[name] = string(t.Leaf)
		} else {
			out[name] = refTreeToWire(t.Entries)
		}
	}
	return out
}

// WireToVFS is the inverse of VFSToWire.
func WireToVFS(w map[string]interface{}) (*igis.VFSRoot, error) {
	v := &igis.VFSRoot{}
	if name, ok := w["name"]; ok {
		s, ok := name.(string)
		if !ok {
			return nil, Errorf(igis.ErrMalformedNode, "vfs root .name is not a string")
		}
		v.Name = s
	}
	uuid, _ := w["uuid"].(string)
	v.UUID = uuid
	if head, ok := w["HEAD"]; ok {
		s, ok := head.(string)
		if !ok {
			return nil, Errorf(igis.ErrMalformedNode, "vfs root .HEAD is not a string")
		}
		v.HEAD = s
	}
	refsRaw, ok := w["refs"]
	if !ok {
		v.Refs = map[string]igis.RefTree{}
		return v, nil
	}
	refsMap, ok := refsRaw.(map[string]interface{})
	if !ok {
		return nil, Errorf(igis.ErrMalformedNode, "vfs root .refs is not a map")
	}
	refs, err := wireToRefTree(refsMap)
	if err != nil {
		return nil, err
	}
	v.Refs = refs
	return v, nil
}

func wireToRefTree(w map[string]interface{}) (map[string]igis.RefTree, error) {
	out := make(map[string]igis.RefTree, len(w))
	for name, v := range w {
		switch x := v.(type) {
		case string:
			out[name] = igis.RefTree{IsLeaf: true, Leaf: igis.CID(x)}
		case map[string]interface{}:
			nested, err := wireToRefTree(x)
			if err != nil {
				return nil, err
			}
			out[name] = igis.RefTree{Entries: nested}
		default:
			return nil, Errorf(igis.ErrMalformedNode, "refs entry %q has unexpected wire type %T", name, v)
		}
	}
	return out, nil
}

// MarshalVFS renders a VFSRoot as dag-cbor bytes.
func MarshalVFS(v *igis.VFSRoot) ([]byte, error) {
	return marshalGeneric(VFSToWire(v))
}

// UnmarshalVFS parses dag-cbor bytes produced by MarshalVFS.
func UnmarshalVFS(data []byte) (*igis.VFSRoot, error) {
	w, err := unmarshalGenericMap(data)
	if err != nil {
		return nil, err
	}
	return WireToVFS(w)
}

// MarshalAny dispatches to the right Marshal* function by the dynamic type
// of v, so a single IPFS.DagPut implementation can accept any of this
// package's node types (spec §6).
func MarshalAny(v interface{}) ([]byte, error) {
	switch x := v.(type) {
	case *igis.CommitNode:
		return MarshalCommit(x)
	case *igis.TagNode:
		return MarshalTag(x)
	case igis.ModesNode:
		return MarshalModes(x)
	case *igis.VFSRoot:
		return MarshalVFS(x)
	default:
		return nil, Errorf(igis.ErrMalformedNode, "dagcodec: no wire schema registered for %T", v)
	}
}

// UnmarshalInto is the inverse dispatch for MarshalAny: out must be a
// pointer to one of this package's node types.
func UnmarshalInto(data []byte, out interface{}) error {
	switch x := out.(type) {
	case *igis.CommitNode:
		n, err := UnmarshalCommit(data)
		if err != nil {
			return err
		}
		*x = *n
		return nil
	case *igis.TagNode:
		n, err := UnmarshalTag(data)
		if err != nil {
			return err
		}
		*x = *n
		return nil
	case *igis.ModesNode:
		n, err := UnmarshalModes(data)
		if err != nil {
			return err
		}
		*x = n
		return nil
	case *igis.VFSRoot:
		n, err := UnmarshalVFS(data)
		if err != nil {
			return err
		}
		*x = *n
		return nil
	default:
		return Errorf(igis.ErrMalformedNode, "dagcodec: no wire schema registered for %T", out)
	}
}

func marshalGeneric(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	m := refmt.NewMarshaller(cbor.EncodeOptions{}, &buf)
	if err := m.Marshal(v); err != nil {
		return nil, Errorf(igis.ErrMalformedNode, "cbor encode failed: %s", err)
	}
	return buf.Bytes(), nil
}

func unmarshalGenericMap(data []byte) (map[string]interface{}, error) {
	var w map[string]interface{}
	u := refmt.NewUnmarshaller(cbor.DecodeOptions{}, bytes.NewReader(data))
	if err := u.Unmarshal(&w); err != nil {
		return nil, Errorf(igis.ErrMalformedNode, "cbor decode failed: %s", err)
	}
	return w, nil
}
