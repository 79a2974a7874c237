package igis

import (
	"fmt"
	"sort"
)

// SerializeRefs renders a VFS root's ref tree and HEAD the way Git's
// `list` remote-helper command expects (spec §6): one "<oid> <ref-path>"
// line per ref, sorted for determinism, followed by the symref line
// naming HEAD's target. resolveCID looks up the local OID a ref's leaf
// CID already translates to (e.g. a cache hit); a leaf with no known OID
// yet is rendered as "?", the usual remote-helper convention for "fetch
// this ref to learn its value."
func SerializeRefs(vfs *VFSRoot, resolveCID func(CID) (OID, bool)) []string {
	var lines []string
	var walk func(prefix string, t RefTree)
	walk = func(prefix string, t RefTree) {
		if t.IsLeaf {
			tok := "?"
			if oid, ok := resolveCID(t.Leaf); ok {
				tok = string(oid)
			}
			lines = append(lines, fmt.Sprintf("%s %s", tok, prefix))
			return
		}
		names := make([]string, 0, len(t.Entries))
		for name := range t.Entries {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			walk(prefix+"/"+name, t.Entries[name])
		}
	}

	names := make([]string, 0, len(vfs.Refs))
	for name := range vfs.Refs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		walk("refs/"+name, vfs.Refs[name])
	}
	if vfs.HEAD != "" {
		lines = append(lines, fmt.Sprintf("@%s HEAD", vfs.HEAD))
	}
	return lines
}
