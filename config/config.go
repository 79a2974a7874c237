/*
	Helpers for loading contextual config.

	Config for git-remote-igis means "things that are the host machine
	operator's concerns": where the OID/CID cache lives, which IPFS node
	to talk to, and whether debug tracing is on. As in the teacher's own
	config package, none of this is passed as function call parameters,
	because it wouldn't be correct to do so -- a remote invocation of the
	same binary resolves its own local config, not the caller's.
*/
package config

import (
	"os"
	"path/filepath"
)

// GetCacheDir returns the directory the OID/CID cache should be opened
// at, given the repository's GIT_DIR (spec §6 "On-disk cache path").
//
// The default is "<gitDir>/remote-igis"; this can be overridden with the
// IGIS_CACHE environment variable, which is taken as-is (relative paths
// are resolved against the current working directory, matching the
// teacher's own GetCacheBasePath).
func GetCacheDir(gitDir string) (string, error) {
	if pth := os.Getenv("IGIS_CACHE"); pth != "" {
		return filepath.Abs(pth)
	}
	return filepath.Join(gitDir, "remote-igis"), nil
}

// GetIPFSAPI returns the multiaddr or host:port of the IPFS node's HTTP
// API to dial (spec §1 "the IPFS node (accessed through an HTTP API...)").
//
// The default is "/ip4/127.0.0.1/tcp/5001"; this can be overridden with
// the IPFS_API environment variable.
func GetIPFSAPI() string {
	if addr := os.Getenv("IPFS_API"); addr != "" {
		return addr
	}
	return "/ip4/127.0.0.1/tcp/5001"
}

// Debug reports whether the DEBUG environment variable (spec §6) is
// truthy: set to anything other than empty, "0", or "false".
func Debug() bool {
	switch os.Getenv("DEBUG") {
	case "", "0", "false":
		return false
	default:
		return true
	}
}
