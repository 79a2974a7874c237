/*
	Command git-remote-igis is the thin CLI glue Git invokes as a remote
	helper for URLs of the form `ipfs://<name>` or a bare IPFS CID (spec
	§1, §6): it speaks the remote-helper stdio protocol on one side and
	drives the core (package igis and its collaborator packages) on the
	other. It also exposes two administrative subcommands,
	`hash-cache:clear` and `hash-cache:dump`.

	Grounded on `cmd/rio/main.go`'s `baseCLI` + kingpin wiring for the
	administrative subcommands, and on `cryptix/git-remote-ipfs`'s and
	`drgomesp/git-remote-go`'s `os.Args`-driven dispatch for the
	remote-helper invocation itself, since kingpin's flag-oriented model
	does not fit a protocol Git itself invokes positionally.
*/
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/ipfs-shipyard/git-remote-igis/cache"
	"github.com/ipfs-shipyard/git-remote-igis/config"
)

func main() {
	os.Exit(Main(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

func Main(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	log := newLogger(stderr)

	gitDir := os.Getenv("GIT_DIR")
	if gitDir == "" {
		log.Error().Msg("git-remote-igis: missing $GIT_DIR (must be invoked by git)")
		return 2
	}

	switch {
	case len(args) >= 2 && (args[1] == "hash-cache:clear" || args[1] == "hash-cache:dump"):
		return runAdmin(args[1:], gitDir, log, stdout, stderr)
	case len(args) == 3:
		return runRemoteHelper(args[1], args[2], gitDir, log, stdin, stdout, stderr)
	default:
		fmt.Fprintln(stderr, "usage: git-remote-igis <remote> <url>")
		fmt.Fprintln(stderr, "       git-remote-igis hash-cache:clear")
		fmt.Fprintln(stderr, "       git-remote-igis hash-cache:dump")
		return 2
	}
}

func newLogger(w io.Writer) zerolog.Logger {
	if config.Debug() {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	}
	return zerolog.New(w).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

// runAdmin implements the `hash-cache:clear` / `hash-cache:dump`
// subcommands (spec §6), operating directly on the cache files.
func runAdmin(args []string, gitDir string, log zerolog.Logger, stdout, stderr io.Writer) int {
	app := kingpin.New("git-remote-igis", "Git remote helper mapping a repository onto IPFS")
	app.UsageWriter(stderr)
	app.ErrorWriter(stderr)
	clearCmd := app.Command("hash-cache:clear", "drop every cached OID/CID translation")
	dumpCmd := app.Command("hash-cache:dump", "print every cached OID/CID translation")

	cmd, err := app.Parse(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

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

	ctx := context.Background()
	switch cmd {
	case clearCmd.FullCommand():
		if err := store.Drop(ctx); err != nil {
			log.Error().Err(err).Msg("clear cache")
			return 1
		}
	case dumpCmd.FullCommand():
		it, err := store.Iterate(ctx)
		if err != nil {
			log.Error().Err(err).Msg("iterate cache")
			return 1
		}
		defer it.Close()
		for it.Next() {
			fmt.Fprintf(stdout, "%s\t%s\n", it.Key(), it.Value())
		}
		if err := it.Err(); err != nil {
			log.Error().Err(err).Msg("iterate cache")
			return 1
		}
	}
	return 0
}
