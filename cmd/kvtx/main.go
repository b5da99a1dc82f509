// kvtx is the CLI for the ordered key-value transaction layer: subcommands
// to inspect/mutate a store, plus an interactive REPL ("repl").
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/otterkv/otterkv/internal/kvcli"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))

	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := kvcli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, env, sigCh)

	os.Exit(exitCode)
}
