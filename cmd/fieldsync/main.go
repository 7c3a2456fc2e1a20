// fieldsync - offline-first sync client for field operations
//
// Keeps a local SQLite cache of tasks, task completions, label templates, products and
// checkpoints, and reconciles it with the REST server one batch per entity type.
// Every read and write works offline; pending changes are sent on the next sync.
package main

import (
	"fmt"
	"os"
)

// Version information (set at build time)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
