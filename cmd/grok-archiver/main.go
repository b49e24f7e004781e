// Command grok-archiver archives every image generated on Grok in the
// user's browser, together with its prompt.
//
// Usage:
//
//	grok-archiver                        # run with ./config.json
//	grok-archiver --config=my.json       # run with another config file
//	grok-archiver stats                  # per-day summary of the archive
//
// A missing or invalid config file is replaced with defaults; review it and
// run again.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand(os.Stderr)
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errReported) && !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
