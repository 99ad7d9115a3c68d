// Copyright 2025 UB JCS, Goethe University Frankfurt am Main
// Licensed under the MPLv2, see LICENCE file for details.

// ojsup upgrades self-hosted OJS instances: it backs up the instance
// files and database, replaces the file tree from a local reference
// copy, runs the platform's database migration, and rolls back on
// failure.
package main

import (
	"fmt"
	"os"

	"github.com/juju/cmd/v3"
)

func main() {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	os.Exit(cmd.Main(newUpdateCommand(), ctx, os.Args[1:]))
}
