// Command splicestore operates ACS projection stores: running the ingestion
// daemon, inspecting persisted state and bootstrapping domain migrations.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
