// Command routerag answers questions by routing each one to a live weather
// lookup or to retrieval over ingested documents. It provides a CLI (via
// Cobra) and an HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/routerag-go/cmd/routerag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
