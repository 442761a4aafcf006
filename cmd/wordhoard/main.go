// Command wordhoard serves a vocabulary catalog with exact, semantic, and
// fused word search over HTTP and MCP.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "wordhoard:", err)
		os.Exit(1)
	}
}
