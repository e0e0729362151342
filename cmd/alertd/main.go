// Command alertd runs the market alert engine and its management commands.
package main

import (
	"fmt"
	"os"

	"market-alerts/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
