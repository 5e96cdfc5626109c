// Package main provides the entry point for the annsolo CLI.
package main

import (
	"os"

	"github.com/jianshu93/annsolo/cmd/annsolo/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
