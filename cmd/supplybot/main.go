// Package main is the entry point for the supplybot binary.
package main

import "github.com/supplywise/supplybot/internal/cli"

func main() {
	cli.Execute()
}
