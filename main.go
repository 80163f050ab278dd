// main - main entry-point to checkout-go commands through cobra
// individual commands are outlined in ./cmd/
package main

import (
	"github.com/cartfront/checkout-go/cmd"
)

var (
	// variables will be overwritten at build time
	version   string
	commit    string
	buildTime string
)

func main() {
	cmd.Execute(version, commit, buildTime)
}
