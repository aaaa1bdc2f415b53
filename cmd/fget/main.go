// Command fget runs the get (receiver) personality by default; --put
// still overrides it, matching the combined binary's flag surface.
package main

import (
	"os"

	"github.com/fabtsuite/fabtsuite"
	"github.com/fabtsuite/fabtsuite/internal/cli"
)

func main() {
	get := fabtsuite.PersonalityGet
	os.Exit(cli.Main(os.Args, &get))
}
