// Command fput runs the put (transmitter) personality by default; --get
// still overrides it, matching the combined binary's flag surface.
package main

import (
	"os"

	"github.com/fabtsuite/fabtsuite"
	"github.com/fabtsuite/fabtsuite/internal/cli"
)

func main() {
	put := fabtsuite.PersonalityPut
	os.Exit(cli.Main(os.Args, &put))
}
