// Command fabtsuite runs either the put or get personality of the
// transport. Invoked under the name fget or fput (for example through a
// symlink) it adopts that personality; under any other name one of
// --put/--get is required.
package main

import (
	"os"
	"path/filepath"

	"github.com/fabtsuite/fabtsuite"
	"github.com/fabtsuite/fabtsuite/internal/cli"
)

func main() {
	var personality *fabtsuite.Personality
	switch filepath.Base(os.Args[0]) {
	case "fget":
		get := fabtsuite.PersonalityGet
		personality = &get
	case "fput":
		put := fabtsuite.PersonalityPut
		personality = &put
	}
	os.Exit(cli.Main(os.Args, personality))
}
