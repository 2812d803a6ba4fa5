// Command crustyvm tokenizes, preprocesses, compiles, disassembles and
// runs CrustyVM assembly source files.
package main

import (
	"os"

	"github.com/crustyvm/crustyvm/internal/maincmd"
	"github.com/mna/mainer"
)

var (
	// placeholder values, replaced on build
	version   = "{v}" // must be N.N[.N]
	buildDate = "{d}" // must be YYYY-mm-DD
)

func main() {
	c := maincmd.Cmd{BuildVersion: version, BuildDate: buildDate}
	os.Exit(int(c.Main(os.Args, mainer.CurrentStdio())))
}
