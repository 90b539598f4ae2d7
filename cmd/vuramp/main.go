// Command vuramp runs ramping virtual-user load scenarios.
package main

import (
	"os"

	"github.com/wesleyorama2/vuramp/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
