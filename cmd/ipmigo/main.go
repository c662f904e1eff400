// Command ipmigo is a thin example client over the connection multiplexer,
// mirroring the library's own examples/sdr and examples/sel programs but
// driven by a cobra/viper CLI and YAML connection profiles instead of a
// hardcoded Arguments literal.
package main

import (
	"fmt"
	"os"

	"github.com/relayctl/ipmigo/cmd/ipmigo/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
