// Command keygen generates a node identity key file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/arguslabs/argus-store/pkg/identity"
)

func main() {
	out := flag.String("out", "identity.key", "output key file")
	flag.Parse()

	id, err := identity.Generate()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := id.Save(*out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("wrote %s\nidentity: %s\n", *out, id.ID())
}
