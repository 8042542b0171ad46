// Fluxion - real-time chat client for the data agent backend.
package main

import (
	"os"

	"github.com/ashureev/fluxion-chat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
