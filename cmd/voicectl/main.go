// Command voicectl talks to the voice server: it fetches grants, joins rooms
// as a headless participant and runs a stub agent.
package main

import (
	"fmt"
	"os"

	"github.com/dkeye/VoiceAgent/cmd/voicectl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
