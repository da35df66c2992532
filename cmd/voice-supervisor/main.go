// Package main: точка входа voice-supervisor.
package main

import (
	"fmt"
	"os"

	"github.com/psds-microservice/voice-supervisor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "voice-supervisor:", err)
		os.Exit(1)
	}
}
