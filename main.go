package main

import (
	"context"
	"os"

	"dsoscope/cmd"
	"dsoscope/internal/log"
	"dsoscope/pkg/build"
)

// main is the entry point for dsoscope.
//
// 1. Startup: build information.
// 2. Command: cobra dispatches to list, capture, simulate, captures or export.
// PortAudio is only initialized by the commands that open a device.
func main() {
	// Development builds carry no ldflags and keep "unknown" build info.
	if err := build.Initialize(); err != nil {
		log.Debugf("Build: %v", err)
	}

	if err := cmd.Execute(context.Background(), os.Args[1:]); err != nil {
		log.Fatalf("%v", err)
	}
}
