package cmd

import "fmt"

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.1.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

func printVersionInfo() error {
	fmt.Printf("persona %s (commit %s, built %s)\n", AppVersion, GitCommit, BuildTime)
	return nil
}
