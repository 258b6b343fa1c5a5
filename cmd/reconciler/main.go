package main

import (
	"os"

	"github.com/Wheezy72/nuru-ERP-sub001/cmd/reconciler/cmd"
)

// Build-time variables set via ldflags
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, date)

	if err := cmd.Execute(); err != nil {
		handler := cmd.NewCLIErrorHandler()
		os.Exit(handler.HandleError(err))
	}
}
