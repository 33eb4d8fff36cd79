// ojs-jobstore-admin inspects and repairs a job store.
//
// Usage:
//
//	ojs-jobstore-admin [--json] <command> [args]
//
// The store is opened with the same configuration as the server
// (OJS_CONFIG_FILE and environment).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openjobspec/ojs-jobstore-nats/internal/api"
	"github.com/openjobspec/ojs-jobstore-nats/internal/cli"
	"github.com/openjobspec/ojs-jobstore-nats/internal/server"
)

func main() {
	open := func(ctx context.Context) (api.Store, func(), error) {
		cfg, err := server.LoadConfig()
		if err != nil {
			return nil, nil, err
		}
		logger := server.NewLogger(os.Stderr, cfg.LogLevel, "text")
		rt, err := server.Open(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := rt.Store.Initialize(ctx, nil, nil); err != nil {
			rt.Close()
			return nil, nil, err
		}
		return rt.Store, rt.Close, nil
	}
	output := func(cmd *cobra.Command, jsonMode bool) *cli.Output {
		return cli.NewOutput(jsonMode, cmd.OutOrStdout(), cmd.ErrOrStderr())
	}

	if err := cli.NewRootCmd(open, output).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
