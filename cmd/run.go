package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/encodeous/srmesh/core"
	"github.com/encodeous/srmesh/sim"
	"github.com/encodeous/tint"
	"github.com/spf13/cobra"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate [scenario]",
	Short: "Run a simulated mesh described by a scenario file",
	Long: `This plays a scenario against in-memory nodes on a virtual clock and prints a report of
every packet sent, where it was delivered, and each node's view of the topology.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := sim.ReadScenario(args[0])
		if err != nil {
			return err
		}
		if seed, _ := cmd.Flags().GetUint64("seed"); cmd.Flags().Changed("seed") {
			sc.Seed = seed
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logOut := io.Writer(os.Stderr)
		if logPath != "" {
			if err := os.MkdirAll(path.Dir(logPath), 0700); err != nil {
				return err
			}
			f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
			if err != nil {
				return err
			}
			defer f.Close()
			logOut = io.MultiWriter(os.Stderr, f)
		}

		if addr, _ := cmd.Flags().GetString("debug-addr"); addr != "" {
			logger := slog.New(tint.NewHandler(logOut, &tint.Options{Level: logLevel(), CustomPrefix: "debug"}))
			core.ServeDebug(ctx, addr, logger)
			logger.Info("serving metrics", "addr", addr)
		}

		report, err := sc.Run(ctx, logLevel(), logOut)
		if err != nil {
			return err
		}
		out, err := report.YAML()
		if err != nil {
			return err
		}
		if dest, _ := cmd.Flags().GetString("output"); dest != "" {
			return os.WriteFile(dest, out, 0600)
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
		return err
	},
	GroupID: "sim",
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringP("output", "o", "", "write the report to this file instead of stdout")
	simulateCmd.Flags().String("debug-addr", "", "serve expvar and prometheus metrics on this address while running")
	simulateCmd.Flags().Uint64("seed", 0, "override the scenario seed")
}
