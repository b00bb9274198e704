package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openchamber/chamberd"
	"github.com/openchamber/chamberd/internal/config"
	"github.com/openchamber/chamberd/pkg/client"
)

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// StatusFlags holds flags for the status command.
type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Limit      int
}

func buildRoot() *cobra.Command {
	gf := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "chamberd",
		Short: "Local control plane for the opencode server",
		Long: "chamberd supervises an opencode server process and exposes a single\n" +
			"stable local HTTP endpoint for the OpenChamber front-end: health and\n" +
			"status, directory changes, configuration editing, and a streaming\n" +
			"proxy to the supervised process.",
	}
	root.PersistentFlags().StringVar(&gf.ConfigPath, "config", "", "path to chamberd.toml")

	root.AddCommand(newServeCmd(gf))
	root.AddCommand(newStatusCmd(gf))
	return root
}

func newServeCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(gf.ConfigPath)
			if err != nil {
				return err
			}

			rt, err := chamberd.New(cfg)
			if err != nil {
				return err
			}
			if err := rt.Start(); err != nil {
				return err
			}

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig

			rt.Shutdown()
			return nil
		},
	}
}

func newStatusCmd(gf *GlobalFlags) *cobra.Command {
	sf := &StatusFlags{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(client.Config{BaseURL: sf.APIUrl, Timeout: sf.APITimeout})
			ctx, cancel := context.WithTimeout(cmd.Context(), sf.APITimeout)
			defer cancel()

			health, err := c.Health(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("gateway:   %s (port %d)\n", health.Status, health.ServerPort)
			fmt.Printf("opencode:  port=%d prefix=%q ready=%v cli=%v\n",
				health.OpencodePort, health.APIPrefix, health.IsOpencodeReady, health.CLIAvailable)
			fmt.Printf("directory: %s\n", health.Directory)

			events, err := c.History(ctx, sf.Limit)
			if err != nil {
				return err
			}
			if len(events) > 0 {
				fmt.Println("recent lifecycle events:")
				for _, e := range events {
					fmt.Printf("  %s  %-9s pid=%d port=%d %s\n",
						e.OccurredAt.Format(time.RFC3339), e.Kind, e.PID, e.Port, e.Detail)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sf.APIUrl, "api-url", "", "gateway base URL (default http://127.0.0.1:7654)")
	cmd.Flags().DurationVar(&sf.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().IntVar(&sf.Limit, "limit", 10, "lifecycle events to show")
	return cmd
}
