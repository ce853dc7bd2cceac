// Command ghostproc runs one node of the cluster: it loads a
// configuration file, binds a listener, joins the cluster via
// known-hosts and LAN discovery, and dispatches its configured role.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ghostproc/ghostproc"
	"github.com/ghostproc/ghostproc/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var roleOverride string

	cmd := &cobra.Command{
		Use:   "ghostproc",
		Short: "Run a ghostproc cluster node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, roleOverride)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "ghostproc.properties", "path to the node's configuration file")
	cmd.Flags().StringVar(&roleOverride, "role", "", "override the role key from the configuration file")

	return cmd
}

func run(configPath, roleOverride string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("ghostproc: %w", err)
	}
	if roleOverride != "" {
		cfg.Role = roleOverride
	}

	rt := ghostproc.New(cfg, prometheus.DefaultRegisterer)
	if err := rt.Start(); err != nil {
		return fmt.Errorf("ghostproc: %w", err)
	}
	fmt.Printf("ghostproc: node up at %s, role %q\n", rt.Self, cfg.Role)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		rt.Wait()
		close(done)
	}()

	select {
	case <-sig:
	case <-done:
	}
	rt.Shutdown()
	return nil
}
