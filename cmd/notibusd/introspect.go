package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/notibus/internal/daemon"
	"github.com/jmylchreest/notibus/internal/dbus"
)

var introspectCmd = &cobra.Command{
	Use:   "introspect",
	Short: "Print the introspection XML served by this build",
	Long: `Print the introspection document notibusd would serve with the current
configuration. Nothing is sent on the bus.

Fails if introspection is disabled in the [server] section.`,
	Args: cobra.NoArgs,
	RunE: runIntrospect,
}

func init() {
	rootCmd.AddCommand(introspectCmd)
}

func runIntrospect(cmd *cobra.Command, _ []string) error {
	if !cfg.Server.Introspection {
		return fmt.Errorf("introspection is disabled in %s", configPath())
	}

	d, err := dbus.NewDispatcher(nil, nil, daemon.Options(cfg, version), logger)
	if err != nil {
		return fmt.Errorf("failed to build dispatcher: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), d.IntrospectionXML())
	return nil
}
