package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/notibus/internal/dbus"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check whether a notification server is running",
	Long: `Ask the current owner of org.freedesktop.Notifications for its server
information, exactly as notibusd does before claiming the name.

Prints the server identity, or "no server" with the reason the probe failed.`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, _ []string) error {
	conn, err := dbus.Connect(cfg.Bus.System)
	if err != nil {
		return err
	}
	defer conn.Close()

	res := dbus.Probe(cmd.Context(), conn, cfg.Bus.ProbeTimeout.Duration())
	printProbe(cmd.OutOrStdout(), res)
	return nil
}

func printProbe(w io.Writer, res dbus.ProbeResult) {
	if res.Outcome == dbus.PeerDetected {
		fmt.Fprintf(w, "running: %s\n", res.Peer)
		return
	}
	fmt.Fprintf(w, "no server: %v\n", res.Reason)
}
