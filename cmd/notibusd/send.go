package main

import (
	"context"
	"fmt"
	"time"

	godbus "github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/notibus/internal/dbus"
)

// sendCallTimeout bounds the Notify call made by send.
const sendCallTimeout = 5 * time.Second

var sendOpts struct {
	icon    string
	urgency uint8
	timeout int32 // expire timeout in ms, -1 = server default
}

var sendCmd = &cobra.Command{
	Use:   "send APP SUMMARY BODY",
	Short: "Send a notification to the running server",
	Long: `Send a notification through org.freedesktop.Notifications as an ordinary
client and print the id the server returned.

Examples:
  # Send a notification with the server's default timeout
  notibusd send Mail "New message" "You have 2 unread items"

  # Ask for a 3 second display
  notibusd send --timeout 3000 Build "Finished" "All tests passed"`,
	Args: cobra.ExactArgs(3),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendOpts.icon, "icon", "",
		"Application icon name or path")
	sendCmd.Flags().Uint8Var(&sendOpts.urgency, "urgency", 1,
		"Urgency hint (0=low, 1=normal, 2=critical)")
	sendCmd.Flags().Int32Var(&sendOpts.timeout, "timeout", -1,
		"Expire timeout in milliseconds (-1 = server default, 0 = never)")
}

func runSend(cmd *cobra.Command, args []string) error {
	conn, err := dbus.Connect(cfg.Bus.System)
	if err != nil {
		return err
	}
	defer conn.Close()

	n := &dbus.Notification{
		AppName: args[0],
		AppIcon: sendOpts.icon,
		Summary: args[1],
		Body:    args[2],
		Actions: []string{},
		Hints: map[string]godbus.Variant{
			"urgency": godbus.MakeVariant(sendOpts.urgency),
		},
		ExpireTimeout: sendOpts.timeout,
	}

	id, err := sendNotification(cmd.Context(), conn, n)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

// sendNotification issues a Notify call for n and returns the id from the
// reply.
func sendNotification(ctx context.Context, conn dbus.Conn, n *dbus.Notification) (uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, sendCallTimeout)
	defer cancel()

	actions := n.Actions
	if actions == nil {
		actions = []string{}
	}
	hints := n.Hints
	if hints == nil {
		hints = map[string]godbus.Variant{}
	}

	body, err := conn.Call(ctx, dbus.BusName, dbus.ObjectPath, dbus.Interface+"."+dbus.MethodNotify, 0,
		n.AppName, n.ReplacesID, n.AppIcon, n.Summary, n.Body, actions, hints, n.ExpireTimeout)
	if err != nil {
		return 0, fmt.Errorf("failed to send notification: %w", err)
	}
	if len(body) != 1 {
		return 0, fmt.Errorf("unexpected Notify reply with %d values", len(body))
	}
	id, ok := body[0].(uint32)
	if !ok {
		return 0, fmt.Errorf("unexpected Notify reply type %T", body[0])
	}
	return id, nil
}
