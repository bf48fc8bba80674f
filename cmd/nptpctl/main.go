// Command nptpctl sends a single control-plane datagram to a running
// nptpd instance: a verbosity digit, "dump", "list", "exit" or "help". It is
// the Go counterpart of the original application/nptp_ctrl.c.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var (
		controlAddr string
		sourceAddr  string
	)

	root := &cobra.Command{
		Use:   "nptpctl <0-7|dump|list|exit|help>",
		Short: "send a control command to a running nptpd",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(sourceAddr, controlAddr, args[0])
		},
	}
	root.Flags().StringVar(&controlAddr, "control", "./nptpd_ctrl.sock", "the target nptpd control-plane socket path")
	root.Flags().StringVar(&sourceAddr, "source", "", "local datagram socket path to bind before sending (optional)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func send(sourceAddr, controlAddr, payload string) error {
	switch payload {
	case "0", "1", "2", "3", "4", "5", "6", "7", "dump", "list", "exit", "help":
	default:
		return fmt.Errorf("unrecognized command %q (expected 0-7, dump, list, exit or help)", payload)
	}

	var local *net.UnixAddr
	if sourceAddr != "" {
		local = &net.UnixAddr{Name: sourceAddr, Net: "unixgram"}
	}

	conn, err := net.DialUnix("unixgram", local, &net.UnixAddr{Name: controlAddr, Net: "unixgram"})
	if err != nil {
		return fmt.Errorf("dial %s: %w", controlAddr, err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.Write([]byte(payload)); err != nil {
		return fmt.Errorf("send %q: %w", payload, err)
	}
	return nil
}
