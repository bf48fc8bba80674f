// Command nptpd is the bridging daemon entrypoint: it loads a mapping
// file, brings up the engine supervisor, and serves until the control
// plane receives "exit" or the process is signalled.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syc2012/nptpd/internal/logging"
	"github.com/syc2012/nptpd/internal/supervisor"
)

// daemonizeEnv marks a re-exec'd child as already detached, so serve
// never forks twice.
const daemonizeEnv = "NPTPD_DAEMONIZED"

func main() {
	var (
		configPath  string
		controlAddr string
		foreground  bool
	)

	root := &cobra.Command{
		Use:   "nptpd",
		Short: "named-pipe to TCP bridging daemon",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "load the mapping file and run the bridging engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !foreground && os.Getenv(daemonizeEnv) == "" {
				return daemonize()
			}
			return runServe(configPath, controlAddr)
		},
	}
	serve.Flags().StringVarP(&configPath, "config", "c", "nptpd.yaml", "path to the mapping configuration file")
	serve.Flags().StringVar(&controlAddr, "control", "./nptpd_ctrl.sock", "control-plane unix datagram socket path")
	serve.Flags().BoolVarP(&foreground, "foreground", "f", false, "stay attached to the terminal instead of daemonizing")

	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// daemonize re-execs the current binary with the same arguments and an
// internal marker set, then exits the parent. A Go process cannot
// safely fork(2) with live goroutines, so this replaces the original
// single fork-once-and-exit-parent behavior from spec.md §6.
func daemonize() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	env := append(os.Environ(), daemonizeEnv+"=1")
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer func() { _ = devNull.Close() }()

	proc, err := os.StartProcess(exe, os.Args, &os.ProcAttr{
		Env:   env,
		Files: []*os.File{devNull, devNull, devNull},
	})
	if err != nil {
		return fmt.Errorf("daemonize: %w", err)
	}

	fmt.Printf("nptpd started, pid %d\n", proc.Pid)
	return nil
}

func runServe(configPath, controlAddr string) error {
	log := logging.New()

	eng, err := supervisor.New(configPath, controlAddr, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return eng.Run(ctx)
}
