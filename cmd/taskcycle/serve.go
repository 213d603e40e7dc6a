package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"taskcycle/internal/app"
	logx "taskcycle/pkg/logx"
)

const stopTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler until SIGINT or SIGTERM",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Track which signal ended the run for the stop log line.
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)

		a, err := app.New(configPath())
		if err != nil {
			return err
		}
		log := a.Logger()

		ctx := cmd.Context()
		if err := a.Start(ctx); err != nil {
			_ = a.Close()
			return err
		}
		notify(log, daemon.SdNotifyReady)
		go watchdog(ctx, log)

		reason := app.StopUnknown
		select {
		case s := <-sigs:
			reason = app.StopSIGINT
			if s == syscall.SIGTERM {
				reason = app.StopSIGTERM
			}
		case <-ctx.Done():
		case <-a.Done():
			reason = app.StopFatalError
		}

		notify(log, daemon.SdNotifyStopping)
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
		defer cancel()
		runErr := a.Err()
		if err := a.Stop(stopCtx, reason); err != nil {
			return errors.Join(runErr, err)
		}
		if errors.Is(runErr, context.Canceled) {
			return nil
		}
		return runErr
	},
}

func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}

// watchdog pings systemd at half the configured WatchdogSec.
func watchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			notify(log, daemon.SdNotifyWatchdog)
		}
	}
}
