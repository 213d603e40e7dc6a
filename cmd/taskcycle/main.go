// Command taskcycle runs the recurring task-instance scheduler.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"taskcycle/internal/app"
)

const configEnv = "TASKCYCLE_CONFIG"

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "taskcycle",
	Short:         "Recurring task-instance scheduler",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config (json or yaml); defaults to $"+configEnv+" or ./config.yaml")
	rootCmd.AddCommand(serveCmd, sweepCmd, planCmd, activateCmd, evaluateCmd, nextCmd, importCmd)
}

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func configPath() string {
	if p := strings.TrimSpace(cfgPath); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(configEnv)); p != "" {
		return p
	}
	return "./config.yaml"
}

// withApp builds the app for a one-shot command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(configPath())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}
