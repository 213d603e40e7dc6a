package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskcycle/internal/app"
)

var (
	planSubject    string
	planDefinition string

	activateSubject string
	activateAt      string

	evaluateSubject string
	nextInstance    string
	importFile      string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one lifecycle sweep now and print the result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.SweepOnce(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "scanned\t%d\n", res.Scanned)
			fmt.Fprintf(w, "activated\t%d\n", res.Activated)
			fmt.Fprintf(w, "expired\t%d\n", res.Expired)
			fmt.Fprintf(w, "finalized\t%d\n", res.Finalized)
			fmt.Fprintf(w, "stale\t%d\n", res.Stale)
			fmt.Fprintf(w, "answers copied\t%d\n", res.AnswersCopied)
			fmt.Fprintf(w, "schedules deleted\t%d\n", res.SchedulesDeleted)
			fmt.Fprintf(w, "took\t%s\n", res.Took)
			return w.Flush()
		})
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the due dates a definition produces for a subject",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			plan, err := a.Workflow().Plan(ctx, planSubject, planDefinition)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CYCLE\tDUE")
			for _, due := range plan {
				fmt.Fprintf(w, "%d\t%s\n", due.Index, due.At.Format(time.RFC3339))
			}
			return w.Flush()
		})
	},
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Anchor a subject and generate its instances",
	RunE: func(cmd *cobra.Command, _ []string) error {
		at := time.Now()
		if s := strings.TrimSpace(activateAt); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return fmt.Errorf("--at: %w", err)
			}
			at = t
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Workflow().ActivateSubject(ctx, activateSubject, at)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d instances created\n", n)
			return nil
		})
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Create conditional instances whose rules the subject's answers satisfy",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.Workflow().EvaluateConditions(ctx, evaluateSubject)
			fmt.Fprintf(cmd.OutOrStdout(), "%d conditional instances created\n", n)
			return err
		})
	},
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Create the instance following a recurring one",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			inst, created, err := a.Workflow().ScheduleNext(ctx, nextInstance)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintln(cmd.OutOrStdout(), "no new instance (window ended or already present)")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tcycle %d\t%s\n", inst.ID, inst.CycleIndex, inst.IssuedAt.Format(time.RFC3339))
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load studies, definitions and subjects from a YAML catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f, err := os.Open(importFile)
		if err != nil {
			return err
		}
		defer f.Close()
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			c, err := a.Import(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d studies, %d definitions, %d subjects\n", len(c.Studies), len(c.Definitions), len(c.Subjects))
			return nil
		})
	},
}

func init() {
	planCmd.Flags().StringVar(&planSubject, "subject", "", "subject id")
	planCmd.Flags().StringVar(&planDefinition, "definition", "", "task definition id")
	_ = planCmd.MarkFlagRequired("subject")
	_ = planCmd.MarkFlagRequired("definition")

	activateCmd.Flags().StringVar(&activateSubject, "subject", "", "subject id")
	activateCmd.Flags().StringVar(&activateAt, "at", "", "anchor time (RFC3339); defaults to now")
	_ = activateCmd.MarkFlagRequired("subject")

	evaluateCmd.Flags().StringVar(&evaluateSubject, "subject", "", "subject id")
	_ = evaluateCmd.MarkFlagRequired("subject")

	nextCmd.Flags().StringVar(&nextInstance, "instance", "", "instance id")
	_ = nextCmd.MarkFlagRequired("instance")

	importCmd.Flags().StringVarP(&importFile, "file", "f", "", "catalog YAML file")
	_ = importCmd.MarkFlagRequired("file")
}
