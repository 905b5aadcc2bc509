package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mzli/pillarflow/internal/config"
	"github.com/mzli/pillarflow/internal/engine"
	"github.com/mzli/pillarflow/internal/source"
	"github.com/mzli/pillarflow/internal/store"
	"github.com/mzli/pillarflow/pkg/models"
	"github.com/spf13/cobra"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage daily workflows",
	}
	cmd.AddCommand(newWorkflowGenerateCmd())
	cmd.AddCommand(newWorkflowListCmd())
	cmd.AddCommand(newWorkflowShowCmd())
	cmd.AddCommand(newWorkflowProgressCmd())
	cmd.AddCommand(newWorkflowCompleteCmd())
	cmd.AddCommand(newWorkflowSkipCmd())
	cmd.AddCommand(newWorkflowAdvanceCmd())
	cmd.AddCommand(newWorkflowClearCmd())
	return cmd
}

// openEngine builds an engine over the local store and plan file. Caller
// must Close the returned store.
func openEngine(cmd *cobra.Command) (*engine.Engine, store.Store, error) {
	home := config.MustHomeFrom(cmd.Context())
	st, err := store.Open(home)
	if err != nil {
		return nil, nil, err
	}
	src := &source.TemplateProvider{Path: filepath.Join(home, "plan.yaml")}
	eng := engine.New(engine.Options{Source: src, Store: st})
	return eng, st, nil
}

func today() string {
	return time.Now().Format("2006-01-02")
}

func printTask(cmd *cobra.Command, t *models.Task) {
	marker := " "
	switch t.Status {
	case models.TaskCompleted:
		marker = "x"
	case models.TaskSkipped:
		marker = "-"
	case models.TaskInProgress:
		marker = ">"
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  [%s] %-18s %-8s %3dm  %s\n",
		marker, t.ID, t.Priority, t.EstimatedTime, t.Title)
}

func newWorkflowGenerateCmd() *cobra.Command {
	var (
		user   string
		date   string
		pillar string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate (or fetch) the daily workflow for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			if date == "" {
				date = today()
			}
			eng, st, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			var genCtx map[string]string
			if pillar != "" {
				genCtx = map[string]string{"pillar": pillar}
			}
			wf, err := eng.GenerateWorkflow(cmd.Context(), user, date, genCtx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s (%d tasks, ~%dm)\n", wf.ID, wf.TotalTasks, wf.TotalEstimatedTime)
			for i := range wf.Tasks {
				printTask(cmd, &wf.Tasks[i])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User id")
	cmd.Flags().StringVar(&date, "date", "", "ISO date (default: today)")
	cmd.Flags().StringVar(&pillar, "pillar", "", "Only generate tasks for this pillar")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newWorkflowListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			wfs := eng.Workflows()
			if len(wfs) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No workflows.")
				return nil
			}
			for _, wf := range wfs {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s  %s  %d/%d tasks\n",
					wf.ID, wf.WorkflowStatus, wf.CompletedTasks, wf.TotalTasks)
			}
			return nil
		},
	}
	return cmd
}

func newWorkflowShowCmd() *cobra.Command {
	var (
		user string
		date string
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a workflow's tasks in execution order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			if date == "" {
				date = today()
			}
			eng, st, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			wf, err := eng.Workflow(models.WorkflowID(user, date))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Workflow %s (%s)\n", wf.ID, wf.WorkflowStatus)
			for i := range wf.Tasks {
				printTask(cmd, &wf.Tasks[i])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User id")
	cmd.Flags().StringVar(&date, "date", "", "ISO date (default: today)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newWorkflowProgressCmd() *cobra.Command {
	var (
		user string
		date string
	)
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Show completion progress for a workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			if date == "" {
				date = today()
			}
			eng, st, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			p, err := eng.Progress(models.WorkflowID(user, date))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d tasks (%.0f%%), ~%dm remaining, %dm spent\n",
				p.WorkflowID, p.CompletedTasks, p.TotalTasks, p.CompletionPercentage,
				p.EstimatedTimeRemaining, p.ActualTimeSpent)
			if p.CurrentTask != nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Current: %s — %s\n", p.CurrentTask.ID, p.CurrentTask.Title)
			}
			if p.NextTask != nil {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Next:    %s — %s\n", p.NextTask.ID, p.NextTask.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User id")
	cmd.Flags().StringVar(&date, "date", "", "ISO date (default: today)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newWorkflowCompleteCmd() *cobra.Command {
	var (
		user string
		date string
		task string
	)
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Mark a task completed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			if task == "" {
				return errors.New("--task is required")
			}
			if date == "" {
				date = today()
			}
			eng, st, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			p, vres, err := eng.CompleteTask(cmd.Context(), models.WorkflowID(user, date), task, nil)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Completed %s: %d/%d tasks done\n", task, p.CompletedTasks, p.TotalTasks)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Verification: confidence %.2f (verified=%v)\n", vres.Confidence, vres.IsCompleted)
			for _, w := range vres.Warnings {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  warning: %s\n", w)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User id")
	cmd.Flags().StringVar(&date, "date", "", "ISO date (default: today)")
	cmd.Flags().StringVar(&task, "task", "", "Task id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func newWorkflowSkipCmd() *cobra.Command {
	var (
		user string
		date string
		task string
	)
	cmd := &cobra.Command{
		Use:   "skip",
		Short: "Skip a task (counts toward completion)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			if task == "" {
				return errors.New("--task is required")
			}
			if date == "" {
				date = today()
			}
			eng, st, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			p, err := eng.SkipTask(cmd.Context(), models.WorkflowID(user, date), task)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Skipped %s: %d/%d tasks done\n", task, p.CompletedTasks, p.TotalTasks)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User id")
	cmd.Flags().StringVar(&date, "date", "", "ISO date (default: today)")
	cmd.Flags().StringVar(&task, "task", "", "Task id")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func newWorkflowAdvanceCmd() *cobra.Command {
	var (
		user string
		date string
	)
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Move the workflow cursor to the next task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return errors.New("--user is required")
			}
			if date == "" {
				date = today()
			}
			eng, st, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			next, err := eng.AdvanceCursor(cmd.Context(), models.WorkflowID(user, date))
			if err != nil {
				return err
			}
			if next == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Already at the last task.")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Now on %s — %s\n", next.ID, next.Title)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User id")
	cmd.Flags().StringVar(&date, "date", "", "ISO date (default: today)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newWorkflowClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all completed workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			n := eng.ClearCompleted(cmd.Context())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d completed workflow(s)\n", n)
			return nil
		},
	}
	return cmd
}
