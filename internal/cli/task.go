package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vladponakov/simple-task-pro-v2/internal/config"
	"github.com/vladponakov/simple-task-pro-v2/internal/lifecycle"
	"github.com/vladponakov/simple-task-pro-v2/internal/store"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and manage tasks from the command line",
	}
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskAssignCmd())
	cmd.AddCommand(newTaskStatusCmd())
	cmd.AddCommand(newTaskDeleteCmd())
	cmd.AddCommand(newTaskRestoreCmd())
	cmd.AddCommand(newTaskEventsCmd())
	return cmd
}

// withEngine opens the local store, resolves the acting user by its demo
// handle, and runs fn. The store is closed when fn returns.
func withEngine(cmd *cobra.Command, as string, fn func(e *lifecycle.Engine, actor lifecycle.Actor) error) error {
	home := config.MustHomeFrom(cmd.Context())
	st, err := store.Open(home)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	cfg := config.Load()
	id, ok := cfg.UserFixtures[strings.ToLower(strings.TrimSpace(as))]
	if !ok {
		return fmt.Errorf("unknown user handle %q", as)
	}
	u, err := st.GetUser(cmd.Context(), id)
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("user %d not found; run `taskpro seed` first", id)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := lifecycle.New(st, nil, cfg, log)
	return fn(e, lifecycle.Actor{ID: u.ID, Role: u.Role})
}

func addAsFlag(cmd *cobra.Command, as *string) {
	cmd.Flags().StringVar(as, "as", "paddy", "Act as this demo user handle")
}

func printTask(w io.Writer, t *store.Task) {
	assignee := "-"
	if t.AssigneeUserID != nil {
		assignee = fmt.Sprintf("%d", *t.AssigneeUserID)
	}
	due := "-"
	if t.DueAt != nil {
		due = t.DueAt.Format("2006-01-02 15:04")
	}
	_, _ = fmt.Fprintf(w, "%-5d %-9s %-9s %-17s %s\n", t.ID, t.Status, assignee, due, t.Title)
}

func newTaskListCmd() *cobra.Command {
	var as, status, sortBy, order string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks visible to the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, as, func(e *lifecycle.Engine, actor lifecycle.Actor) error {
				tasks, err := e.List(cmd.Context(), actor, lifecycle.ListOptions{
					Status: status,
					Sort:   sortBy,
					Order:  order,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "%-5s %-9s %-9s %-17s %s\n", "ID", "STATUS", "ASSIGNEE", "DUE", "TITLE")
				for i := range tasks {
					printTask(out, &tasks[i])
				}
				return nil
			})
		},
	}
	addAsFlag(cmd, &as)
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (New, Assigned, Accepted, Rejected, Done)")
	cmd.Flags().StringVar(&sortBy, "sort", "", "Sort by due_at, updated_at, or completed_at")
	cmd.Flags().StringVar(&order, "order", "", "Sort order: asc or desc")
	return cmd
}

func newTaskAssignCmd() *cobra.Command {
	var as string
	var taskID, userID int64

	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign a task to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 || userID <= 0 {
				return fmt.Errorf("--id and --user must be positive")
			}
			return withEngine(cmd, as, func(e *lifecycle.Engine, actor lifecycle.Actor) error {
				t, err := e.Assign(cmd.Context(), actor, taskID, userID)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %d assigned to user %d (%s)\n", t.ID, userID, t.Status)
				return nil
			})
		},
	}
	addAsFlag(cmd, &as)
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().Int64Var(&userID, "user", 0, "Assignee user ID")
	return cmd
}

func newTaskStatusCmd() *cobra.Command {
	var as, action, reason string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Apply a status action (accept, reject, complete)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 || action == "" {
				return fmt.Errorf("--id and --action are required")
			}
			return withEngine(cmd, as, func(e *lifecycle.Engine, actor lifecycle.Actor) error {
				var rp *string
				if reason != "" {
					rp = &reason
				}
				t, err := e.ChangeStatus(cmd.Context(), actor, taskID, action, rp)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %d is now %s\n", t.ID, t.Status)
				return nil
			})
		},
	}
	addAsFlag(cmd, &as)
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	cmd.Flags().StringVar(&action, "action", "", "accept, reject, or complete")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason (required for reject)")
	return cmd
}

func newTaskDeleteCmd() *cobra.Command {
	var as string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Soft-delete a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 {
				return fmt.Errorf("--id must be positive")
			}
			return withEngine(cmd, as, func(e *lifecycle.Engine, actor lifecycle.Actor) error {
				if err := e.Delete(cmd.Context(), actor, taskID); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %d deleted\n", taskID)
				return nil
			})
		},
	}
	addAsFlag(cmd, &as)
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	return cmd
}

func newTaskRestoreCmd() *cobra.Command {
	var as string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a soft-deleted task (within the restore window)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 {
				return fmt.Errorf("--id must be positive")
			}
			return withEngine(cmd, as, func(e *lifecycle.Engine, actor lifecycle.Actor) error {
				t, err := e.Restore(cmd.Context(), actor, taskID)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %d restored (%s)\n", t.ID, t.Status)
				return nil
			})
		},
	}
	addAsFlag(cmd, &as)
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	return cmd
}

func newTaskEventsCmd() *cobra.Command {
	var as string
	var taskID int64

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the audit trail of a task, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID <= 0 {
				return fmt.Errorf("--id must be positive")
			}
			return withEngine(cmd, as, func(e *lifecycle.Engine, actor lifecycle.Actor) error {
				events, err := e.Events(cmd.Context(), actor, taskID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for i := range events {
					ev := &events[i]
					_, _ = fmt.Fprintf(out, "%s  %-9s actor=%d\n",
						ev.CreatedAt.Format("2006-01-02 15:04:05"), ev.Type, ev.ActorUserID)
				}
				return nil
			})
		},
	}
	addAsFlag(cmd, &as)
	cmd.Flags().Int64Var(&taskID, "id", 0, "Task ID")
	return cmd
}
