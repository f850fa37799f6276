package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vladponakov/simple-task-pro-v2/internal/config"
	"github.com/vladponakov/simple-task-pro-v2/internal/store"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify the home directory and local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string

			st, err := store.Open(home)
			if err != nil {
				problems = append(problems, fmt.Sprintf("cannot open store in %s: %v", home, err))
			} else {
				if _, err := st.CountTasksByStatus(cmd.Context()); err != nil {
					problems = append(problems, fmt.Sprintf("store query failed: %v", err))
				}
				_ = st.Close()
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	return cmd
}
