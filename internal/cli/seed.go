package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vladponakov/simple-task-pro-v2/internal/config"
	"github.com/vladponakov/simple-task-pro-v2/internal/seed"
	"github.com/vladponakov/simple-task-pro-v2/internal/store"
)

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo users, students, and tasks into the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := store.Open(home)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			if err := seed.Apply(cmd.Context(), st, log); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "seeded")
			return nil
		},
	}
	return cmd
}
