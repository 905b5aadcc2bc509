package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mzli/pillarflow/internal/config"
	"github.com/mzli/pillarflow/internal/source"
	"github.com/mzli/pillarflow/internal/store"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify the local data directory and plan file",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())

			var problems []string

			if err := os.MkdirAll(home, 0o755); err != nil {
				problems = append(problems, fmt.Sprintf("home %s is not writable: %v", home, err))
			}

			// The store must open and migrate cleanly.
			if st, err := store.Open(home); err != nil {
				problems = append(problems, fmt.Sprintf("store: %v", err))
			} else {
				_ = st.Close()
			}

			// A present plan file must parse; a missing one is fine (built-in
			// plan applies).
			planPath := filepath.Join(home, "plan.yaml")
			if _, err := source.LoadPlan(planPath); err != nil {
				problems = append(problems, fmt.Sprintf("plan: %v", err))
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
