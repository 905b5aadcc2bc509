package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Inspect completion verification",
	}
	cmd.AddCommand(newVerifyStatsCmd())
	return cmd
}

func newVerifyStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate verification statistics for this session's store",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, st, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			s := eng.Verifier().Stats()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Verifications: %d\n", s.TotalVerifications)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Average confidence: %.2f\n", s.AverageConfidence)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Completion rate: %.0f%%\n", 100*s.CompletionRate)
			for _, w := range s.FrequentWarnings {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %dx %s\n", w.Count, w.Warning)
			}
			return nil
		},
	}
	return cmd
}
