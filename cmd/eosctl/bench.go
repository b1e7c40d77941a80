package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/eosctl/internal/session"
)

// benchCase measures one parameter operation. Set cases flick between the
// extremes of the range so every call is a real write.
type benchCase struct {
	name string
	run  func(ctx context.Context, s *session.Session, i int) error
}

func benchCases() []benchCase {
	flick := func(i int, a, b string) string {
		if i%2 == 0 {
			return a
		}
		return b
	}
	return []benchCase{
		{"get aperture", func(ctx context.Context, s *session.Session, i int) error {
			_, err := s.Aperture()
			return err
		}},
		{"set aperture", func(ctx context.Context, s *session.Session, i int) error {
			_, err := s.SetAperture(ctx, flick(i, "2.8", "32"))
			return err
		}},
		{"get shutterspeed", func(ctx context.Context, s *session.Session, i int) error {
			_, err := s.ShutterSpeed()
			return err
		}},
		{"set shutterspeed", func(ctx context.Context, s *session.Session, i int) error {
			_, err := s.SetShutterSpeed(ctx, flick(i, "1/50", "1/2000"))
			return err
		}},
	}
}

// runBench runs every case n times and reports the mean latency.
func runBench(ctx context.Context, s *session.Session, out io.Writer, n int) error {
	fmt.Fprintf(out, "mode: %s, %d runs per case\n", s.Mode(), n)
	for _, bc := range benchCases() {
		var total time.Duration
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			if err := bc.run(ctx, s, i); err != nil {
				return fmt.Errorf("%s: %w", bc.name, err)
			}
			total += time.Since(start)
		}
		fmt.Fprintf(out, "%-18s avg %v\n", bc.name, total/time.Duration(n))
	}
	return nil
}

func (a *app) benchCommand() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure get/set latency of aperture and shutter speed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if n <= 0 {
				return fmt.Errorf("runs must be > 0, got %d", n)
			}
			return a.withSession(cmd, func(ctx context.Context, s *session.Session, out io.Writer) error {
				return runBench(ctx, s, out, n)
			})
		},
	}
	cmd.Flags().IntVarP(&n, "runs", "n", 25, "runs per case")
	return cmd
}
