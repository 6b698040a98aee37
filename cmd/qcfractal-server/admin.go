package main

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
)

var reapOlderThan string

// reapParser accepts the free-text cutoff expressions an operator would
// actually type ("3 days ago", "last week"), not just a Go duration
// literal, the same ergonomics gap the teacher's own --older-than flags
// (cmd/bd/purge.go, spec_cleanup.go) leave to a hand-rolled "7d" parser.
func reapParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// reapCmd is a manual escape hatch for the reaper step internal/orchestrator
// already runs every tick (HeartbeatReap): force-deactivate managers whose
// last heartbeat predates an operator-supplied cutoff and reset whatever
// they held, for an operator who doesn't want to wait out the configured
// heartbeat timeout.
func reapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Deactivate managers last seen before a cutoff and reset their assigned records",
		Long: `reap is the manual counterpart to the orchestrator's automatic
heartbeat reaper (spec §4.7): it deactivates every manager whose
modified_on predates --older-than and resets any record left running
under them back to waiting.`,
		RunE: runReap,
	}
	cmd.Flags().StringVar(&reapOlderThan, "older-than", "24 hours ago", "cutoff as a natural-language expression (e.g. \"3 days ago\", \"last week\")")
	return cmd
}

func runReap(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	ref := time.Now().UTC()
	result, err := reapParser().Parse(reapOlderThan, ref)
	if err != nil {
		return fmt.Errorf("reap: parse --older-than %q: %w", reapOlderThan, err)
	}
	if result == nil {
		return fmt.Errorf("reap: --older-than %q did not resolve to a time", reapOlderThan)
	}
	cutoff := result.Time

	st, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("reap: open store: %w", err)
	}
	defer st.Close()

	deactivated, err := st.DeactivateManagers(ctx, nil, &cutoff)
	if err != nil {
		return fmt.Errorf("reap: deactivate managers: %w", err)
	}
	if len(deactivated) == 0 {
		fmt.Printf("reap: no managers last seen before %s\n", cutoff.Format(time.RFC3339))
		return nil
	}

	reset, err := st.ResetAssigned(ctx, deactivated)
	if err != nil {
		return fmt.Errorf("reap: reset assigned records: %w", err)
	}
	fmt.Printf("reap: deactivated %d manager(s) last seen before %s, reset %d record(s)\n",
		len(deactivated), cutoff.Format(time.RFC3339), reset)
	return nil
}
