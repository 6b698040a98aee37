package main

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MolSSI/QCFractal-sub003/internal/idgen"
	"github.com/MolSSI/QCFractal-sub003/internal/types"
)

var (
	mgrCluster  string
	mgrHostname string
	mgrPrograms []string
	mgrTags     []string
	mgrLimit    int
	mgrRounds   int
	mgrPoll     time.Duration
)

// managerCmd is a reference implementation of the manager side of the
// spec §6 wire contract: activate, then loop claim -> execute -> return
// -> heartbeat until a fixed round count (or forever, rounds=0) or a
// signal. It exists to exercise the core's claim/return path end to end
// in integration tests and demos, not as a production compute driver —
// "execution" here is a stand-in arithmetic reduction over the claimed
// task's molecule ids, not a call into any real QC engine (spec §1:
// engines are out of scope).
func managerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manager",
		Short: "Run a reference manager driving the spec §6 wire contract",
		Long: `manager activates against the configured backend, then repeatedly
claims available tasks, "executes" them with a deterministic stand-in
reduction over their molecule ids, returns the result, and heartbeats.
It is the integration-test double for a real compute manager, which
would call an external QC engine instead.`,
		RunE: runManager,
	}
	cmd.Flags().StringVar(&mgrCluster, "cluster", "local", "manager cluster name")
	cmd.Flags().StringVar(&mgrHostname, "hostname", hostnameOrDefault(), "manager hostname")
	cmd.Flags().StringSliceVar(&mgrPrograms, "programs", []string{"psi4", "geometric", "qcengine"}, "programs this manager offers")
	cmd.Flags().StringSliceVar(&mgrTags, "tags", []string{"*"}, "compute tags this manager serves, in priority order")
	cmd.Flags().IntVar(&mgrLimit, "limit", 10, "max tasks claimed per round")
	cmd.Flags().IntVar(&mgrRounds, "rounds", 0, "number of claim/return rounds to run (0 = run until interrupted)")
	cmd.Flags().DurationVar(&mgrPoll, "poll-interval", 2*time.Second, "delay between rounds that found no claimable work")
	return cmd
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

func runManager(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStore(ctx)
	if err != nil {
		return fmt.Errorf("manager: open store: %w", err)
	}
	defer st.Close()

	programs := make(map[string]string, len(mgrPrograms))
	for _, p := range mgrPrograms {
		programs[strings.ToLower(strings.TrimSpace(p))] = ""
	}

	m := &types.Manager{
		Cluster:  mgrCluster,
		Hostname: mgrHostname,
		UUID:     idgen.NewUUID(),
		Version:  "0.1.0",
		Username: os.Getenv("USER"),
		Programs: programs,
		Tags:     mgrTags,
	}
	if err := st.ActivateManager(ctx, m); err != nil {
		return fmt.Errorf("manager: activate: %w", err)
	}
	fmt.Fprintf(os.Stderr, "manager %s activated (programs=%v tags=%v)\n", m.Name, mgrPrograms, mgrTags)

	round := 0
	for {
		if mgrRounds > 0 && round >= mgrRounds {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		claimed, err := st.ClaimTasks(ctx, m.Name, programs, mgrTags, mgrLimit)
		if err != nil {
			return fmt.Errorf("manager: claim: %w", err)
		}

		counters := types.ManagerCounters{ActiveTasks: len(claimed)}
		if len(claimed) == 0 {
			if err := st.Heartbeat(ctx, m.Name, counters); err != nil {
				return fmt.Errorf("manager: heartbeat: %w", err)
			}
			round++
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(mgrPoll):
			}
			continue
		}

		results := make(map[int64]types.ResultEnvelope, len(claimed))
		for _, task := range claimed {
			results[task.RecordID] = executeStandIn(task)
		}
		outcomes, err := st.ReturnResults(ctx, m.Name, results)
		if err != nil {
			return fmt.Errorf("manager: return: %w", err)
		}
		for id, err := range outcomes {
			if err != nil {
				fmt.Fprintf(os.Stderr, "manager: return for record %d rejected: %v\n", id, err)
				counters.Rejected++
			} else if results[id].Success != nil {
				counters.Successes++
			} else {
				counters.Failures++
			}
		}
		counters.Claimed = int64(len(claimed))
		if err := st.Heartbeat(ctx, m.Name, counters); err != nil {
			return fmt.Errorf("manager: heartbeat: %w", err)
		}

		summary, _ := yaml.Marshal(map[string]interface{}{
			"round":     round,
			"claimed":   len(claimed),
			"successes": counters.Successes,
			"failures":  counters.Failures,
			"rejected":  counters.Rejected,
		})
		fmt.Fprint(os.Stderr, string(summary))
		round++
	}
}

// executeStandIn produces a deterministic, always-succeeding result for
// a claimed task: 0.01 times the sum of the absolute values of the
// molecule ids in its args ("molecule_ids", or the single "molecule_id"),
// a placeholder for whatever numeric result a real QC engine would have
// returned. It
// never fails — round-tripping the wire contract's success path is the
// point; a real manager driver would additionally model ComputeFailure.
func executeStandIn(task types.ClaimedTask) types.ResultEnvelope {
	var moleculeIDs []interface{}
	if args, ok := task.Args.(map[string]interface{}); ok {
		if ids, ok := args["molecule_ids"].([]interface{}); ok {
			moleculeIDs = ids
		} else if id, ok := args["molecule_id"]; ok {
			moleculeIDs = []interface{}{id}
		}
	}
	energy := 0.0
	for i, id := range moleculeIDs {
		if f, ok := id.(float64); ok {
			energy += math.Abs(f) * 0.01
		}
		_ = i
	}
	return types.ResultEnvelope{
		Success: &types.SuccessPayload{
			Provenance: map[string]interface{}{
				"creator": "qcfractal-server manager (reference driver)",
				"version": "0.1.0",
			},
			ReturnResult: energy,
		},
	}
}
