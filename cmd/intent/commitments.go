package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/boshu2/intent/internal/commitment"
	"github.com/boshu2/intent/internal/formatter"
	"github.com/boshu2/intent/internal/heartbeat"
	"github.com/boshu2/intent/internal/vault"
)

var (
	cmtListState   string
	cmtAddPriority int
	cmtAddHorizon  string
	cmtAddSource   string
	cmtAcceptTo    string
	cmtSignalScore float64
)

var commitmentsCmd = &cobra.Command{
	Use:   "commitments",
	Short: "Inspect and steer commitments",
	Long: `Work with ops/commitments.json.

The engine evaluates commitments every cycle and proposes lifecycle
transitions, but it never applies one on its own. Accepting or ignoring
a proposal is yours.`,
}

var commitmentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List commitments",
	RunE:  runCommitmentsList,
}

var commitmentsAddCmd = &cobra.Command{
	Use:   "add <label>",
	Short: "Add a candidate commitment",
	Long: `Add a commitment in the candidate state. The engine starts scoring it
against observed activity immediately; promote it with
'intent commitments accept <id> --to active' once it is real.`,
	Args: cobra.ExactArgs(1),
	RunE: runCommitmentsAdd,
}

var commitmentsAcceptCmd = &cobra.Command{
	Use:   "accept <id>",
	Short: "Apply a proposed state transition",
	Long: `Apply a lifecycle transition to a commitment, recorded as proposed by
a human.

Without --to, the transition comes from the engine's most recent cycle
record: whatever the evaluator proposed for this commitment. With --to,
the target state is explicit and no proposal is needed.`,
	Args: cobra.ExactArgs(1),
	RunE: runCommitmentsAccept,
}

var commitmentsSignalCmd = &cobra.Command{
	Use:   "signal <id> <action>",
	Short: "Record an advancement signal",
	Long: `Record that something happened for a commitment: a session, a shipped
artifact, a conversation. Scores above 0.5 count as real advancement
and reset the staleness clock.`,
	Args: cobra.ExactArgs(2),
	RunE: runCommitmentsSignal,
}

func init() {
	commitmentsListCmd.Flags().StringVar(&cmtListState, "state", "", "Only commitments in this state")
	commitmentsAddCmd.Flags().IntVar(&cmtAddPriority, "priority", 1, "Priority (1 = highest)")
	commitmentsAddCmd.Flags().StringVar(&cmtAddHorizon, "horizon", string(commitment.HorizonWeek), "Horizon (session, week, quarter, long)")
	commitmentsAddCmd.Flags().StringVar(&cmtAddSource, "source", "human", "Where the commitment came from")
	commitmentsAcceptCmd.Flags().StringVar(&cmtAcceptTo, "to", "", "Target state (candidate proposals resolve from the last cycle when omitted)")
	commitmentsSignalCmd.Flags().Float64Var(&cmtSignalScore, "score", 0.7, "Relevance score in [0,1]")
	commitmentsCmd.AddCommand(commitmentsListCmd, commitmentsAddCmd, commitmentsAcceptCmd, commitmentsSignalCmd)
	rootCmd.AddCommand(commitmentsCmd)
}

func runCommitmentsList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	f, err := commitment.NewStore(store, logger).Load()
	if err != nil {
		return err
	}

	commitments := f.Commitments
	if cmtListState != "" {
		filtered := commitments[:0:0]
		for _, c := range commitments {
			if string(c.State) == cmtListState {
				filtered = append(filtered, c)
			}
		}
		commitments = filtered
	}

	if GetOutput() == "json" {
		return printJSON(commitments)
	}
	if len(commitments) == 0 {
		fmt.Println("No commitments. Add one with 'intent commitments add \"...\"'.")
		return nil
	}
	return formatter.CommitmentTable(os.Stdout, commitments)
}

func runCommitmentsAdd(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	horizon := commitment.Horizon(cmtAddHorizon)
	switch horizon {
	case commitment.HorizonSession, commitment.HorizonWeek, commitment.HorizonQuarter, commitment.HorizonLong:
	default:
		return fmt.Errorf("invalid horizon %q (valid: session, week, quarter, long)", cmtAddHorizon)
	}

	var created commitment.Commitment
	err = commitment.NewStore(store, logger).Update(cmd.Context(), func(f *commitment.File) error {
		created = commitment.NewCommitment(args[0], cmtAddPriority, horizon, cmtAddSource, f.Commitments, time.Now().UTC())
		f.Commitments = append(f.Commitments, created)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("✓ Added %s (%s, %s horizon, candidate)\n", created.ID, created.Label, created.Horizon)
	return nil
}

func runCommitmentsAccept(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	id := args[0]

	to := commitment.State(cmtAcceptTo)
	reason := "accepted by human"
	if cmtAcceptTo == "" {
		proposal, err := latestProposal(store, id)
		if err != nil {
			return err
		}
		to = proposal.To
		reason = "accepted proposal: " + proposal.Reason
	} else {
		switch to {
		case commitment.StateCandidate, commitment.StateActive, commitment.StatePaused,
			commitment.StateSatisfied, commitment.StateAbandoned:
		default:
			return fmt.Errorf("invalid state %q (valid: candidate, active, paused, satisfied, abandoned)", cmtAcceptTo)
		}
	}

	err = commitment.NewStore(store, logger).Update(cmd.Context(), func(f *commitment.File) error {
		c := f.Find(id)
		if c == nil {
			return fmt.Errorf("no commitment %q", id)
		}
		return commitment.RecordStateTransition(c, to, reason, commitment.ActorHuman, time.Now().UTC())
	})
	if err != nil {
		return err
	}
	fmt.Printf("✓ %s is now %s\n", id, to)
	return nil
}

func runCommitmentsSignal(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	id, action := args[0], args[1]
	if cmtSignalScore < 0 || cmtSignalScore > 1 {
		return fmt.Errorf("score must be in [0,1], got %g", cmtSignalScore)
	}

	err = commitment.NewStore(store, logger).Update(cmd.Context(), func(f *commitment.File) error {
		c := f.Find(id)
		if c == nil {
			return fmt.Errorf("no commitment %q", id)
		}
		commitment.RecordAdvancementSignal(c, action, cmtSignalScore, commitment.MethodDirect, time.Now().UTC())
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("✓ Recorded signal for %s (%.2f): %s\n", id, cmtSignalScore, action)
	return nil
}

// latestProposal digs the newest cycle record out of ops/runtime/cycles/
// and returns its proposed transition for the given commitment.
func latestProposal(store *vault.Store, id string) (*commitment.Proposal, error) {
	names, err := store.ListDir(vault.CyclesDir)
	if err != nil || len(names) == 0 {
		return nil, fmt.Errorf("no cycle records; run 'intent heartbeat' first or pass --to")
	}
	sort.Strings(names)
	newest := names[len(names)-1]

	data, ok, err := store.Read(path.Join(vault.CyclesDir, newest))
	if err != nil || !ok {
		return nil, fmt.Errorf("cycle record %s unreadable; pass --to", newest)
	}
	var res heartbeat.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("cycle record %s malformed: %w", newest, err)
	}
	// Only the newest record speaks for the evaluator.
	for _, ev := range res.Evaluations {
		if ev.CommitmentID == id && ev.ProposedTransition != nil {
			return ev.ProposedTransition, nil
		}
	}
	return nil, fmt.Errorf("last cycle proposed nothing for %q; pass --to <state>", id)
}
