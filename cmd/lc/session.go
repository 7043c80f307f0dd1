package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/leadcheck/leadcheck/internal/handoff"
	"github.com/leadcheck/leadcheck/internal/lifecycle"
	"github.com/leadcheck/leadcheck/internal/types"
)

var claimCmd = &cobra.Command{
	Use:     "claim <submission-id>",
	GroupID: "session",
	Short:   "Claim a lead for a verification call",
	Long: `Claim a lead. With a submission id the open session is claimed, or a new
one is created from the lead record. Use --session to claim by session id
(for example a transferred session awaiting a licensed agent).`,
	Args: cobra.RangeArgs(0, 1),
	Run: func(cmd *cobra.Command, args []string) {
		sessionID, _ := cmd.Flags().GetString("session")
		retention, _ := cmd.Flags().GetString("retention-type")
		notes, _ := cmd.Flags().GetString("notes")

		req := types.ClaimRequest{SessionID: sessionID, RetentionType: retention, Notes: notes}
		if len(args) == 1 {
			req.SubmissionID = args[0]
		}
		if req.SessionID == "" && req.SubmissionID == "" {
			FatalError("claim needs a submission id or --session")
		}
		actor := currentActor()
		req.AgentID = actor.ID
		req.Role = actor.Role

		out, err := getOrchestrator().ClaimSession(rootCtx, req)
		if err != nil {
			fail(err)
		}
		report(out, true)
	},
}

type transitionFunc func(*handoff.Orchestrator, context.Context, lifecycle.Actor, string) (*handoff.Outcome, error)

// transitionCmd builds the owner-only transition commands: one session id,
// the acting agent, an Outcome.
func transitionCmd(use, short string, op transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:     use + " <session-id>",
		GroupID: "session",
		Short:   short,
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			actor := currentActor()
			out, err := op(getOrchestrator(), rootCtx, actor, args[0])
			if err != nil {
				fail(err)
			}
			report(out, false)
		},
	}
}

var (
	dropCmd     = transitionCmd("drop", "Report that the call dropped (back to the pool)", (*handoff.Orchestrator).ReportDropped)
	finishCmd   = transitionCmd("finish", "Finish your own call without escalation", (*handoff.Orchestrator).FinishOwnCall)
	transferCmd = transitionCmd("transfer", "Hand the lead to a licensed agent", (*handoff.Orchestrator).TransferToLicensed)
	deferCmd    = transitionCmd("defer", "Release the lead to another licensed agent", (*handoff.Orchestrator).DeferToOtherLicensed)
)

var closeCmd = &cobra.Command{
	Use:     "close <submission-id>",
	GroupID: "session",
	Short:   "Close the session for a submission (call-result intake)",
	Long: `Mark the submission's session completed. Closing a submission whose
session is already completed changes nothing.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		source, _ := cmd.Flags().GetString("source")
		out, err := getOrchestrator().CloseOnSubmission(rootCtx, args[0], source)
		if err != nil {
			fail(err)
		}
		report(out, false)
	},
}

func report(out *handoff.Outcome, withItems bool) {
	if jsonOutput {
		outputJSON(out)
		return
	}
	printOutcome(os.Stdout, out, withItems)
}

func init() {
	claimCmd.Flags().String("session", "", "Claim by session id")
	claimCmd.Flags().String("retention-type", "", "Retention call type (retention agents)")
	claimCmd.Flags().String("notes", "", "Notes stored on the session")
	closeCmd.Flags().String("source", handoff.IntakeActor, "Who reported the call result")
	transferCmd.Aliases = []string{"handoff"}

	rootCmd.AddCommand(claimCmd, dropCmd, finishCmd, transferCmd, deferCmd, closeCmd)
}
