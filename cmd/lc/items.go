package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/leadcheck/leadcheck/internal/handoff"
)

var verifyCmd = &cobra.Command{
	Use:     "verify <item-id>...",
	GroupID: "session",
	Short:   "Mark checklist fields verified (or --undo)",
	Args:    cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		undo, _ := cmd.Flags().GetBool("undo")
		actor := currentActor()
		o := getOrchestrator()
		var out *handoff.Outcome
		for _, arg := range args {
			var err error
			out, err = o.RecordFieldVerification(rootCtx, actor, parseItemID(arg), !undo)
			if err != nil {
				fail(err)
			}
		}
		report(out, false)
	},
}

var setValueCmd = &cobra.Command{
	Use:     "set-value <item-id> <value>",
	GroupID: "session",
	Short:   "Correct a field's value during the call",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		actor := currentActor()
		out, err := getOrchestrator().UpdateFieldValue(rootCtx, actor, parseItemID(args[0]), args[1])
		if err != nil {
			fail(err)
		}
		report(out, false)
	},
}

func parseItemID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		FatalError("invalid item id %q", s)
	}
	return id
}

func init() {
	verifyCmd.Flags().Bool("undo", false, "Clear the verified mark instead")
	rootCmd.AddCommand(verifyCmd, setValueCmd)
}
