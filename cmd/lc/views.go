package main

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadcheck/leadcheck/internal/config"
	"github.com/leadcheck/leadcheck/internal/handoff"
	"github.com/leadcheck/leadcheck/internal/lifecycle"
	"github.com/leadcheck/leadcheck/internal/timeparsing"
	"github.com/leadcheck/leadcheck/internal/types"
)

var showCmd = &cobra.Command{
	Use:     "show <session-id>",
	GroupID: "views",
	Short:   "Show a session and its checklist",
	Long: `Show a session and its checklist. With --submission the argument is a
submission id and its open (or most recent) session is shown.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		bySubmission, _ := cmd.Flags().GetBool("submission")
		// The viewer is optional here; it only fills the next-actions hint.
		viewer := lifecycle.Actor{ID: config.GetString("actor")}
		if r, err := types.ParseRole(config.GetString("role")); err == nil {
			viewer.Role = r
		} else if a, ok := lookupAgent(viewer.ID); ok {
			viewer.Role = a.Role
		}

		o := getOrchestrator()
		var (
			out *handoff.Outcome
			err error
		)
		if bySubmission {
			out, err = o.GetSessionBySubmission(rootCtx, args[0], viewer)
		} else {
			out, err = o.GetSession(rootCtx, args[0], viewer)
		}
		if err != nil {
			fail(err)
		}
		report(out, true)
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "views",
	Short:   "List sessions (the dashboard view)",
	Long: `List sessions, most recently updated first. Completed sessions are hidden
unless --all is given or --status names them.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		filter, err := listFilter(cmd)
		if err != nil {
			FatalError("%v", err)
		}
		sessions, err := getOrchestrator().ListSessions(rootCtx, filter)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			if sessions == nil {
				sessions = []*types.Session{}
			}
			outputJSON(sessions)
			return
		}
		printSessions(os.Stdout, sessions)
	},
}

func listFilter(cmd *cobra.Command) (types.SessionFilter, error) {
	var filter types.SessionFilter
	statuses, _ := cmd.Flags().GetStringSlice("status")
	for _, raw := range statuses {
		st, err := types.ParseStatus(strings.TrimSpace(raw))
		if err != nil {
			return filter, err
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	if raw, _ := cmd.Flags().GetString("label"); raw != "" {
		l, err := types.ParseProgressLabel(raw)
		if err != nil {
			return filter, err
		}
		filter.MinLabel = l
	}
	filter.AgentID, _ = cmd.Flags().GetString("agent")
	filter.SubmissionID, _ = cmd.Flags().GetString("submission")
	filter.IncludeCompleted, _ = cmd.Flags().GetBool("all")
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	return filter, nil
}

var agentsCmd = &cobra.Command{
	Use:     "agents",
	GroupID: "views",
	Short:   "List roster agents",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var role types.Role
		if raw, _ := cmd.Flags().GetString("filter-role"); raw != "" {
			r, err := types.ParseRole(raw)
			if err != nil {
				FatalError("%v", err)
			}
			role = r
		}
		agents := getOrchestrator().Agents(role)
		if jsonOutput {
			outputJSON(agents)
			return
		}
		printAgents(os.Stdout, agents)
	},
}

var eventsCmd = &cobra.Command{
	Use:     "events [session-id]",
	GroupID: "views",
	Short:   "Show the audit trail, oldest first",
	Long: `Show session events. Without a session id, events across all sessions are
listed. --since accepts 2h, 1d, a date, RFC3339 or phrases like "3 hours ago".`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var since time.Time
		if raw, _ := cmd.Flags().GetString("since"); raw != "" {
			t, err := timeparsing.ParseSince(raw, time.Now())
			if err != nil {
				FatalError("%v", err)
			}
			since = t
		}
		limit, _ := cmd.Flags().GetInt("limit")
		sessionID := ""
		if len(args) == 1 {
			sessionID = args[0]
		}
		events, err := getOrchestrator().ListEvents(rootCtx, sessionID, since, limit)
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			if events == nil {
				events = []*types.Event{}
			}
			outputJSON(events)
			return
		}
		printEvents(os.Stdout, events)
	},
}

func init() {
	showCmd.Flags().Bool("submission", false, "Treat the argument as a submission id")

	listCmd.Flags().StringSlice("status", nil, "Only these statuses (comma-separated)")
	listCmd.Flags().String("label", "", `Minimum progress band, e.g. "Nearly Complete" or nearly-complete`)
	listCmd.Flags().String("agent", "", "Sessions owned by or assigned to this agent")
	listCmd.Flags().String("submission", "", "Sessions for this submission")
	listCmd.Flags().Bool("all", false, "Include completed sessions")
	listCmd.Flags().Int("limit", 50, "Maximum sessions to show (0 = no limit)")

	agentsCmd.Flags().String("filter-role", "", "Only agents with this role")

	eventsCmd.Flags().String("since", "", "Only events at or after this time")
	eventsCmd.Flags().Int("limit", 100, "Maximum events to show (0 = no limit)")

	rootCmd.AddCommand(showCmd, listCmd, agentsCmd, eventsCmd)
}
