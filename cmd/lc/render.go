package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/leadcheck/leadcheck/internal/handoff"
	"github.com/leadcheck/leadcheck/internal/roster"
	"github.com/leadcheck/leadcheck/internal/types"
	"github.com/leadcheck/leadcheck/internal/ui"
)

const timeLayout = "2006-01-02 15:04:05"

func printOutcome(w io.Writer, out *handoff.Outcome, withItems bool) {
	s := out.Session
	if out.Noop {
		fmt.Fprintf(w, "%s nothing changed\n", ui.RenderMuted(ui.IconSkip))
	}
	if s == nil {
		fmt.Fprintln(w, "  no verification session")
		return
	}
	fmt.Fprintf(w, "%s  %s  %s\n", ui.RenderAccent(s.ID), ui.RenderStatus(s.Status), ui.RenderProgress(out.Progress))
	fmt.Fprintf(w, "  submission %s  owner %s\n", s.SubmissionID, ownerLabel(s))
	if s.BufferAgentID != "" || s.LicensedAgentID != "" {
		fmt.Fprintf(w, "  buffer %s  licensed %s\n", orDash(s.BufferAgentID), orDash(s.LicensedAgentID))
	}
	if s.IsRetentionCall {
		fmt.Fprintf(w, "  %s %s\n", ui.RenderWarn("retention"), s.RetentionType)
	}
	fmt.Fprintf(w, "  %s %d/%d\n", ui.ProgressBar(out.Progress, 24), s.VerifiedFields, s.TotalFields)

	if out.Item != nil {
		printItem(w, out.Item)
	}
	if withItems && len(out.Items) > 0 {
		fmt.Fprintln(w, ui.RenderSeparator())
		for _, it := range out.Items {
			printItem(w, it)
		}
	}
	if len(out.Available) > 0 {
		names := make([]string, len(out.Available))
		for i, a := range out.Available {
			names[i] = string(a)
		}
		fmt.Fprintf(w, "  %s %s\n", ui.RenderMuted("next:"), strings.Join(names, ", "))
	}
	for _, warn := range out.Warnings {
		fmt.Fprintf(w, "%s %s\n", ui.RenderWarnIcon(), warn)
	}
}

func printItem(w io.Writer, it *types.Item) {
	value := it.OriginalValue
	if it.IsModified {
		value = fmt.Sprintf("%s %s %s", ui.RenderMuted(ui.Truncate(it.OriginalValue, 24)), ui.RenderMuted("→"), it.VerifiedValue)
	}
	fmt.Fprintf(w, "  %s %5d  %-32s %s\n", ui.RenderCheck(it.IsVerified), it.ID, it.FieldName, value)
}

func ownerLabel(s *types.Session) string {
	if !s.Owned() {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", s.OwnerID, s.OwnerRole)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printSessions(w io.Writer, sessions []*types.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("no sessions"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSUBMISSION\tSTATUS\tOWNER\tPROGRESS\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, ui.Truncate(s.SubmissionID, 20), s.Status, ownerLabel(s),
			fmt.Sprintf("%d%% %s", s.ProgressPercentage, s.Progress().Label),
			s.UpdatedAt.Local().Format(timeLayout))
	}
	_ = tw.Flush()
}

func printEvents(w io.Writer, events []*types.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("no events"))
		return
	}
	for _, e := range events {
		line := fmt.Sprintf("%s  %-14s %-10s", e.CreatedAt.Local().Format(timeLayout), e.Type, e.Actor)
		if e.OldStatus != "" || e.NewStatus != "" {
			line += fmt.Sprintf(" %s → %s", orDash(string(e.OldStatus)), orDash(string(e.NewStatus)))
		}
		if e.Detail != "" {
			line += "  " + ui.RenderMuted(e.Detail)
		}
		fmt.Fprintf(w, "%s  %s\n", ui.RenderMuted(e.SessionID), line)
	}
}

func printAgents(w io.Writer, agents []roster.Agent) {
	if len(agents) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("no agents in roster"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROLE\tEMAIL")
	for _, a := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Role, orDash(a.Email))
	}
	_ = tw.Flush()
}
