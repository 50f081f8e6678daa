package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/alfredjeanlab/coherence/internal/client"
	"github.com/alfredjeanlab/coherence/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

func printTaskTable(w io.Writer, tasks []*client.Task) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tPRIORITY\tREWARD\tCLAIM\tACTION")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t%s\t%s\n",
			t.TaskID,
			t.Type,
			t.Priority,
			t.CoherenceReward,
			t.TargetClaimID,
			t.AgentAction.Skill+"/"+t.AgentAction.Action,
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d open tasks\n", len(tasks))
}

func printTask(w io.Writer, t *client.Task) {
	fmt.Fprintf(w, "ID:          %s\n", t.TaskID)
	fmt.Fprintf(w, "Type:        %s\n", t.Type)
	fmt.Fprintf(w, "Status:      %s\n", ui.RenderStatus(string(t.Status)))
	fmt.Fprintf(w, "Priority:    %.2f\n", t.Priority)
	fmt.Fprintf(w, "Reward:      %d\n", t.CoherenceReward)
	if t.TargetClaimID != "" {
		fmt.Fprintf(w, "Claim:       %s\n", t.TargetClaimID)
	}
	if t.AssignedAgentID != "" {
		fmt.Fprintf(w, "Assigned To: %s\n", t.AssignedAgentID)
	}
	fmt.Fprintf(w, "Sandbox:     %s\n", t.Constraints.Sandbox)
	fmt.Fprintf(w, "Time Budget: %ds\n", t.Constraints.TimeBudgetSec)
	fmt.Fprintf(w, "Action:      %s/%s\n", t.AgentAction.Skill, t.AgentAction.Action)
	if !t.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created At:  %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if r := t.Result; r != nil {
		outcome := "success"
		if !r.Success {
			outcome = "failure"
		}
		fmt.Fprintf(w, "Result:      %s\n", outcome)
		if r.Summary != "" {
			fmt.Fprintf(w, "Summary:     %s\n", r.Summary)
		}
		if len(r.EvidenceIDs) > 0 {
			fmt.Fprintf(w, "Evidence:    %s\n", strings.Join(r.EvidenceIDs, ", "))
		}
		if len(r.NewClaimIDs) > 0 {
			fmt.Fprintf(w, "New Claims:  %s\n", strings.Join(r.NewClaimIDs, ", "))
		}
	}
}

func printAgent(w io.Writer, a *client.Agent) {
	fmt.Fprintf(w, "ID:          %s\n", a.AgentID)
	fmt.Fprintf(w, "Name:        %s\n", a.DisplayName)
	if a.Pubkey != "" {
		fmt.Fprintf(w, "Pubkey:      %s\n", a.Pubkey)
	}
	if a.NodeURL != "" {
		fmt.Fprintf(w, "Node URL:    %s\n", a.NodeURL)
	}
	fmt.Fprintf(w, "Stake Tier:  %s\n", a.StakeTier)
	fmt.Fprintf(w, "Verified:    %t\n", a.IsVerified)
	fmt.Fprintf(w, "Active:      %t\n", a.Active)
	if len(a.Domains) > 0 {
		fmt.Fprintf(w, "Domains:     %s\n", strings.Join(a.Domains, ", "))
	}
	fmt.Fprintf(w, "Rate Limit:  %d/hour\n", a.Capabilities.MaxActionsPerHour)
	rep := a.Reputation
	fmt.Fprintf(w, "Reputation:  calibration %.2f, reliability %.2f, constructiveness %.2f, security %.2f\n",
		rep.Calibration, rep.Reliability, rep.Constructiveness, rep.SecurityHygiene)
}

// formatFrame renders one stream frame as a single line.
func formatFrame(f client.Frame) string {
	if f.Type == "connected" {
		return ui.RenderMuted(fmt.Sprintf("connected (request %s)", f.RequestID))
	}
	ts := ""
	if !f.CreatedAt.IsZero() {
		ts = f.CreatedAt.Format("15:04:05") + " "
	}
	var target []string
	if f.TargetTaskID != "" {
		target = append(target, "task="+f.TargetTaskID)
	}
	if f.TargetClaimID != "" {
		target = append(target, "claim="+f.TargetClaimID)
	}
	if f.SourceAgentID != "" {
		target = append(target, "agent="+f.SourceAgentID)
	}
	line := fmt.Sprintf("%s#%d %s", ui.RenderMuted(ts), f.ID, ui.RenderEventType(f.EventType))
	if len(target) > 0 {
		line += " " + strings.Join(target, " ")
	}
	if len(f.Payload) > 0 && string(f.Payload) != "null" {
		line += " " + ui.RenderMuted(truncate(string(f.Payload), 120))
	}
	return line
}
