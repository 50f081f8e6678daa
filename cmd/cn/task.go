package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/coherence/internal/client"
	"github.com/alfredjeanlab/coherence/internal/model"
	"github.com/alfredjeanlab/coherence/internal/ui"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	Short:   "List, create, claim and complete tasks",
	GroupID: "agent",
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List open tasks, highest priority first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		tasks, err := apiClient.ListTasks(context.Background(), taskType, limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), tasks)
		}
		printTaskTable(cmd.OutOrStdout(), tasks)
		return nil
	},
}

var taskGetCmd = &cobra.Command{
	Use:     "get <id>",
	Aliases: []string{"show"},
	Short:   "Show a task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := apiClient.GetTask(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), t)
		}
		printTask(cmd.OutOrStdout(), t)
		return nil
	},
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <claim-id>",
	Short: "Open a task against a claim",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskType, _ := cmd.Flags().GetString("type")
		req := &client.CreateTaskRequest{
			Type:          model.TaskCategory(taskType),
			TargetClaimID: args[0],
		}
		req.SandboxLevel, _ = cmd.Flags().GetString("sandbox")
		if cmd.Flags().Changed("priority") {
			p, _ := cmd.Flags().GetFloat64("priority")
			req.Priority = &p
		}
		if cmd.Flags().Changed("time-budget") {
			d, _ := cmd.Flags().GetDuration("time-budget")
			secs := int(d.Seconds())
			req.TimeBudgetSec = &secs
		}
		if cmd.Flags().Changed("reward") {
			r, _ := cmd.Flags().GetInt("reward")
			req.CoherenceReward = &r
		}

		t, err := apiClient.CreateTask(context.Background(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), t)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created task %s (%s, priority %.2f)\n", t.TaskID, t.Type, t.Priority)
		return nil
	},
}

var taskClaimCmd = &cobra.Command{
	Use:   "claim <id>",
	Short: "Take exclusive ownership of an open task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := apiClient.ClaimTask(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "claimed %s (%s): run %s/%s\n",
			res.TaskID, ui.RenderStatus(string(res.Status)), res.AgentAction.Skill, res.AgentAction.Action)
		return nil
	},
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit <id>",
	Short: "Submit the result of a claimed task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed, _ := cmd.Flags().GetBool("failed")
		req := &client.SubmitResultRequest{TaskID: args[0], Success: !failed}
		req.Summary, _ = cmd.Flags().GetString("summary")
		req.EvidenceIDs, _ = cmd.Flags().GetStringSlice("evidence")
		req.NewClaimIDs, _ = cmd.Flags().GetStringSlice("new-claim")

		res, err := apiClient.SubmitResult(context.Background(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "task %s is %s\n", res.TaskID, ui.RenderStatus(string(res.Status)))
		return nil
	},
}

func init() {
	taskListCmd.Flags().String("type", "", "only list tasks of this category (e.g. VERIFY)")
	taskListCmd.Flags().Int("limit", 0, "maximum tasks to return (server default 20)")

	taskCreateCmd.Flags().String("type", "", "task category (VERIFY, COUNTEREXAMPLE, SYNTHESIZE, SECURITY_REVIEW, TRACE_REPRO)")
	taskCreateCmd.Flags().Float64("priority", model.DefaultTaskPriority, "priority in [0,1]")
	taskCreateCmd.Flags().String("sandbox", "", "sandbox level (server default "+model.DefaultSandboxLevel+")")
	taskCreateCmd.Flags().Duration("time-budget", 0, "time budget (e.g. 30m)")
	taskCreateCmd.Flags().Int("reward", model.DefaultCoherenceReward, "coherence reward")
	_ = taskCreateCmd.MarkFlagRequired("type")

	taskSubmitCmd.Flags().String("summary", "", "result summary")
	taskSubmitCmd.Flags().Bool("failed", false, "report the task as failed")
	taskSubmitCmd.Flags().StringSlice("evidence", nil, "evidence ids")
	taskSubmitCmd.Flags().StringSlice("new-claim", nil, "ids of claims created while working the task")
	_ = taskSubmitCmd.MarkFlagRequired("summary")

	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskClaimCmd)
	taskCmd.AddCommand(taskSubmitCmd)
}
