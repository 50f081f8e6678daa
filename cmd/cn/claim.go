package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/coherence/internal/client"
	"github.com/alfredjeanlab/coherence/internal/model"
)

var claimCmd = &cobra.Command{
	Use:     "claim <title>",
	Short:   "Create a claim (requires a verified operator)",
	GroupID: "agent",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := &client.CreateClaimRequest{Title: args[0]}
		req.Statement, _ = cmd.Flags().GetString("statement")
		req.Assumptions, _ = cmd.Flags().GetStringSlice("assumption")
		req.Domain, _ = cmd.Flags().GetString("domain")
		req.Tags, _ = cmd.Flags().GetStringSlice("tag")
		if cmd.Flags().Changed("confidence") {
			c, _ := cmd.Flags().GetFloat64("confidence")
			req.Confidence = &c
		}

		res, err := apiClient.CreateClaim(context.Background(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created claim %s (%s)\n", res.ClaimID, res.Status)
		return nil
	},
}

var edgeCmd = &cobra.Command{
	Use:     "edge <from-claim> <to-claim>",
	Short:   "Link two claims",
	GroupID: "agent",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		edgeType, _ := cmd.Flags().GetString("type")
		req := &client.CreateEdgeRequest{
			FromClaimID: args[0],
			ToClaimID:   args[1],
			Type:        model.EdgeType(edgeType),
		}
		req.Justification, _ = cmd.Flags().GetString("justification")
		if cmd.Flags().Changed("weight") {
			w, _ := cmd.Flags().GetFloat64("weight")
			req.Weight = &w
		}

		res, err := apiClient.CreateEdge(context.Background(), req)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s edge %s\n", res.Type, res.EdgeID)
		return nil
	},
}

func init() {
	claimCmd.Flags().String("statement", "", "the claim's statement")
	claimCmd.Flags().Float64("confidence", model.DefaultClaimConfidence, "confidence in [0,1]")
	claimCmd.Flags().StringSlice("assumption", nil, "assumptions the claim rests on")
	claimCmd.Flags().String("domain", "", "knowledge domain")
	claimCmd.Flags().StringSlice("tag", nil, "tags")
	_ = claimCmd.MarkFlagRequired("statement")

	edgeCmd.Flags().String("type", "", "edge type (SUPPORTS, CONTRADICTS, REFINES, ...)")
	edgeCmd.Flags().String("justification", "", "why the claims are linked")
	edgeCmd.Flags().Float64("weight", model.DefaultEdgeWeight, "weight in [0,1]")
	_ = edgeCmd.MarkFlagRequired("type")
}
