package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rafaeljc/nornir/internal/enrollment"
	"github.com/rafaeljc/nornir/internal/sampling"
)

func newSampleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Reproduce sampling decisions offline",
	}
	cmd.AddCommand(newSampleBucketCmd(), newSampleBranchCmd())
	return cmd
}

func newSampleBucketCmd() *cobra.Command {
	var (
		id  string
		cfg sampling.BucketConfig
	)

	cmd := &cobra.Command{
		Use:     "bucket",
		Short:   "Report whether a client falls into a bucket range",
		Example: `  nornir sample bucket --id user-1 --namespace ns --start 0 --count 100 --total 10000`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := sampling.IsInBucket(id, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "id=%s namespace=%s range=[%d,%d) total=%d in_bucket=%t\n",
				id, cfg.Namespace, cfg.Start, cfg.Start+cfg.Count, cfg.Total, in)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "randomization unit value (client or group id)")
	cmd.Flags().StringVar(&cfg.Namespace, "namespace", "", "bucket namespace")
	cmd.Flags().IntVar(&cfg.Start, "start", 0, "first bucket of the range")
	cmd.Flags().IntVar(&cfg.Count, "count", 0, "number of buckets in the range")
	cmd.Flags().IntVar(&cfg.Total, "total", 10000, "total number of buckets")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("namespace")
	_ = cmd.MarkFlagRequired("count")

	return cmd
}

func newSampleBranchCmd() *cobra.Command {
	var (
		engineID string
		userID   string
		slug     string
		ratios   []int
	)

	cmd := &cobra.Command{
		Use:     "branch",
		Short:   "Report which branch a client is assigned to",
		Example: `  nornir sample branch --user user-1 --slug exp1 --ratios 1,1`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			idx, err := sampling.ChooseBranch(enrollment.BranchInput(engineID, userID, slug), ratios)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "slug=%s user=%s branch_index=%d\n", slug, userID, idx)
			return nil
		},
	}

	cmd.Flags().StringVar(&engineID, "engine-id", "nornir", "engine id mixed into branch selection")
	cmd.Flags().StringVar(&userID, "user", "", "client id")
	cmd.Flags().StringVar(&slug, "slug", "", "recipe slug")
	cmd.Flags().IntSliceVar(&ratios, "ratios", nil, "branch ratios in branch order")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("slug")
	_ = cmd.MarkFlagRequired("ratios")

	return cmd
}
