package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/thannaske/s3tracker/pkg/access"
	"github.com/thannaske/s3tracker/pkg/awsx"
	"github.com/thannaske/s3tracker/pkg/retry"
)

var (
	devPolicyARN string
	rolesBucket  string
)

// assumePolicy waits up to about a minute for fresh roles to become assumable.
var assumePolicy = retry.Policy{Attempts: 8, Base: 2 * time.Second}

func newAccessManager(ctx context.Context) (*access.Manager, error) {
	awsCfg, err := awsx.LoadAWSConfig(ctx, awsx.FromConfig(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS SDK configuration: %w", err)
	}
	return access.NewManagerFromConfig(awsCfg, access.DefaultNames(), assumePolicy, logger), nil
}

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Exercise role-scoped access to a bucket",
}

var rolesRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Create roles and a user, use them against a fresh bucket and tear everything down",
	Long: `Create a broad-access role, a list/read-only role and a user allowed to assume
both. Acting as the broad role, create a bucket and upload three fixtures; acting as
the read-only role, sum the objects under the "assignment" prefix. Finally remove the
bucket, the roles and the user. Teardown runs even when an earlier step fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		manager, err := newAccessManager(ctx)
		if err != nil {
			return err
		}
		bucket := rolesBucket
		if bucket == "" {
			bucket = fmt.Sprintf("s3tracker-walkthrough-%d", time.Now().Unix())
		}

		w := &access.Walkthrough{
			Manager:      manager,
			Clients:      access.NewScopedClientFactory(manager, retryPolicy(), cfg.Endpoint != "", logger, awsx.FromConfig(cfg)...),
			Bucket:       bucket,
			DevPolicyARN: devPolicyARN,
			Logger:       logger,
		}
		summary, err := w.Run(ctx)
		if summary != nil {
			printSummary(bucket, summary)
		}
		return err
	},
}

var rolesCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove the roles and the user left behind by an interrupted run",
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := newAccessManager(cmd.Context())
		if err != nil {
			return err
		}
		if err := manager.Cleanup(cmd.Context(), devPolicyARN); err != nil {
			return err
		}
		fmt.Println("Cleanup completed successfully.")
		return nil
	},
}

func printSummary(bucket string, s *access.Summary) {
	fmt.Printf("Account %s, bucket %s (%s)\n\n", s.AccountID, bucket, s.Bucket)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
	fmt.Fprintln(w, "Kind\tName\tResult")
	fmt.Fprintln(w, "----\t----\t------")
	for _, p := range s.Principals {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Kind, p.Name, p.Result)
	}
	w.Flush()

	fmt.Println()
	for _, o := range s.Objects {
		fmt.Printf(" - Found object: %s, Size: %d bytes\n", o.Key, o.SizeBytes)
	}
	fmt.Printf("Total size of objects with prefix %q: %d bytes (%s)\n",
		access.DefaultPrefix, s.PrefixTotal, humanize.IBytes(uint64(s.PrefixTotal)))
}

func init() {
	rootCmd.AddCommand(rolesCmd)
	rolesCmd.AddCommand(rolesRunCmd, rolesCleanupCmd)
	rolesCmd.PersistentFlags().StringVar(&devPolicyARN, "dev-policy-arn", access.DefaultDevPolicyARN, "managed policy attached to the broad-access role")
	rolesRunCmd.Flags().StringVar(&rolesBucket, "walkthrough-bucket", "", "bucket to create (default is a timestamped name)")
}
