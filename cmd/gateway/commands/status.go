package commands

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/objectgate/gateway/internal/cli/output"
	"github.com/objectgate/gateway/internal/logger"
	"github.com/objectgate/gateway/pkg/config"
	"github.com/objectgate/gateway/pkg/metadata"
	"github.com/objectgate/gateway/pkg/metadata/store/postgres"
)

var (
	bucketsOutput string
	bucketsTenant string
	shardsOutput  string
)

var bucketsCmd = &cobra.Command{
	Use:   "buckets",
	Short: "List buckets for a tenant",
	Long: `Lists the buckets registered for a tenant, reading directly from the
metadata store. Requires --tenant since bucket names are only unique
within a tenant.

Examples:
  gateway buckets --tenant acme
  gateway buckets --tenant acme --output json`,
	RunE: runBuckets,
}

var shardsCmd = &cobra.Command{
	Use:   "shards",
	Short: "List active storage shards and their capacity usage",
	RunE:  runShards,
}

func init() {
	bucketsCmd.Flags().StringVar(&bucketsTenant, "tenant", "", "tenant id (required)")
	bucketsCmd.Flags().StringVarP(&bucketsOutput, "output", "o", "table", "output format (table|json|yaml)")
	shardsCmd.Flags().StringVarP(&shardsOutput, "output", "o", "table", "output format (table|json|yaml)")

	rootCmd.AddCommand(bucketsCmd)
	rootCmd.AddCommand(shardsCmd)
}

// bucketRows adapts metadata.Bucket to output.TableRenderer.
type bucketRows []metadata.Bucket

func (r bucketRows) Headers() []string { return []string{"ID", "NAME", "FILE SIZE LIMIT", "CREATED"} }
func (r bucketRows) Rows() [][]string {
	rows := make([][]string, len(r))
	for i, b := range r {
		rows[i] = []string{b.ID, b.Name, strconv.FormatInt(b.FileSizeLimit, 10), b.CreatedAt.Format("2006-01-02 15:04:05")}
	}
	return rows
}

func runBuckets(cmd *cobra.Command, args []string) error {
	if bucketsTenant == "" {
		return fmt.Errorf("--tenant is required")
	}
	format, err := output.ParseFormat(bucketsOutput)
	if err != nil {
		return err
	}

	store, closeStore, err := openAdminStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()

	var buckets []metadata.Bucket
	scope := metadata.Scope{TenantID: bucketsTenant, Role: "service"}
	err = store.WithAuthorizedTx(cmd.Context(), scope, func(ctx context.Context, tx metadata.Transaction) error {
		var err error
		buckets, err = tx.ListBuckets(ctx, bucketsTenant)
		return err
	})
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}

	return output.NewPrinter(os.Stdout, format, true).Print(bucketRows(buckets))
}

// shardRows adapts metadata.Shard to output.TableRenderer.
type shardRows []metadata.Shard

func (r shardRows) Headers() []string { return []string{"ID", "KIND", "LOCATION", "ACTIVE", "USED", "CAPACITY"} }
func (r shardRows) Rows() [][]string {
	rows := make([][]string, len(r))
	for i, s := range r {
		rows[i] = []string{s.ID, s.Kind, s.Location, strconv.FormatBool(s.Active), strconv.FormatInt(s.Used, 10), strconv.FormatInt(s.Capacity, 10)}
	}
	return rows
}

func runShards(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(shardsOutput)
	if err != nil {
		return err
	}

	store, closeStore, err := openAdminStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()

	var shards []metadata.Shard
	err = store.WithPrivilegedTx(cmd.Context(), func(ctx context.Context, tx metadata.Transaction) error {
		var err error
		shards, err = tx.ListActiveShards(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("list shards: %w", err)
	}

	return output.NewPrinter(os.Stdout, format, true).Print(shardRows(shards))
}

// openAdminStore opens a short-lived metadata store connection for
// administrative CLI commands, using the same config-loading path as
// start/migrate. The returned close func must be called once done.
func openAdminStore(ctx context.Context) (*postgres.Store, func(), error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, nil, err
	}
	if err := InitLogger(cfg); err != nil {
		return nil, nil, err
	}

	store, err := postgres.Open(ctx, postgres.Config{
		DSN:                     cfg.Database.DSN,
		MaxConnections:          1,
		ConnectionTimeout:       cfg.Database.ConnectionTimeout,
		FreePoolAfterInactivity: cfg.Database.FreePoolAfterInactivity,
	}, logger.With())
	if err != nil {
		return nil, nil, fmt.Errorf("open metadata store: %w", err)
	}
	return store, store.Close, nil
}
