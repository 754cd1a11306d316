// Package cli implements the arbor administrative command line.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/jacentio/arbor/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Table    string
	Index    string
	Endpoint string
	Verbose  bool
}

// NewRootCommand creates the root command for the arbor CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "arbor",
		Short: "Administrative tooling for the arbor content and analytics store",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Table, "table", "arbor", "DynamoDB table name")
	cmd.PersistentFlags().StringVar(&opts.Index, "index", store.DefaultIndexName, "secondary index name")
	cmd.PersistentFlags().StringVar(&opts.Endpoint, "endpoint", "", "DynamoDB endpoint override (e.g. http://localhost:8000 for local)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewCreateTableCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}

// newClient builds a DynamoDB client from the ambient AWS configuration,
// honoring the endpoint override for local development.
func (o *RootOptions) newClient(ctx context.Context) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg, func(do *dynamodb.Options) {
		if o.Endpoint != "" {
			do.BaseEndpoint = aws.String(o.Endpoint)
		}
	}), nil
}

// storeConfig is the engine configuration implied by the global flags.
func (o *RootOptions) storeConfig() store.Config {
	cfg := store.DefaultConfig()
	cfg.TableName = o.Table
	cfg.IndexName = o.Index
	return cfg
}
