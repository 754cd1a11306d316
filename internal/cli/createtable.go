package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/spf13/cobra"

	"github.com/jacentio/arbor/store"
)

// NewCreateTableCommand creates the create-table command.
func NewCreateTableCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create-table",
		Short: "Create the arbor table, its secondary index, and TTL",
		Long: `Create the single DynamoDB table all arbor entities live in.

The table uses a composite primary key, one global secondary index for
status listings and view ranking, and TTL on the expiry attribute for
dedup markers. Creating an existing table is a no-op.

Example:
  arbor create-table --table arbor --endpoint http://localhost:8000`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return createTable(cmd.Context(), rootOpts)
		},
	}
}

func createTable(ctx context.Context, opts *RootOptions) error {
	client, err := opts.newClient(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(opts.Table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(store.PartitionKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(store.SortKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(store.IndexPartitionKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(store.IndexSortKey), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(store.PartitionKey), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(store.SortKey), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName: aws.String(opts.Index),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String(store.IndexPartitionKey), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String(store.IndexSortKey), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
	})
	if err != nil {
		var exists *types.ResourceInUseException
		if errors.As(err, &exists) {
			slog.Info("table already exists", "table", opts.Table)
			return nil
		}
		return fmt.Errorf("create table: %w", err)
	}
	slog.Info("table created", "table", opts.Table, "index", opts.Index)

	if err := waitForActive(ctx, client, opts.Table); err != nil {
		return err
	}

	_, err = client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(opts.Table),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String(store.TTLAttr),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("enable TTL: %w", err)
	}
	slog.Info("TTL enabled", "attribute", store.TTLAttr)
	return nil
}

func waitForActive(ctx context.Context, client *dynamodb.Client, table string) error {
	waiter := dynamodb.NewTableExistsWaiter(client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table: %w", err)
	}
	return nil
}
