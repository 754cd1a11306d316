package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jacentio/arbor/content"
	"github.com/jacentio/arbor/store"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var publish bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write sample content for local development",
		Long: `Write a small set of sample blog posts, projects, and certifications.

Example:
  arbor seed --endpoint http://localhost:8000 --publish`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return seed(cmd.Context(), rootOpts, publish)
		},
	}

	cmd.Flags().BoolVar(&publish, "publish", false, "publish the seeded items instead of leaving them as drafts")
	return cmd
}

type seedItem struct {
	kind     content.Kind
	category string
	fields   map[string]any
}

var seedItems = []seedItem{
	{
		kind:     content.Blog,
		category: "aws",
		fields: map[string]any{
			"title":   "Single-Table Design Without Tears",
			"content": "Modeling every entity of a small site into one DynamoDB table.",
			"tags":    []string{"dynamodb", "aws"},
		},
	},
	{
		kind:     content.Blog,
		category: "go",
		fields: map[string]any{
			"title":   "Conditional Writes as a Concurrency Primitive",
			"content": "Using compare-and-set puts to dedup counters under load.",
			"tags":    []string{"go", "dynamodb"},
		},
	},
	{
		kind:     content.Project,
		category: "serverless",
		fields: map[string]any{
			"title":       "arbor",
			"description": "Content and analytics store behind this site.",
			"githubUrl":   "https://github.com/jacentio/arbor",
		},
	},
	{
		kind:     content.Certification,
		category: "aws",
		fields: map[string]any{
			"title":  "AWS Certified Solutions Architect",
			"issuer": "Amazon Web Services",
		},
	},
}

func seed(ctx context.Context, opts *RootOptions, publish bool) error {
	client, err := opts.newClient(ctx)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	engine := store.New(client, opts.storeConfig())

	repos := make(map[content.Kind]*content.Repository)
	for _, k := range content.DefaultRegistry().Kinds() {
		repos[k] = content.NewRepository(engine, k)
	}

	for _, item := range seedItems {
		repo := repos[item.kind]
		c, err := repo.Create(ctx, item.fields, item.category)
		if err != nil {
			return fmt.Errorf("seed %s: %w", item.kind.Type, err)
		}
		if publish {
			id := c.ID
			if c, err = repo.Publish(ctx, id); err != nil {
				return fmt.Errorf("publish %s %s: %w", item.kind.Type, id, err)
			}
		}
		slog.Info("seeded content",
			"type", item.kind.Type,
			"id", c.ID,
			"status", c.Status,
		)
	}
	return nil
}
