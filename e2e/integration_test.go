//go:build e2e

// Package e2e contains end-to-end integration tests using a real DynamoDB
// table. Run with: go test -tags=e2e -v ./e2e/...
//
// Set ARBOR_E2E_ENDPOINT to point at DynamoDB Local, or ARBOR_E2E_PROFILE
// to use a shared AWS config profile.
package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/arbor/analytics"
	"github.com/jacentio/arbor/content"
	"github.com/jacentio/arbor/store"
	"github.com/jacentio/arbor/visitor"
)

const tablePrefix = "arbor-e2e-test"

var (
	testTable string
	ddbClient *dynamodb.Client
	engine    *store.Store
)

func TestMain(m *testing.M) {
	testID := uuid.New().String()[:8]
	testTable = fmt.Sprintf("%s-%s", tablePrefix, testID)
	fmt.Printf("Test table: %s\n", testTable)

	ctx := context.Background()

	var loadOpts []func(*config.LoadOptions) error
	if profile := os.Getenv("ARBOR_E2E_PROFILE"); profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}

	ddbClient = dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint := os.Getenv("ARBOR_E2E_ENDPOINT"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	if err := createTable(ctx); err != nil {
		fmt.Printf("Failed to create table: %v\n", err)
		os.Exit(1)
	}

	engine = store.New(ddbClient, store.Config{TableName: testTable})

	code := m.Run()

	if _, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{
		TableName: aws.String(testTable),
	}); err != nil {
		fmt.Printf("Failed to delete table: %v\n", err)
	}

	os.Exit(code)
}

func createTable(ctx context.Context) error {
	_, err := ddbClient.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(testTable),
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
				IndexName: aws.String(store.DefaultIndexName),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String(store.IndexPartitionKey), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String(store.IndexSortKey), KeyType: types.KeyTypeRange},
				},
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
	})
	if err != nil {
		return err
	}

	waiter := dynamodb.NewTableExistsWaiter(ddbClient)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(testTable),
	}, 2*time.Minute)
}

func TestContentLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := content.NewRepository(engine, content.Blog)

	created, err := repo.Create(ctx, map[string]any{
		"title":   "E2E Lifecycle Post",
		"content": "end to end test body",
	}, "testing")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Status != content.StatusDraft {
		t.Fatalf("status = %q, want draft", created.Status)
	}

	published, err := repo.Publish(ctx, created.ID)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if published.PublishedAt.IsZero() {
		t.Fatal("publishedAt not stamped")
	}
	if _, err := repo.Publish(ctx, created.ID); err == nil {
		t.Fatal("second Publish succeeded, want precondition failure")
	}

	// GSI writes are eventually consistent; give the index a moment.
	deadline := time.Now().Add(10 * time.Second)
	for {
		page, err := repo.List(ctx, content.ListOptions{Status: content.FilterPublished})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if containsID(page, created.ID) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("published item never appeared in listing")
		}
		time.Sleep(500 * time.Millisecond)
	}

	back, err := repo.Unpublish(ctx, created.ID)
	if err != nil {
		t.Fatalf("Unpublish: %v", err)
	}
	if back.Status != content.StatusDraft || !back.PublishedAt.IsZero() {
		t.Fatalf("after unpublish = %+v, want clean draft", back)
	}

	if err := repo.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, created.ID); err == nil {
		t.Fatal("Get after delete succeeded")
	}
}

func containsID(page *content.ListPage, id string) bool {
	for _, c := range page.Items {
		if c.ID == id {
			return true
		}
	}
	return false
}

func TestVisitorDedup(t *testing.T) {
	ctx := context.Background()
	tracker := visitor.NewTracker(engine)
	session := "e2e-" + uuid.NewString()

	first, err := tracker.Track(ctx, session)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if !first.NewSession {
		t.Fatal("first visit not counted")
	}

	again, err := tracker.Track(ctx, session)
	if err != nil {
		t.Fatalf("Track again: %v", err)
	}
	if again.NewSession {
		t.Fatal("same session counted twice")
	}
	if again.TodayCount != first.TodayCount {
		t.Fatalf("TodayCount moved from %d to %d on a repeat visit", first.TodayCount, again.TodayCount)
	}

	trend, err := tracker.DailyTrend(ctx, 7)
	if err != nil {
		t.Fatalf("DailyTrend: %v", err)
	}
	if len(trend) != 7 {
		t.Fatalf("trend has %d days, want 7", len(trend))
	}
	if trend[6].Count < 1 {
		t.Fatalf("today's count = %d, want >= 1", trend[6].Count)
	}
}

func TestAnalyticsRanking(t *testing.T) {
	ctx := context.Background()
	tracker := analytics.NewTracker(engine)

	popular := "e2e-popular-" + uuid.NewString()[:8]
	niche := "e2e-niche-" + uuid.NewString()[:8]

	for i := 0; i < 3; i++ {
		v, err := tracker.Track(ctx, "blog", popular, fmt.Sprintf("sess-%s-%d", popular, i))
		if err != nil {
			t.Fatalf("Track: %v", err)
		}
		if !v.Counted {
			t.Fatalf("view %d not counted", i)
		}
	}
	if _, err := tracker.Track(ctx, "blog", niche, "sess-"+niche); err != nil {
		t.Fatalf("Track: %v", err)
	}

	count, err := tracker.ViewCount(ctx, "blog", popular)
	if err != nil {
		t.Fatalf("ViewCount: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	// Ranking reads the GSI, which is eventually consistent.
	deadline := time.Now().Add(10 * time.Second)
	for {
		top, err := tracker.TopContent(ctx, "blog", 100)
		if err != nil {
			t.Fatalf("TopContent: %v", err)
		}
		if ranked(top, popular, niche) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ranking never settled: %+v", top)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// ranked reports whether a appears before b in the stats.
func ranked(stats []analytics.ViewStat, a, b string) bool {
	ai, bi := -1, -1
	for i, s := range stats {
		switch s.ContentID {
		case a:
			ai = i
		case b:
			bi = i
		}
	}
	return ai >= 0 && bi >= 0 && ai < bi
}
