package integration

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/researchpipe/gtr-fetch/internal/testutil"
	"github.com/researchpipe/gtr-fetch/pkg/client"
	"github.com/researchpipe/gtr-fetch/pkg/pipeline"
	"github.com/researchpipe/gtr-fetch/pkg/storage"
)

const (
	testAccessKey = "minioadmin"
	testSecretKey = "minioadmin"
	testBucket    = "research-data"
)

// setupMinio creates a MinIO container for integration testing and returns
// its host:port endpoint.
func setupMinio(t *testing.T) (string, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     testAccessKey,
			"MINIO_ROOT_PASSWORD": testSecretKey,
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start MinIO container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cleanup := func() {
		container.Terminate(ctx)
	}

	return host + ":" + port.Port(), cleanup
}

// newMinioClient creates a raw client for test setup and verification.
func newMinioClient(t *testing.T, endpoint string) *minio.Client {
	t.Helper()

	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(testAccessKey, testSecretKey, ""),
		Secure: false,
	})
	if err != nil {
		t.Fatalf("Failed to create MinIO client: %v", err)
	}
	return mc
}

func newRunner(t *testing.T, mockURL, minioEndpoint string) *pipeline.Runner {
	t.Helper()

	ctx := context.Background()

	cfg := client.DefaultConfig()
	cfg.BaseURL = mockURL
	cfg.PageSize = 2
	cfg.Timeout = 10 * time.Second
	cfg.MaxRetries = 0
	cfg.InitialBackoff = time.Millisecond

	fetcher, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	writer, err := storage.New(ctx, storage.Config{
		Endpoint:  minioEndpoint,
		AccessKey: testAccessKey,
		SecretKey: testSecretKey,
		UseSSL:    false,
		Bucket:    testBucket,
		Prefix:    "gtr",
	})
	if err != nil {
		t.Fatalf("Failed to create storage writer: %v", err)
	}

	return pipeline.NewRunner(fetcher, writer)
}

func readObject(t *testing.T, mc *minio.Client, key string) string {
	t.Helper()

	ctx := context.Background()
	obj, err := mc.GetObject(ctx, testBucket, key, minio.GetObjectOptions{})
	if err != nil {
		t.Fatalf("GetObject(%s) failed: %v", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		t.Fatalf("Reading object %s failed: %v", key, err)
	}
	return string(data)
}

func listKeys(t *testing.T, mc *minio.Client, prefix string) []string {
	t.Helper()

	ctx := context.Background()
	var keys []string
	for info := range mc.ListObjects(ctx, testBucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			t.Fatalf("ListObjects failed: %v", info.Err)
		}
		keys = append(keys, info.Key)
	}
	return keys
}

// TestFullFetchFlow runs the complete pipeline against a mock upstream and
// a real MinIO container: three pages in, three objects out.
func TestFullFetchFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	minioEndpoint, cleanup := setupMinio(t)
	defer cleanup()

	ctx := context.Background()
	mc := newMinioClient(t, minioEndpoint)
	if err := mc.MakeBucket(ctx, testBucket, minio.MakeBucketOptions{}); err != nil {
		t.Fatalf("MakeBucket failed: %v", err)
	}

	mockGtR := testutil.NewMockGtR()
	defer mockGtR.Close()

	mockGtR.SetPagedEndpoint("funds", "fund", [][]map[string]any{
		{{"id": "F1", "amount": 500.0, "category": "INCOME"}, {"id": "F2", "amount": 750.0}},
		{{"id": "F3", "category": "EXPENDITURE"}},
		{{"id": "F4"}},
	})

	runner := newRunner(t, mockGtR.URL(), minioEndpoint)
	if err := runner.RunAll(ctx, []string{"funds"}); err != nil {
		t.Fatalf("RunAll failed: %v", err)
	}

	// Exactly one object per page, no gaps.
	keys := listKeys(t, mc, "gtr/funds/")
	if len(keys) != 3 {
		t.Fatalf("Objects written = %d, want 3 (keys: %v)", len(keys), keys)
	}
	for page := 1; page <= 3; page++ {
		want := fmt.Sprintf("gtr/funds/page_%d.json", page)
		body := readObject(t, mc, want)
		if body == "" {
			t.Errorf("Object %s is empty", want)
		}
	}

	// Field order follows the funds configuration; missing fields are empty.
	page3 := readObject(t, mc, "gtr/funds/page_3.json")
	want := `[{"end":"","id":"F4","start":"","category":"","rel":"","amount":"","currencyCode":"","project_id":""}]`
	if page3 != want {
		t.Errorf("Page 3 payload = %s, want %s", page3, want)
	}

	// Every page was fetched exactly once, in order.
	pages := mockGtR.PagesRequested("funds")
	if len(pages) != 3 {
		t.Errorf("Pages requested = %v, want [1 2 3]", pages)
	}
}

// TestRerunOverwrites verifies a second run lands on the same keys with the
// same content instead of accumulating objects.
func TestRerunOverwrites(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	minioEndpoint, cleanup := setupMinio(t)
	defer cleanup()

	ctx := context.Background()
	mc := newMinioClient(t, minioEndpoint)
	if err := mc.MakeBucket(ctx, testBucket, minio.MakeBucketOptions{}); err != nil {
		t.Fatalf("MakeBucket failed: %v", err)
	}

	mockGtR := testutil.NewMockGtR()
	defer mockGtR.Close()

	mockGtR.SetPagedEndpoint("persons", "person", [][]map[string]any{
		{{"id": "P1", "firstName": "Ada", "surname": "Lovelace"}},
		{{"id": "P2", "firstName": "Alan", "surname": "Turing"}},
	})

	runner := newRunner(t, mockGtR.URL(), minioEndpoint)
	if err := runner.RunAll(ctx, []string{"persons"}); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	firstRun := readObject(t, mc, "gtr/persons/page_1.json")

	if err := runner.RunAll(ctx, []string{"persons"}); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	keys := listKeys(t, mc, "gtr/persons/")
	if len(keys) != 2 {
		t.Errorf("Objects after rerun = %d, want 2 (keys: %v)", len(keys), keys)
	}

	secondRun := readObject(t, mc, "gtr/persons/page_1.json")
	if firstRun != secondRun {
		t.Errorf("Rerun produced different bytes:\nfirst:  %s\nsecond: %s", firstRun, secondRun)
	}
}

// TestPartialFailureLeavesEarlierPages verifies that a mid-run upstream
// failure keeps already-written pages and stops before later ones.
func TestPartialFailureLeavesEarlierPages(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	minioEndpoint, cleanup := setupMinio(t)
	defer cleanup()

	ctx := context.Background()
	mc := newMinioClient(t, minioEndpoint)
	if err := mc.MakeBucket(ctx, testBucket, minio.MakeBucketOptions{}); err != nil {
		t.Fatalf("MakeBucket failed: %v", err)
	}

	mockGtR := testutil.NewMockGtR()
	defer mockGtR.Close()

	mockGtR.SetPagedEndpoint("projects", "project", [][]map[string]any{
		{{"id": "PR1", "name": "Alpha"}},
		{{"id": "PR2", "name": "Beta"}},
		{{"id": "PR3", "name": "Gamma"}},
	})
	mockGtR.FailPage("projects", 2, 502)

	runner := newRunner(t, mockGtR.URL(), minioEndpoint)
	err := runner.RunAll(ctx, []string{"projects"})
	if err == nil {
		t.Fatal("Expected run to fail on page 2")
	}

	keys := listKeys(t, mc, "gtr/projects/")
	if len(keys) != 1 {
		t.Fatalf("Objects written = %d, want 1 (keys: %v)", len(keys), keys)
	}
	if keys[0] != "gtr/projects/page_1.json" {
		t.Errorf("Surviving object = %s, want gtr/projects/page_1.json", keys[0])
	}

	// Page 3 was never requested.
	for _, p := range mockGtR.PagesRequested("projects") {
		if p == 3 {
			t.Error("Page 3 should never be fetched after page 2 failed")
		}
	}
}
