package storage

import (
	"context"
	"log"
	"os"
	"strings"
	"testing"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
)

var s3Client *Storage

func TestMain(m *testing.M) {
	ctx := context.Background()

	ls, err := localstack.Run(ctx,
		"localstack/localstack:3.8",
		testcontainers.WithEnv(map[string]string{"SERVICES": "s3"}),
	)
	if err != nil {
		log.Fatalf("failed to start localstack: %v", err)
	}

	endpoint, err := ls.PortEndpoint(ctx, "4566/tcp", "http")
	if err != nil {
		log.Fatalf("failed to get endpoint: %v", err)
	}

	os.Setenv("AWS_ACCESS_KEY_ID", "test")
	os.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	os.Setenv("AWS_REGION", "us-east-1")
	os.Setenv("AWS_ENDPOINT_URL", endpoint)

	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatalf("failed to load aws config: %v", err)
	}
	s3Client = NewStorage(cfg, "church-sites")
	if err = s3Client.EnsureBucket(ctx); err != nil {
		log.Fatalf("failed to create bucket: %v", err)
	}

	exitCode := m.Run()

	if err := ls.Terminate(ctx); err != nil {
		log.Printf("failed to terminate localstack: %s", err)
	}

	os.Exit(exitCode)
}

func TestListFilesEmpty(t *testing.T) {
	files, err := s3Client.ListFiles(context.Background(), "churches/nobody/")
	require.NoError(t, err)
	require.Empty(t, files, "files found should be empty")
}

func TestUploadFileDetectsContentType(t *testing.T) {
	ctx := context.Background()

	url, err := s3Client.UploadFile(ctx, "churches/saint-nicholas/index.html", nil, strings.NewReader("<!DOCTYPE html><html lang=\"en\"></html>"))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(url, "/churches/saint-nicholas/index.html"))

	_, err = s3Client.UploadFile(ctx, "churches/saint-nicholas/site.json", nil, strings.NewReader(`{"slug":"saint-nicholas"}`))
	require.NoError(t, err)

	files, err := s3Client.ListFiles(ctx, "churches/saint-nicholas/")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"churches/saint-nicholas/index.html", "churches/saint-nicholas/site.json"}, files)

	data, err := s3Client.GetFile(ctx, "churches/saint-nicholas/site.json")
	require.NoError(t, err)
	require.JSONEq(t, `{"slug":"saint-nicholas"}`, string(data))

	// the bucket already exists now
	require.NoError(t, s3Client.EnsureBucket(ctx))
}
