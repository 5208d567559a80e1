package services

import (
	"context"
	"testing"

	"essay-grader/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Service_FileURL(t *testing.T) {
	ctx := context.Background()

	minio, err := NewS3Service(ctx, config.S3Config{
		Bucket:          "essays",
		Region:          "us-east-1",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Endpoint:        "http://minio:9000/",
		Prefix:          "/prod/",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/essays/prod/runs/t1/report.pdf", minio.GetFileURL(PDFKey("t1")))

	aws, err := NewS3Service(ctx, config.S3Config{
		Bucket:          "essays",
		Region:          "eu-west-1",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://essays.s3.eu-west-1.amazonaws.com/runs/t1/result.json", aws.GetFileURL(ResultKey("t1")))
}
