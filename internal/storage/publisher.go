package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

// Publisher uploads the finished report to a bucket
type Publisher struct {
	client Client
	bucket string
	key    string
	logger *zap.Logger
}

// NewPublisher creates a publisher. An empty key uses the report's base name.
func NewPublisher(client Client, bucket, key string, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, bucket: bucket, key: key, logger: logger}
}

// Publish uploads the file at path and verifies the stored size.
func (p *Publisher) Publish(ctx context.Context, path string, counts map[string]int) (string, error) {
	key := p.key
	if key == "" {
		key = filepath.Base(path)
	}

	ok, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return "", fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if !ok {
		return "", fmt.Errorf("bucket %s does not exist", p.bucket)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat report: %w", err)
	}

	meta := make(map[string]string, len(counts))
	for status, n := range counts {
		meta["records-"+status] = strconv.Itoa(n)
	}

	opts := PutOptions{ContentType: "text/csv", Metadata: meta}
	if err := p.client.PutObject(ctx, p.bucket, key, f, info.Size(), opts); err != nil {
		return "", fmt.Errorf("upload %s/%s: %w", p.bucket, key, err)
	}

	stored, err := p.client.HeadObject(ctx, p.bucket, key)
	if err != nil {
		return "", fmt.Errorf("verify %s/%s: %w", p.bucket, key, err)
	}
	if stored.Size != info.Size() {
		return "", fmt.Errorf("verify %s/%s: stored %d bytes, expected %d", p.bucket, key, stored.Size, info.Size())
	}

	p.logger.Info("Published report",
		zap.String("bucket", p.bucket),
		zap.String("key", key),
		zap.Int64("size", info.Size()),
	)
	return key, nil
}
