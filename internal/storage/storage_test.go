package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memClient struct {
	buckets map[string]bool
	objects map[string][]byte
	opts    map[string]PutOptions
	putErr  error
}

func newMemClient(buckets ...string) *memClient {
	c := &memClient{buckets: map[string]bool{}, objects: map[string][]byte{}, opts: map[string]PutOptions{}}
	for _, b := range buckets {
		c.buckets[b] = true
	}
	return c
}

func (c *memClient) BucketExists(_ context.Context, bucket string) (bool, error) {
	return c.buckets[bucket], nil
}

func (c *memClient) PutObject(_ context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) error {
	if c.putErr != nil {
		return c.putErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	c.objects[bucket+"/"+key] = buf.Bytes()
	c.opts[bucket+"/"+key] = opts
	return nil
}

func (c *memClient) HeadObject(_ context.Context, bucket, key string) (ObjectInfo, error) {
	data, ok := c.objects[bucket+"/"+key]
	if !ok {
		return ObjectInfo{}, errors.New("not found")
	}
	return ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func writeReport(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "clutch_with_sites.csv")
	require.NoError(t, os.WriteFile(path, []byte("identifier,result,status\nA,a.com,resolved\n"), 0o644))
	return path
}

func TestPublishUploadsReport(t *testing.T) {
	client := newMemClient("reports")
	path := writeReport(t)
	p := NewPublisher(client, "reports", "", zap.NewNop())

	key, err := p.Publish(context.Background(), path, map[string]int{"resolved": 1})
	require.NoError(t, err)
	assert.Equal(t, "clutch_with_sites.csv", key)
	assert.Equal(t, "identifier,result,status\nA,a.com,resolved\n", string(client.objects["reports/clutch_with_sites.csv"]))
	assert.Equal(t, "text/csv", client.opts["reports/clutch_with_sites.csv"].ContentType)
	assert.Equal(t, "1", client.opts["reports/clutch_with_sites.csv"].Metadata["records-resolved"])
}

func TestPublishErrors(t *testing.T) {
	path := writeReport(t)

	_, err := NewPublisher(newMemClient(), "missing", "k", zap.NewNop()).Publish(context.Background(), path, nil)
	assert.ErrorContains(t, err, "does not exist")

	client := newMemClient("reports")
	client.putErr = errors.New("access denied")
	_, err = NewPublisher(client, "reports", "k", zap.NewNop()).Publish(context.Background(), path, nil)
	assert.ErrorContains(t, err, "access denied")

	_, err = NewPublisher(newMemClient("reports"), "reports", "k", zap.NewNop()).Publish(context.Background(), path+".nope", nil)
	assert.Error(t, err)
}

func TestCleanEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "localhost:9000", want: "localhost:9000"},
		{in: "http://localhost:9000", want: "localhost:9000"},
		{in: "https://s3.example.com/", want: "s3.example.com"},
		{in: "https://s3.example.com/bucket", wantErr: true},
		{in: "localhost:9000/bucket", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := cleanEndpoint(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
