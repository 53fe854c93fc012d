package objectclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfg "github.com/markdave123-py/Sunlytics/internal/config"
)

type fakeS3 struct {
	mu       sync.Mutex
	requests []string
	types    []string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.types = append(f.types, r.Header.Get("Content-Type"))
	f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T) (*S3Client, *fakeS3, string) {
	t.Helper()
	fake := &fakeS3{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewS3Client(context.Background(), &cfg.Config{
		AwsAccessKey: "AKIATEST",
		AwsSecretKey: "secret",
		AwsRegion:    "us-east-2",
		BucketName:   "transcripts",
		S3Endpoint:   srv.URL,
	})
	require.NoError(t, err)
	return c, fake, srv.URL
}

func TestNewS3Client_Validation(t *testing.T) {
	_, err := NewS3Client(context.Background(), &cfg.Config{BucketName: "b"})
	assert.Error(t, err)

	_, err = NewS3Client(context.Background(), &cfg.Config{AwsAccessKey: "a", AwsSecretKey: "s", AwsRegion: "us-east-2"})
	assert.Error(t, err)
}

func TestS3Client_UploadAndDelete(t *testing.T) {
	c, fake, base := newTestClient(t)
	ctx := context.Background()

	url, err := c.UploadFile(ctx, "chat/u1/s1.json", bytes.NewReader([]byte(`[]`)), "application/json")
	require.NoError(t, err)
	assert.Equal(t, base+"/transcripts/chat/u1/s1.json", url)

	require.NoError(t, c.DeleteFile(ctx, "chat/u1/s1.json"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []string{"PUT /transcripts/chat/u1/s1.json", "DELETE /transcripts/chat/u1/s1.json"}, fake.requests)
	assert.Equal(t, "application/json", fake.types[0])
}

func TestObjectURL_AWS(t *testing.T) {
	c := &S3Client{bucket: "b", region: "eu-west-1"}
	assert.Equal(t, "https://b.s3.eu-west-1.amazonaws.com/k.json", c.objectURL("k.json"))
}
