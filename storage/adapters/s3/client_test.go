package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	obmocks "netfetch/observability/mocks"
	"netfetch/storage/types"
)

type object struct {
	body        []byte
	contentType string
	meta        map[string]string
}

// fakeS3 is an in-memory API keyed by bucket/key.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]map[string]object
	putErr  error
	headErr error
	created []*s3.CreateBucketInput
	lastPut *s3.PutObjectInput
}

func newFakeS3(buckets ...string) *fakeS3 {
	f := &fakeS3{buckets: map[string]map[string]object{}}
	for _, b := range buckets {
		f.buckets[b] = map[string]object{}
	}
	return f
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, _ := io.ReadAll(in.Body)
	f.lastPut = in
	f.buckets[aws.ToString(in.Bucket)][aws.ToString(in.Key)] = object{body: body, contentType: aws.ToString(in.ContentType), meta: in.Metadata}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.buckets[aws.ToString(in.Bucket)][aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.body)),
		ContentType:   aws.String(obj.contentType),
		ContentLength: aws.Int64(int64(len(obj.body))),
		Metadata:      obj.meta,
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.buckets[aws.ToString(in.Bucket)][aws.ToString(in.Key)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.buckets[aws.ToString(in.Bucket)], aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.buckets[aws.ToString(in.Bucket)] {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.buckets[aws.ToString(in.Bucket)][k].body))),
		})
	}
	return out, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[aws.ToString(in.Bucket)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	f.buckets[aws.ToString(in.Bucket)] = map[string]object{}
	return &s3.CreateBucketOutput{}, nil
}

func newTestClient(api API) *Client {
	return New(api, "netfetch-test-archive", "eu-west-1", obmocks.NewPermissiveLogger(), obmocks.NewPermissiveMetrics())
}

func TestClient_PutGet(t *testing.T) {
	api := newFakeS3("netfetch-test-archive")
	c := newTestClient(api)
	ctx := context.Background()

	err := c.Put(ctx, "", "api.example.com/2024-05-01/req_abcd1234.json", strings.NewReader(`{"ok":true}`), types.ObjectMetadata{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"source-url": "https://api.example.com/v1/items"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(11), aws.ToInt64(api.lastPut.ContentLength))

	body, meta, err := c.GetWithMetadata(ctx, "", "api.example.com/2024-05-01/req_abcd1234.json")
	require.NoError(t, err)
	defer body.Close()
	data, _ := io.ReadAll(body)
	assert.Equal(t, `{"ok":true}`, string(data))
	assert.Equal(t, "application/json", meta.ContentType)
	assert.Equal(t, "https://api.example.com/v1/items", meta.UserMetadata["source-url"])

	exists, err := c.Exists(ctx, "", "api.example.com/2024-05-01/req_abcd1234.json")
	require.NoError(t, err)
	assert.True(t, exists)

	list, err := c.List(ctx, "", "api.example.com/")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(11), list[0].Size)

	require.NoError(t, c.Delete(ctx, "", "api.example.com/2024-05-01/req_abcd1234.json"))
	exists, err = c.Exists(ctx, "", "api.example.com/2024-05-01/req_abcd1234.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestClient_NotFound(t *testing.T) {
	metrics := obmocks.NewPermissiveMetrics()
	c := New(newFakeS3("netfetch-test-archive"), "netfetch-test-archive", "", obmocks.NewPermissiveLogger(), metrics)

	_, err := c.Get(context.Background(), "", "missing")

	assert.ErrorIs(t, err, types.ErrObjectNotFound)
	metrics.AssertCalled(t, "RecordError", "s3_get", "not_found")
}

func TestClient_Errors(t *testing.T) {
	api := newFakeS3("netfetch-test-archive")
	api.putErr = errors.New("access denied")
	api.headErr = errors.New("throttled")
	c := newTestClient(api)

	err := c.Put(context.Background(), "", "k", strings.NewReader("x"), types.ObjectMetadata{})
	assert.ErrorContains(t, err, "access denied")

	_, err = c.Exists(context.Background(), "", "k")
	assert.ErrorContains(t, err, "throttled")

	err = c.Put(context.Background(), "", "", strings.NewReader("x"), types.ObjectMetadata{})
	assert.ErrorIs(t, err, types.ErrInvalidKey)
}

func TestClient_EnsureBucketExists(t *testing.T) {
	t.Run("creates a missing bucket in the configured region", func(t *testing.T) {
		api := newFakeS3()
		c := newTestClient(api)

		require.NoError(t, c.ensureBucketExists(context.Background()))
		require.Len(t, api.created, 1)
		assert.Equal(t, s3types.BucketLocationConstraint("eu-west-1"), api.created[0].CreateBucketConfiguration.LocationConstraint)
	})

	t.Run("existing bucket", func(t *testing.T) {
		api := newFakeS3("netfetch-test-archive")
		require.NoError(t, newTestClient(api).ensureBucketExists(context.Background()))
		assert.Empty(t, api.created)
	})
}

func TestClient_RecordsSize(t *testing.T) {
	metrics := obmocks.NewPermissiveMetrics()
	c := New(newFakeS3("b"), "b", "", obmocks.NewPermissiveLogger(), metrics)

	require.NoError(t, c.Put(context.Background(), "", "k", strings.NewReader("abcdef"), types.ObjectMetadata{}))

	metrics.AssertCalled(t, "RecordFileSize", "archive", int64(6))
	metrics.AssertCalled(t, "RecordDuration", "s3_put", mock.AnythingOfType("float64"))
}
