package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeAPI) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	k := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[k] = data
	f.types[k] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestPutThenStream(t *testing.T) {
	api := newFakeAPI()
	c := NewClientWithAPI(api)
	ctx := context.Background()

	require.NoError(t, c.PutObject(ctx, "bucket", "reports/a.json", []byte(`{"a":1}`), "application/json"))
	assert.Equal(t, "application/json", api.types["bucket/reports/a.json"])

	rc, err := c.StreamObject(ctx, "bucket", "reports/a.json")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestErrorsNameTheObject(t *testing.T) {
	api := newFakeAPI()
	api.err = errors.New("denied")
	c := NewClientWithAPI(api)

	err := c.PutObject(context.Background(), "b", "k", nil, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/k")

	_, err = c.StreamObject(context.Background(), "b", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://b/missing")
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri, bucket, key string
		wantErr          bool
	}{
		{uri: "s3://bucket", bucket: "bucket"},
		{uri: "s3://bucket/", bucket: "bucket"},
		{uri: "s3://bucket/a/b.json", bucket: "bucket", key: "a/b.json"},
		{uri: "s3:///key", wantErr: true},
		{uri: "results", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseS3URI(tt.uri)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestJoinKey(t *testing.T) {
	assert.Equal(t, "a.json", JoinKey("", "a.json"))
	assert.Equal(t, "p/a.json", JoinKey("p/", "a.json"))
	assert.Equal(t, "p/q/a.json", JoinKey("/p/q", "a.json"))
	assert.Equal(t, "s3://b/p/a.json", URI("b", JoinKey("p", "a.json")))
}
