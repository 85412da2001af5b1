package report

import (
	"context"
	"path/filepath"

	"github.com/eunmann/txn-batch-report/pkg/fileutil"
	"github.com/eunmann/txn-batch-report/pkg/objstore"
)

// Sink stores finished report files.
type Sink interface {
	// Put stores data under name and returns the resulting location.
	Put(ctx context.Context, name string, data []byte) (string, error)
	// Location returns where name would be stored.
	Location(name string) string
}

// DirSink writes into a local directory, created on demand.
type DirSink struct {
	Dir string
}

// Location implements Sink.
func (s DirSink) Location(name string) string {
	return filepath.Join(s.Dir, name)
}

// Put implements Sink.
func (s DirSink) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := s.Location(name)
	if err := fileutil.WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// S3Sink uploads under a key prefix of a bucket.
type S3Sink struct {
	Client *objstore.Client
	Bucket string
	Prefix string
}

// Location implements Sink.
func (s S3Sink) Location(name string) string {
	return objstore.URI(s.Bucket, objstore.JoinKey(s.Prefix, name))
}

// Put implements Sink.
func (s S3Sink) Put(ctx context.Context, name string, data []byte) (string, error) {
	key := objstore.JoinKey(s.Prefix, name)
	if err := s.Client.PutObject(ctx, s.Bucket, key, data, contentType(name)); err != nil {
		return "", err
	}
	return objstore.URI(s.Bucket, key), nil
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ExtJSON:
		return "application/json"
	case ExtGzip:
		return "application/gzip"
	case ExtZstd:
		return "application/zstd"
	default:
		return "application/octet-stream"
	}
}

// NewSink returns an S3Sink for s3:// locations and a DirSink otherwise.
func NewSink(ctx context.Context, location string) (Sink, error) {
	if !objstore.IsS3URI(location) {
		return DirSink{Dir: location}, nil
	}
	bucket, prefix, err := objstore.ParseS3URI(location)
	if err != nil {
		return nil, err
	}
	client, err := objstore.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	return S3Sink{Client: client, Bucket: bucket, Prefix: prefix}, nil
}
