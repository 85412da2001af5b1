// Package objstore reads and writes report objects in S3.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// API is the subset of the S3 client used here.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Client provides S3 object operations.
type Client struct {
	api API
}

// NewClient creates a client using the default AWS configuration chain.
func NewClient(ctx context.Context) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewClientWithConfig(cfg), nil
}

// NewClientWithConfig creates a client with a custom AWS config.
func NewClientWithConfig(cfg aws.Config) *Client {
	return &Client{api: s3.NewFromConfig(cfg)}
}

// NewClientWithAPI wraps an existing S3 API implementation.
func NewClientWithAPI(api API) *Client {
	return &Client{api: api}
}

// PutObject uploads data to bucket/key.
func (c *Client) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := c.api.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put object %s: %w", URI(bucket, key), err)
	}
	return nil
}

// StreamObject returns a reader for an S3 object.
func (c *Client) StreamObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	resp, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", URI(bucket, key), err)
	}
	return resp.Body, nil
}
