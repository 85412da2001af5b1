package objstore

import (
	"errors"
	"path"
	"strings"
)

const scheme = "s3://"

// IsS3URI reports whether s names an S3 location.
func IsS3URI(s string) bool {
	return strings.HasPrefix(s, scheme)
}

// ParseS3URI parses s3://bucket/key into bucket and key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !IsS3URI(uri) {
		return "", "", errors.New("invalid S3 URI: must start with s3://")
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, scheme), "/", 2)
	if parts[0] == "" {
		return "", "", errors.New("invalid S3 URI: missing bucket name")
	}

	bucket = parts[0]
	if len(parts) == 2 {
		key = parts[1]
	}
	return bucket, key, nil
}

// JoinKey appends name to a key prefix with a single separator.
func JoinKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// URI formats bucket and key as s3://bucket/key.
func URI(bucket, key string) string {
	return scheme + bucket + "/" + key
}
