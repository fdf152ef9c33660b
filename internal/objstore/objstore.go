// Package objstore is the object-storage collaborator: byte blobs addressed
// by slash-separated keys.
package objstore

import "context"

// Bucket is the storage contract the pipeline requires: get-by-key and
// put-by-key. Keys use forward slashes regardless of platform.
type Bucket interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte, contentType string) error
	List(ctx context.Context, prefix string) ([]string, error)
}
