// Package storage holds the object store contract used by the audit archive
// and the key layout of archived batches.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"time"
)

var ErrBucketNotFound = errors.New("bucket not found")

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

type PutOptions struct {
	ContentType string
}

// ObjectStore is the write side of the audit archive.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
}

// BuildAuditBatchPath places an audit batch under a date/hour partition of
// the time it was flushed.
func BuildAuditBatchPath(flushedAt time.Time, batchID string) (string, error) {
	if !pathComponentPattern.MatchString(batchID) {
		return "", fmt.Errorf("invalid batch id: %q", batchID)
	}
	ts := flushedAt.UTC()
	return path.Join(
		"audit",
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("hour=%02d", ts.Hour()),
		fmt.Sprintf("batch-%d-%s.parquet", ts.UnixMilli(), batchID),
	), nil
}
