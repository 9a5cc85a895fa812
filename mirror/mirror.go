// Package mirror reconciles the releases of a source repository into a target repository.
//
// Releases are processed one at a time, oldest first. A release is recorded as synced
// only after every one of its assets is confirmed up to date in the target, and progress
// is checkpointed every BatchSize newly completed releases and once more at the end of
// the run, including runs cut short by cancellation or a panic.
package mirror

import (
	"context"
	"io"
	"os"

	"github.com/ortelius/release-mirror/model"
)

// Source is the read-only repository releases are mirrored from.
type Source interface {
	ListReleases(ctx context.Context) ([]model.Release, error)
	OpenAsset(ctx context.Context, asset model.Asset) (io.ReadCloser, error)
}

// Target is the repository releases are mirrored into. LookupRelease reports a missing
// release with found == false and a nil error.
type Target interface {
	LookupRelease(ctx context.Context, tag string) (release model.Release, found bool, err error)
	CreateRelease(ctx context.Context, release model.Release) (model.Release, error)
	ListAssets(ctx context.Context, releaseID int64) ([]model.Asset, error)
	DeleteAsset(ctx context.Context, assetID int64) error
	UploadAsset(ctx context.Context, releaseID int64, name, contentType string, content *os.File) (model.Asset, error)
}

// Checkpointer loads the sync record and durably saves and publishes it.
type Checkpointer interface {
	Load() *model.SyncRecord
	Checkpoint(ctx context.Context, record *model.SyncRecord, message string) bool
	Publish(ctx context.Context, message string) bool
}
