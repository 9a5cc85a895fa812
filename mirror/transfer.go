package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ortelius/release-mirror/metrics"
	"github.com/ortelius/release-mirror/model"
	"github.com/ortelius/release-mirror/util"
	"go.uber.org/zap"
)

// DefaultDownloadTimeout bounds a single asset download.
const DefaultDownloadTimeout = 300 * time.Second

var (
	// ErrDownloadTimeout is returned when a download does not finish within the timeout.
	ErrDownloadTimeout = errors.New("download timed out")
	// ErrShortDownload is returned when the downloaded byte count differs from the declared size.
	ErrShortDownload = errors.New("downloaded size does not match asset size")
)

// TransferOptions configures the transfer engine
type TransferOptions struct {
	TempDir         string
	DownloadTimeout time.Duration
}

// Transferer copies one asset from the source into a target release through a local temp file
type Transferer struct {
	source  Source
	target  Target
	opts    TransferOptions
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewTransferer creates the transfer engine. m may be nil.
func NewTransferer(source Source, target Target, opts TransferOptions, logger *zap.Logger, m *metrics.Metrics) *Transferer {
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = DefaultDownloadTimeout
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transferer{source: source, target: target, opts: opts, logger: logger, metrics: m}
}

// Transfer downloads asset and uploads it to release under the same name and content type.
// existing is the stale target copy, deleted before the upload; nil when there is none.
// The temp file is removed on every path.
func (t *Transferer) Transfer(ctx context.Context, asset model.Asset, release model.Release, existing *model.Asset) error {
	path, err := t.download(ctx, asset, release.TagName)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", asset.Name, err)
	}
	defer os.Remove(path)

	if existing != nil {
		if err := t.target.DeleteAsset(ctx, existing.ID); err != nil {
			return fmt.Errorf("failed to delete stale %s: %w", asset.Name, err)
		}
		t.logger.Debug("deleted stale target asset", zap.String("asset", asset.Name), zap.Int64("asset_id", existing.ID))
	}

	contentType := asset.ContentType
	if contentType == "" {
		contentType = detectContentType(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open downloaded %s: %w", asset.Name, err)
	}
	defer f.Close()

	uploaded, err := t.target.UploadAsset(ctx, release.ID, asset.Name, contentType, f)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", asset.Name, err)
	}

	t.metrics.ObserveBytes(asset.Size)
	t.logger.Debug("uploaded asset",
		zap.String("asset", asset.Name),
		zap.Int64("asset_id", uploaded.ID),
		zap.String("content_type", contentType),
		zap.String("size", humanize.Bytes(uint64(max(asset.Size, 0)))))
	return nil
}

// tempNameLimit caps each name part of a temp file so the whole name stays under NAME_MAX
const tempNameLimit = 64

// download writes the asset into a temp file named after the release tag and asset id
func (t *Transferer) download(ctx context.Context, asset model.Asset, tag string) (path string, err error) {
	dctx, cancel := context.WithTimeout(ctx, t.opts.DownloadTimeout)
	defer cancel()

	pattern := fmt.Sprintf("%s-%d-*-%s", util.SafeName(tag, tempNameLimit), asset.ID, util.SafeName(asset.Name, tempNameLimit))
	tmp, err := os.CreateTemp(t.opts.TempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	rc, err := t.source.OpenAsset(dctx, asset)
	if err != nil {
		return "", timeoutOr(dctx, err)
	}
	n, err := io.Copy(tmp, rc)
	rc.Close()
	if err != nil {
		return "", timeoutOr(dctx, err)
	}

	if asset.Size > 0 && n != asset.Size {
		return "", fmt.Errorf("%w: got %d bytes, expected %d", ErrShortDownload, n, asset.Size)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return tmp.Name(), nil
}

func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrDownloadTimeout, err)
	}
	return err
}

func detectContentType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}
