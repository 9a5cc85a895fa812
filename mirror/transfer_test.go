package mirror

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ortelius/release-mirror/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestTransferer(t *testing.T, src *fakeSource, dst *fakeTarget, timeout time.Duration) (*Transferer, string) {
	t.Helper()
	dir := t.TempDir()
	return NewTransferer(src, dst, TransferOptions{TempDir: dir, DownloadTimeout: timeout}, zaptest.NewLogger(t), nil), dir
}

func TestTransferUploadsAndCleansUp(t *testing.T) {
	a := asset(1, "app.zip", 100, t1)
	src := newFakeSource(release("v1.0", t1, a))
	dst := newFakeTarget()
	rel := dst.seed("v1.0")

	tr, dir := newTestTransferer(t, src, dst, time.Second)
	require.NoError(t, tr.Transfer(context.Background(), a, rel, nil))

	uploaded := model.FindAsset(dst.assets[rel.ID], "app.zip")
	require.NotNil(t, uploaded)
	assert.Equal(t, int64(100), uploaded.Size)
	assert.Equal(t, "application/zip", uploaded.ContentType)
	assert.Empty(t, listDir(t, dir), "temp file must be removed after success")
}

func TestTransferReplacesExistingAsset(t *testing.T) {
	a := asset(1, "app.zip", 100, t2)
	src := newFakeSource(release("v1.0", t1, a))
	dst := newFakeTarget()
	rel := dst.seed("v1.0", model.Asset{Name: "app.zip", Size: 80, UpdatedAt: t1})
	stale := dst.assets[rel.ID][0]

	tr, _ := newTestTransferer(t, src, dst, time.Second)
	require.NoError(t, tr.Transfer(context.Background(), a, rel, &stale))

	assert.Equal(t, []int64{stale.ID}, dst.deleted)
	require.Len(t, dst.assets[rel.ID], 1)
	assert.Equal(t, int64(100), dst.assets[rel.ID][0].Size)
}

func TestTransferDownloadFailure(t *testing.T) {
	a := asset(1, "app.zip", 100, t1)
	src := newFakeSource(release("v1.0", t1, a))
	src.openErr["app.zip"] = errors.New("502 bad gateway")
	dst := newFakeTarget()
	rel := dst.seed("v1.0", model.Asset{Name: "app.zip", Size: 80})
	existing := dst.assets[rel.ID][0]

	tr, dir := newTestTransferer(t, src, dst, time.Second)
	err := tr.Transfer(context.Background(), a, rel, &existing)

	require.Error(t, err)
	assert.Empty(t, dst.deleted, "nothing is deleted when the download fails")
	assert.Empty(t, dst.uploads)
	assert.Empty(t, listDir(t, dir))
}

func TestTransferDownloadTimeout(t *testing.T) {
	a := asset(1, "slow.bin", 100, t1)
	src := newFakeSource(release("v1.0", t1, a))
	src.block["slow.bin"] = true
	dst := newFakeTarget()
	rel := dst.seed("v1.0")

	tr, dir := newTestTransferer(t, src, dst, 20*time.Millisecond)
	err := tr.Transfer(context.Background(), a, rel, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDownloadTimeout), "got %v", err)
	assert.Empty(t, listDir(t, dir), "partial download must be removed")
}

func TestTransferShortDownload(t *testing.T) {
	a := asset(1, "app.zip", 100, t1)
	src := newFakeSource(release("v1.0", t1, a))
	src.content[1] = []byte("truncated")
	dst := newFakeTarget()
	rel := dst.seed("v1.0")

	tr, _ := newTestTransferer(t, src, dst, time.Second)
	err := tr.Transfer(context.Background(), a, rel, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShortDownload))
	assert.Empty(t, dst.uploads)
}

func TestTransferUploadFailureCleansUp(t *testing.T) {
	a := asset(1, "app.zip", 100, t1)
	src := newFakeSource(release("v1.0", t1, a))
	dst := newFakeTarget()
	dst.uploadErr["app.zip"] = errors.New("422 validation failed")
	rel := dst.seed("v1.0")

	tr, dir := newTestTransferer(t, src, dst, time.Second)
	require.Error(t, tr.Transfer(context.Background(), a, rel, nil))
	assert.Empty(t, listDir(t, dir))
}

func TestTransferDetectsMissingContentType(t *testing.T) {
	a := model.Asset{ID: 7, Name: "README.txt", Size: 11, UpdatedAt: t1}
	src := newFakeSource(release("v1.0", t1, a))
	src.content[7] = []byte("hello world")
	dst := newFakeTarget()
	rel := dst.seed("v1.0")

	tr, _ := newTestTransferer(t, src, dst, time.Second)
	require.NoError(t, tr.Transfer(context.Background(), a, rel, nil))

	uploaded := model.FindAsset(dst.assets[rel.ID], "README.txt")
	require.NotNil(t, uploaded)
	assert.Contains(t, uploaded.ContentType, "text/plain")
}

func TestTransferLongAssetName(t *testing.T) {
	tag := "v" + strings.Repeat("9", 79)
	name := strings.Repeat("a", 196) + ".zip"
	a := asset(188442281, name, 10, t1)
	src := newFakeSource(release(tag, t1, a))
	dst := newFakeTarget()
	rel := dst.seed(tag)

	tr, dir := newTestTransferer(t, src, dst, time.Second)
	require.NoError(t, tr.Transfer(context.Background(), a, rel, nil))

	require.NotNil(t, model.FindAsset(dst.assets[rel.ID], name), "asset keeps its full name on the target")
	require.Len(t, dst.files, 1)
	assert.LessOrEqual(t, len(dst.files[0]), 255)
	assert.True(t, strings.HasPrefix(dst.files[0], tag[:tempNameLimit]+"-188442281-"), "got %s", dst.files[0])
	assert.Empty(t, listDir(t, dir))
}
