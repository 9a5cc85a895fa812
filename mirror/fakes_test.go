package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ortelius/release-mirror/model"
	"github.com/ortelius/release-mirror/state"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	t1         = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	t2         = time.Date(2024, 2, 10, 9, 0, 0, 0, time.UTC)
	uploadTime = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
)

// fakeSource serves releases and asset content from memory
type fakeSource struct {
	releases []model.Release
	content  map[int64][]byte
	openErr  map[string]error
	listErr  error
	opened   []string
	// block makes OpenAsset return a reader that waits for the context
	block map[string]bool
}

func newFakeSource(releases ...model.Release) *fakeSource {
	src := &fakeSource{
		releases: releases,
		content:  map[int64][]byte{},
		openErr:  map[string]error{},
		block:    map[string]bool{},
	}
	for _, rel := range releases {
		for _, a := range rel.Assets {
			src.content[a.ID] = bytes.Repeat([]byte("x"), int(a.Size))
		}
	}
	return src
}

func (s *fakeSource) ListReleases(context.Context) ([]model.Release, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.releases, nil
}

func (s *fakeSource) OpenAsset(ctx context.Context, asset model.Asset) (io.ReadCloser, error) {
	s.opened = append(s.opened, asset.Name)
	if err := s.openErr[asset.Name]; err != nil {
		return nil, err
	}
	if s.block[asset.Name] {
		return io.NopCloser(blockingReader{ctx: ctx}), nil
	}
	data, ok := s.content[asset.ID]
	if !ok {
		return nil, fmt.Errorf("no content for asset %d", asset.ID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type blockingReader struct{ ctx context.Context }

func (r blockingReader) Read([]byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

// fakeTarget keeps releases and assets in memory and records every mutation
type fakeTarget struct {
	releases  map[string]model.Release
	assets    map[int64][]model.Asset
	uploaded  map[int64][]byte
	created   []string
	uploads   []string
	files     []string
	deleted   []int64
	nextID    int64
	createErr map[string]error
	uploadErr map[string]error
	lookupErr map[string]error
	// afterUpload runs after each successful upload
	afterUpload func(tag, name string)
	// panicOn makes LookupRelease panic for the tag
	panicOn string
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		releases:  map[string]model.Release{},
		assets:    map[int64][]model.Asset{},
		uploaded:  map[int64][]byte{},
		nextID:    1000,
		createErr: map[string]error{},
		uploadErr: map[string]error{},
		lookupErr: map[string]error{},
	}
}

func (f *fakeTarget) id() int64 {
	f.nextID++
	return f.nextID
}

// seed adds an existing release with the given assets to the target
func (f *fakeTarget) seed(tag string, assets ...model.Asset) model.Release {
	rel := model.Release{ID: f.id(), TagName: tag, Name: tag}
	f.releases[tag] = rel
	for _, a := range assets {
		a.ID = f.id()
		f.assets[rel.ID] = append(f.assets[rel.ID], a)
	}
	return rel
}

func (f *fakeTarget) tagOf(releaseID int64) string {
	for tag, rel := range f.releases {
		if rel.ID == releaseID {
			return tag
		}
	}
	return ""
}

func (f *fakeTarget) LookupRelease(_ context.Context, tag string) (model.Release, bool, error) {
	if f.panicOn == tag {
		panic("target exploded on " + tag)
	}
	if err := f.lookupErr[tag]; err != nil {
		return model.Release{}, false, err
	}
	rel, ok := f.releases[tag]
	return rel, ok, nil
}

func (f *fakeTarget) CreateRelease(_ context.Context, release model.Release) (model.Release, error) {
	if err := f.createErr[release.TagName]; err != nil {
		return model.Release{}, err
	}
	created := release
	created.ID = f.id()
	created.Assets = nil
	f.releases[release.TagName] = created
	f.created = append(f.created, release.TagName)
	return created, nil
}

func (f *fakeTarget) ListAssets(_ context.Context, releaseID int64) ([]model.Asset, error) {
	return append([]model.Asset(nil), f.assets[releaseID]...), nil
}

func (f *fakeTarget) DeleteAsset(_ context.Context, assetID int64) error {
	for relID, assets := range f.assets {
		for i, a := range assets {
			if a.ID == assetID {
				f.assets[relID] = append(assets[:i:i], assets[i+1:]...)
				f.deleted = append(f.deleted, assetID)
				return nil
			}
		}
	}
	return errors.New("asset not found")
}

func (f *fakeTarget) UploadAsset(_ context.Context, releaseID int64, name, contentType string, content *os.File) (model.Asset, error) {
	if err := f.uploadErr[name]; err != nil {
		return model.Asset{}, err
	}
	if model.FindAsset(f.assets[releaseID], name) != nil {
		return model.Asset{}, fmt.Errorf("asset %s already exists", name)
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return model.Asset{}, err
	}
	f.files = append(f.files, filepath.Base(content.Name()))
	asset := model.Asset{ID: f.id(), Name: name, Size: int64(len(data)), UpdatedAt: uploadTime, ContentType: contentType}
	f.assets[releaseID] = append(f.assets[releaseID], asset)
	f.uploaded[asset.ID] = data
	tag := f.tagOf(releaseID)
	f.uploads = append(f.uploads, tag+"/"+name)
	if f.afterUpload != nil {
		f.afterUpload(tag, name)
	}
	return asset, nil
}

type recordingPublisher struct {
	messages []string
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, message string) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, message)
	return nil
}

type harness struct {
	source    *fakeSource
	target    *fakeTarget
	store     *state.Store
	publisher *recordingPublisher
	stateFile string
	tempDir   string
	opts      Options
}

func newHarness(t *testing.T, source *fakeSource, target *fakeTarget) *harness {
	t.Helper()
	pub := &recordingPublisher{}
	stateFile := filepath.Join(t.TempDir(), "synced_versions.json")
	return &harness{
		source:    source,
		target:    target,
		store:     state.NewStore(stateFile, pub, zaptest.NewLogger(t)),
		publisher: pub,
		stateFile: stateFile,
		tempDir:   t.TempDir(),
		opts:      Options{BatchSize: DefaultBatchSize, TimeTolerance: time.Minute},
	}
}

func (h *harness) reconciler(t *testing.T) *Reconciler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	transfer := NewTransferer(h.source, h.target, TransferOptions{TempDir: h.tempDir, DownloadTimeout: time.Second}, logger, nil)
	return NewReconciler(h.source, h.target, h.store, transfer, h.opts, logger, nil)
}

func (h *harness) writeState(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(h.stateFile, []byte(content), 0o644))
}

func (h *harness) readState(t *testing.T) string {
	t.Helper()
	content, err := os.ReadFile(h.stateFile)
	require.NoError(t, err)
	return string(content)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func release(tag string, created time.Time, assets ...model.Asset) model.Release {
	return model.Release{TagName: tag, Name: "Release " + tag, Body: "notes for " + tag, CreatedAt: created, Assets: assets}
}

func asset(id int64, name string, size int64, updated time.Time) model.Asset {
	return model.Asset{ID: id, Name: name, Size: size, UpdatedAt: updated, ContentType: "application/zip"}
}
