// Package ghclient talks to the GitHub REST API on behalf of the mirror. One Client is
// bound to one repository and serves as either the source or the target of a sync.
package ghclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/go-github/v48/github"
	"github.com/ortelius/release-mirror/model"
	"github.com/ortelius/release-mirror/util"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// DefaultAPIURL is the public GitHub API endpoint
	DefaultAPIURL = "https://api.github.com/"
	perPage       = 100
	initialRetry  = 2 * time.Second
	maxRetry      = 30 * time.Second
)

// ErrAccessDenied is returned by Verify when the repository cannot be read with the configured token.
var ErrAccessDenied = errors.New("repository not accessible")

// Options configures a Client
type Options struct {
	// APIURL selects a GitHub Enterprise server. Empty means api.github.com.
	APIURL string
	// UploadURL defaults to the enterprise upload endpoint derived from APIURL.
	UploadURL string
	// RequestsPerSecond throttles API calls. Zero disables throttling.
	RequestsPerSecond float64
	// VerifyTimeout bounds the retries of Verify. Zero retries until ctx is done.
	VerifyTimeout time.Duration
}

// Client is a release-oriented view of one GitHub repository
type Client struct {
	gh       *github.Client
	owner    string
	name     string
	limiter  *rate.Limiter
	download *http.Client
	opts     Options
	logger   *zap.Logger

	retryInitial time.Duration
	retryMax     time.Duration
}

// New creates a Client for repo ("owner/name") authenticated with token. An empty token
// makes anonymous requests.
func New(ctx context.Context, repo, token string, opts Options, logger *zap.Logger) (*Client, error) {
	owner, name, err := util.SplitRepo(repo)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}

	var gh *github.Client
	if opts.APIURL == "" || strings.TrimSuffix(opts.APIURL, "/") == strings.TrimSuffix(DefaultAPIURL, "/") {
		gh = github.NewClient(httpClient)
	} else {
		uploadURL := opts.UploadURL
		if uploadURL == "" {
			uploadURL = strings.TrimSuffix(strings.TrimSuffix(opts.APIURL, "/"), "/api/v3")
		}
		gh, err = github.NewEnterpriseClient(opts.APIURL, uploadURL, httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to create enterprise client for %s: %w", opts.APIURL, err)
		}
	}

	return newClient(gh, owner, name, opts, logger), nil
}

func newClient(gh *github.Client, owner, name string, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	// asset downloads redirect to object storage, which rejects the API credentials,
	// so they go through a plain client
	return &Client{
		gh:           gh,
		owner:        owner,
		name:         name,
		limiter:      limiter,
		download:     &http.Client{},
		opts:         opts,
		logger:       logger.With(zap.String("repo", owner+"/"+name)),
		retryInitial: initialRetry,
		retryMax:     maxRetry,
	}
}

// Repo returns the "owner/name" slug
func (c *Client) Repo() string {
	return c.owner + "/" + c.name
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

// Verify checks that the repository is readable. Transient failures are retried with
// exponential backoff; authentication and not-found responses fail immediately.
func (c *Client) Verify(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInitial
	bo.MaxInterval = c.retryMax
	bo.MaxElapsedTime = c.opts.VerifyTimeout

	err := backoff.RetryNotify(func() error {
		if err := c.wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		_, _, err := c.gh.Repositories.Get(ctx, c.owner, c.name)
		if err == nil {
			return nil
		}
		switch statusCode(err) {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s: %v", ErrAccessDenied, c.Repo(), err))
		}
		return err
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		c.logger.Warn("repository check failed, retrying", zap.Duration("retry_in", next), zap.Error(err))
	})
	if err != nil {
		return fmt.Errorf("failed to verify repository %s: %w", c.Repo(), err)
	}
	return nil
}

// ListReleases returns every release of the repository, drafts included
func (c *Client) ListReleases(ctx context.Context) ([]model.Release, error) {
	var releases []model.Release
	opts := &github.ListOptions{PerPage: perPage}
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.gh.Repositories.ListReleases(ctx, c.owner, c.name, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list releases of %s: %w", c.Repo(), err)
		}
		for _, rel := range page {
			releases = append(releases, toRelease(rel))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	c.logger.Debug("listed releases", zap.Int("count", len(releases)))
	return releases, nil
}

// OpenAsset streams the binary content of a release asset
func (c *Client) OpenAsset(ctx context.Context, asset model.Asset) (io.ReadCloser, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	rc, redirect, err := c.gh.Repositories.DownloadReleaseAsset(ctx, c.owner, c.name, asset.ID, c.download)
	if err != nil {
		return nil, fmt.Errorf("failed to download asset %s: %w", asset.Name, err)
	}
	if rc == nil {
		return nil, fmt.Errorf("failed to download asset %s: unfollowed redirect to %s", asset.Name, redirect)
	}
	return rc, nil
}

// LookupRelease finds the release for tag. found is false when the tag has no release.
func (c *Client) LookupRelease(ctx context.Context, tag string) (model.Release, bool, error) {
	if err := c.wait(ctx); err != nil {
		return model.Release{}, false, err
	}
	rel, _, err := c.gh.Repositories.GetReleaseByTag(ctx, c.owner, c.name, tag)
	if err != nil {
		if statusCode(err) == http.StatusNotFound {
			return model.Release{}, false, nil
		}
		return model.Release{}, false, fmt.Errorf("failed to get release %s: %w", tag, err)
	}
	return toRelease(rel), true, nil
}

// CreateRelease creates a release carrying the tag, title, notes, draft and
// prerelease flags of release. Assets are not copied.
func (c *Client) CreateRelease(ctx context.Context, release model.Release) (model.Release, error) {
	if err := c.wait(ctx); err != nil {
		return model.Release{}, err
	}
	created, _, err := c.gh.Repositories.CreateRelease(ctx, c.owner, c.name, &github.RepositoryRelease{
		TagName:    github.String(release.TagName),
		Name:       github.String(release.Name),
		Body:       github.String(release.Body),
		Draft:      github.Bool(release.Draft),
		Prerelease: github.Bool(release.Prerelease),
	})
	if err != nil {
		return model.Release{}, fmt.Errorf("failed to create release %s: %w", release.TagName, err)
	}
	return toRelease(created), nil
}

// ListAssets returns every asset attached to a release
func (c *Client) ListAssets(ctx context.Context, releaseID int64) ([]model.Asset, error) {
	var assets []model.Asset
	opts := &github.ListOptions{PerPage: perPage}
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.gh.Repositories.ListReleaseAssets(ctx, c.owner, c.name, releaseID, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list assets of release %d: %w", releaseID, err)
		}
		for _, a := range page {
			assets = append(assets, toAsset(a))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return assets, nil
}

// DeleteAsset removes a release asset
func (c *Client) DeleteAsset(ctx context.Context, assetID int64) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, err := c.gh.Repositories.DeleteReleaseAsset(ctx, c.owner, c.name, assetID); err != nil {
		return fmt.Errorf("failed to delete asset %d: %w", assetID, err)
	}
	return nil
}

// UploadAsset attaches content to a release under name
func (c *Client) UploadAsset(ctx context.Context, releaseID int64, name, contentType string, content *os.File) (model.Asset, error) {
	if err := c.wait(ctx); err != nil {
		return model.Asset{}, err
	}
	uploaded, _, err := c.gh.Repositories.UploadReleaseAsset(ctx, c.owner, c.name, releaseID,
		&github.UploadOptions{Name: name, MediaType: contentType}, content)
	if err != nil {
		return model.Asset{}, fmt.Errorf("failed to upload asset %s: %w", name, err)
	}
	return toAsset(uploaded), nil
}

func statusCode(err error) int {
	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		return errResp.Response.StatusCode
	}
	return 0
}

func toRelease(rel *github.RepositoryRelease) model.Release {
	release := model.Release{
		ID:         rel.GetID(),
		TagName:    rel.GetTagName(),
		Name:       rel.GetName(),
		Body:       rel.GetBody(),
		Draft:      rel.GetDraft(),
		Prerelease: rel.GetPrerelease(),
		CreatedAt:  rel.GetCreatedAt().Time,
	}
	for _, a := range rel.Assets {
		release.Assets = append(release.Assets, toAsset(a))
	}
	return release
}

func toAsset(a *github.ReleaseAsset) model.Asset {
	return model.Asset{
		ID:          a.GetID(),
		Name:        a.GetName(),
		Size:        int64(a.GetSize()),
		UpdatedAt:   a.GetUpdatedAt().Time,
		ContentType: a.GetContentType(),
		DownloadURL: a.GetBrowserDownloadURL(),
	}
}
