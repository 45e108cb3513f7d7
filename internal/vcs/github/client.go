package github

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/go-github/v80/github"
	domainErrors "github.com/thomas-vilte/releasepipe/internal/errors"
	"github.com/thomas-vilte/releasepipe/internal/logger"
	"github.com/thomas-vilte/releasepipe/internal/models"
	"github.com/thomas-vilte/releasepipe/internal/vcs"
	"golang.org/x/oauth2"
)

var _ vcs.AssetPublisher = (*GitHubClient)(nil)

const (
	OnExistingReject  = "reject"
	OnExistingReplace = "replace"

	defaultUploadTimeout = 5 * time.Minute
	assetsPerPage        = 100
)

// ValidOnExisting reports whether policy is OnExistingReject or
// OnExistingReplace.
func ValidOnExisting(policy string) bool {
	return policy == OnExistingReject || policy == OnExistingReplace
}

type ReleasesService interface {
	GetReleaseByTag(ctx context.Context, owner, repo, tag string) (*github.RepositoryRelease, *github.Response, error)
	ListReleaseAssets(ctx context.Context, owner, repo string, id int64, opts *github.ListOptions) ([]*github.ReleaseAsset, *github.Response, error)
	DeleteReleaseAsset(ctx context.Context, owner, repo string, id int64) (*github.Response, error)
	UploadReleaseAsset(ctx context.Context, owner, repo string, id int64, opt *github.UploadOptions, file *os.File) (*github.ReleaseAsset, *github.Response, error)
}

type GitHubClient struct {
	releaseService ReleasesService
	owner          string
	repo           string
	onExisting     string
	uploadTimeout  time.Duration
	releaseID      int64
	baseURL        string
	uploadURL      string
}

type Option func(*GitHubClient)

// WithOnExisting sets what happens when the release already has an asset
// with the same name: OnExistingReject or OnExistingReplace.
func WithOnExisting(policy string) Option {
	return func(c *GitHubClient) {
		if policy != "" {
			c.onExisting = policy
		}
	}
}

// WithUploadTimeout bounds the single upload attempt.
func WithUploadTimeout(timeout time.Duration) Option {
	return func(c *GitHubClient) {
		if timeout > 0 {
			c.uploadTimeout = timeout
		}
	}
}

// WithReleaseID uses the release ID carried by the webhook payload instead
// of looking the release up by tag. Zero keeps the lookup.
func WithReleaseID(id int64) Option {
	return func(c *GitHubClient) {
		c.releaseID = id
	}
}

// WithEnterpriseURLs points the client at a GitHub Enterprise Server.
func WithEnterpriseURLs(baseURL, uploadURL string) Option {
	return func(c *GitHubClient) {
		c.baseURL = baseURL
		c.uploadURL = uploadURL
	}
}

func NewGitHubClient(owner, repo, token string, opts ...Option) (*GitHubClient, error) {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	ghc := newClient(nil, owner, repo, opts...)

	client := github.NewClient(httpClient)
	if ghc.baseURL != "" {
		uploadURL := ghc.uploadURL
		if uploadURL == "" {
			uploadURL = ghc.baseURL
		}
		var err error
		client, err = client.WithEnterpriseURLs(ghc.baseURL, uploadURL)
		if err != nil {
			return nil, domainErrors.ErrConfigInvalid.WithError(err).WithContext("base_url", ghc.baseURL)
		}
	}

	ghc.releaseService = client.Repositories
	return ghc, nil
}

func NewGitHubClientWithServices(releaseService ReleasesService, owner, repo string, opts ...Option) *GitHubClient {
	return newClient(releaseService, owner, repo, opts...)
}

func newClient(releaseService ReleasesService, owner, repo string, opts ...Option) *GitHubClient {
	ghc := &GitHubClient{
		releaseService: releaseService,
		owner:          owner,
		repo:           repo,
		onExisting:     OnExistingReject,
		uploadTimeout:  defaultUploadTimeout,
	}
	for _, opt := range opts {
		opt(ghc)
	}
	return ghc
}

// PublishAsset resolves the release for tag and uploads the artifact under
// its asset name. Partial uploads left behind by a failure are not cleaned
// up.
func (ghc *GitHubClient) PublishAsset(ctx context.Context, tag string, artifact models.BuildArtifact) (*models.PublishedAsset, error) {
	log := logger.FromContext(ctx)

	release, err := ghc.getRelease(ctx, tag)
	if err != nil {
		return nil, err
	}

	existing, err := ghc.findAsset(ctx, release.GetID(), artifact.AssetName)
	if err != nil {
		return nil, err
	}

	replaced := false
	if existing != nil {
		if ghc.onExisting != OnExistingReplace {
			return nil, domainErrors.ErrAssetExists.
				WithContext("asset", artifact.AssetName).
				WithContext("version", tag)
		}

		log.Info("replacing existing asset", "asset", artifact.AssetName, "asset_id", existing.GetID())
		resp, err := ghc.releaseService.DeleteReleaseAsset(ctx, ghc.owner, ghc.repo, existing.GetID())
		if err != nil {
			if mapped := mapStatus(resp, "delete asset", tag); mapped != nil {
				return nil, mapped
			}
			return nil, domainErrors.ErrDeleteAsset.WithError(err).
				WithContext("asset", artifact.AssetName).
				WithContext("asset_id", existing.GetID())
		}
		replaced = true
	}

	asset, err := ghc.upload(ctx, release.GetID(), tag, artifact)
	if err != nil {
		return nil, err
	}

	published := &models.PublishedAsset{
		ID:          asset.GetID(),
		Name:        asset.GetName(),
		DownloadURL: asset.GetBrowserDownloadURL(),
		Replaced:    replaced,
	}
	log.Info("asset uploaded successfully",
		"asset", published.Name,
		"version", tag,
		"url", published.DownloadURL)

	return published, nil
}

func (ghc *GitHubClient) getRelease(ctx context.Context, tag string) (*github.RepositoryRelease, error) {
	if ghc.releaseID != 0 {
		return &github.RepositoryRelease{ID: github.Ptr(ghc.releaseID), TagName: github.Ptr(tag)}, nil
	}

	release, resp, err := ghc.releaseService.GetReleaseByTag(ctx, ghc.owner, ghc.repo, tag)
	if err != nil {
		if mapped := mapStatus(resp, "get release", tag); mapped != nil {
			return nil, mapped
		}
		if statusCode(resp) == http.StatusNotFound {
			return nil, domainErrors.ErrReleaseNotFound.
				WithContext("version", tag).
				WithContext("repo", fmt.Sprintf("%s/%s", ghc.owner, ghc.repo))
		}
		return nil, domainErrors.ErrGetRelease.WithError(err).WithContext("version", tag)
	}
	if release == nil {
		return nil, domainErrors.ErrReleaseNotFound.WithContext("version", tag)
	}
	return release, nil
}

func (ghc *GitHubClient) findAsset(ctx context.Context, releaseID int64, name string) (*github.ReleaseAsset, error) {
	opts := &github.ListOptions{PerPage: assetsPerPage}
	for {
		assets, resp, err := ghc.releaseService.ListReleaseAssets(ctx, ghc.owner, ghc.repo, releaseID, opts)
		if err != nil {
			if mapped := mapStatus(resp, "list assets", ""); mapped != nil {
				return nil, mapped
			}
			return nil, domainErrors.ErrListAssets.WithError(err).WithContext("release_id", releaseID)
		}

		for _, asset := range assets {
			if asset.GetName() == name {
				return asset, nil
			}
		}

		if resp == nil || resp.NextPage == 0 {
			return nil, nil
		}
		opts.Page = resp.NextPage
	}
}

func (ghc *GitHubClient) upload(ctx context.Context, releaseID int64, tag string, artifact models.BuildArtifact) (*github.ReleaseAsset, error) {
	log := logger.FromContext(ctx)

	file, err := os.Open(artifact.SourcePath)
	if err != nil {
		return nil, domainErrors.ErrArtifactMissing.WithError(err).WithContext("path", artifact.SourcePath)
	}
	defer func() {
		_ = file.Close()
	}()

	uploadCtx, cancel := context.WithTimeout(ctx, ghc.uploadTimeout)
	defer cancel()

	log.Info("uploading asset",
		"asset", artifact.AssetName,
		"release_id", releaseID,
		"timeout", ghc.uploadTimeout)

	uploadOpts := &github.UploadOptions{
		Name: artifact.AssetName,
	}

	asset, resp, err := ghc.releaseService.UploadReleaseAsset(uploadCtx, ghc.owner, ghc.repo, releaseID, uploadOpts, file)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(uploadCtx.Err(), context.DeadlineExceeded) {
			return nil, domainErrors.ErrUploadAsset.WithError(err).
				WithContext("asset", artifact.AssetName).
				WithContext("reason", "timeout").
				WithContext("timeout", ghc.uploadTimeout.String())
		}
		if statusCode(resp) == http.StatusUnprocessableEntity {
			return nil, domainErrors.ErrAssetExists.WithError(err).
				WithContext("asset", artifact.AssetName).
				WithContext("version", tag)
		}
		if mapped := mapStatus(resp, "upload asset", tag); mapped != nil {
			return nil, mapped
		}
		return nil, domainErrors.ErrUploadAsset.WithError(err).
			WithContext("asset_path", artifact.SourcePath).
			WithContext("release_id", releaseID).
			WithContext("status_code", statusCode(resp))
	}
	if asset == nil {
		return nil, domainErrors.ErrUploadAsset.WithContext("reason", "empty response")
	}

	return asset, nil
}

// mapStatus turns authentication and permission failures into their typed
// errors. Other statuses are left to the caller.
func mapStatus(resp *github.Response, operation, tag string) error {
	switch statusCode(resp) {
	case http.StatusUnauthorized:
		return domainErrors.ErrTokenInvalid.
			WithContext("operation", operation).
			WithContext("version", tag)
	case http.StatusForbidden:
		return domainErrors.ErrInsufficientPerms.
			WithContext("operation", operation).
			WithContext("version", tag)
	}
	return nil
}

func statusCode(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}
