package github

import (
	"context"
	"os"

	"github.com/google/go-github/v80/github"
	"github.com/stretchr/testify/mock"
)

type MockReleaseService struct {
	mock.Mock
}

func (m *MockReleaseService) GetReleaseByTag(ctx context.Context, owner, repo, tag string) (*github.RepositoryRelease, *github.Response, error) {
	args := m.Called(ctx, owner, repo, tag)
	var release *github.RepositoryRelease
	if args.Get(0) != nil {
		release = args.Get(0).(*github.RepositoryRelease)
	}
	var resp *github.Response
	if args.Get(1) != nil {
		resp = args.Get(1).(*github.Response)
	}
	return release, resp, args.Error(2)
}

func (m *MockReleaseService) ListReleaseAssets(ctx context.Context, owner, repo string, id int64, opts *github.ListOptions) ([]*github.ReleaseAsset, *github.Response, error) {
	args := m.Called(ctx, owner, repo, id, opts)
	var assets []*github.ReleaseAsset
	if args.Get(0) != nil {
		assets = args.Get(0).([]*github.ReleaseAsset)
	}
	var resp *github.Response
	if args.Get(1) != nil {
		resp = args.Get(1).(*github.Response)
	}
	return assets, resp, args.Error(2)
}

func (m *MockReleaseService) DeleteReleaseAsset(ctx context.Context, owner, repo string, id int64) (*github.Response, error) {
	args := m.Called(ctx, owner, repo, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*github.Response), args.Error(1)
}

func (m *MockReleaseService) UploadReleaseAsset(ctx context.Context, owner, repo string, id int64, opt *github.UploadOptions, file *os.File) (*github.ReleaseAsset, *github.Response, error) {
	args := m.Called(ctx, owner, repo, id, opt, file)
	var asset *github.ReleaseAsset
	if args.Get(0) != nil {
		asset = args.Get(0).(*github.ReleaseAsset)
	}
	var resp *github.Response
	if args.Get(1) != nil {
		resp = args.Get(1).(*github.Response)
	}
	return asset, resp, args.Error(2)
}
