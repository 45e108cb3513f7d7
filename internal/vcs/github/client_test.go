package github

import (
	"context"
	stdErrors "errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-github/v80/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	domainErrors "github.com/thomas-vilte/releasepipe/internal/errors"
	"github.com/thomas-vilte/releasepipe/internal/models"
)

const (
	testOwner = "test-owner"
	testRepo  = "test-repo"
	testTag   = "v1.0.0"
)

func okResponse() *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: http.StatusOK}}
}

func statusResponse(code int) *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: code}}
}

func testArtifact(t *testing.T) models.BuildArtifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parse_demo")
	require.NoError(t, os.WriteFile(path, []byte("\x7fELF binary"), 0755))
	return models.BuildArtifact{SourcePath: path, AssetName: "parse_demo", Size: 11}
}

func expectRelease(m *MockReleaseService) {
	m.On("GetReleaseByTag", mock.Anything, testOwner, testRepo, testTag).
		Return(&github.RepositoryRelease{ID: github.Ptr(int64(123)), TagName: github.Ptr(testTag)}, okResponse(), nil)
}

func uploadedAsset() *github.ReleaseAsset {
	return &github.ReleaseAsset{
		ID:                 github.Ptr(int64(9)),
		Name:               github.Ptr("parse_demo"),
		BrowserDownloadURL: github.Ptr("https://github.com/test-owner/test-repo/releases/download/v1.0.0/parse_demo"),
	}
}

func TestGitHubClient_PublishAsset(t *testing.T) {
	t.Run("should upload asset under the fixed name", func(t *testing.T) {
		mockRelease := &MockReleaseService{}
		client := NewGitHubClientWithServices(mockRelease, testOwner, testRepo)

		expectRelease(mockRelease)
		mockRelease.On("ListReleaseAssets", mock.Anything, testOwner, testRepo, int64(123), mock.Anything).
			Return([]*github.ReleaseAsset{{ID: github.Ptr(int64(1)), Name: github.Ptr("other.tar.gz")}}, okResponse(), nil)
		mockRelease.On("UploadReleaseAsset", mock.Anything, testOwner, testRepo, int64(123),
			mock.MatchedBy(func(o *github.UploadOptions) bool { return o.Name == "parse_demo" }), mock.Anything).
			Return(uploadedAsset(), okResponse(), nil)

		asset, err := client.PublishAsset(context.Background(), testTag, testArtifact(t))

		require.NoError(t, err)
		assert.Equal(t, "parse_demo", asset.Name)
		assert.Equal(t, int64(9), asset.ID)
		assert.Contains(t, asset.DownloadURL, "/releases/download/v1.0.0/parse_demo")
		assert.False(t, asset.Replaced)
		mockRelease.AssertExpectations(t)
	})

	t.Run("should use the payload release ID without a tag lookup", func(t *testing.T) {
		mockRelease := &MockReleaseService{}
		client := NewGitHubClientWithServices(mockRelease, testOwner, testRepo, WithReleaseID(777))

		mockRelease.On("ListReleaseAssets", mock.Anything, testOwner, testRepo, int64(777), mock.Anything).
			Return([]*github.ReleaseAsset{}, okResponse(), nil)
		mockRelease.On("UploadReleaseAsset", mock.Anything, testOwner, testRepo, int64(777), mock.Anything, mock.Anything).
			Return(uploadedAsset(), okResponse(), nil)

		asset, err := client.PublishAsset(context.Background(), testTag, testArtifact(t))

		require.NoError(t, err)
		assert.Equal(t, "parse_demo", asset.Name)
		mockRelease.AssertNotCalled(t, "GetReleaseByTag", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		mockRelease.AssertExpectations(t)
	})

	t.Run("should follow asset pagination", func(t *testing.T) {
		mockRelease := &MockReleaseService{}
		client := NewGitHubClientWithServices(mockRelease, testOwner, testRepo)

		expectRelease(mockRelease)
		page2 := okResponse()
		first := okResponse()
		first.NextPage = 2
		mockRelease.On("ListReleaseAssets", mock.Anything, testOwner, testRepo, int64(123),
			mock.MatchedBy(func(o *github.ListOptions) bool { return o.Page == 0 })).
			Return([]*github.ReleaseAsset{}, first, nil).Once()
		mockRelease.On("ListReleaseAssets", mock.Anything, testOwner, testRepo, int64(123),
			mock.MatchedBy(func(o *github.ListOptions) bool { return o.Page == 2 })).
			Return([]*github.ReleaseAsset{{ID: github.Ptr(int64(5)), Name: github.Ptr("parse_demo")}}, page2, nil).Once()

		_, err := client.PublishAsset(context.Background(), testTag, testArtifact(t))

		assert.True(t, stdErrors.Is(err, domainErrors.ErrAssetExists))
		mockRelease.AssertNotCalled(t, "UploadReleaseAsset", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("should reject existing asset by default", func(t *testing.T) {
		mockRelease := &MockReleaseService{}
		client := NewGitHubClientWithServices(mockRelease, testOwner, testRepo)

		expectRelease(mockRelease)
		mockRelease.On("ListReleaseAssets", mock.Anything, testOwner, testRepo, int64(123), mock.Anything).
			Return([]*github.ReleaseAsset{{ID: github.Ptr(int64(5)), Name: github.Ptr("parse_demo")}}, okResponse(), nil)

		_, err := client.PublishAsset(context.Background(), testTag, testArtifact(t))

		require.Error(t, err)
		assert.True(t, stdErrors.Is(err, domainErrors.ErrAssetExists))
		assert.Equal(t, domainErrors.TypePublish, domainErrors.TypeOf(err))
		mockRelease.AssertNotCalled(t, "DeleteReleaseAsset", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("should replace existing asset when configured", func(t *testing.T) {
		mockRelease := &MockReleaseService{}
		client := NewGitHubClientWithServices(mockRelease, testOwner, testRepo, WithOnExisting(OnExistingReplace))

		expectRelease(mockRelease)
		mockRelease.On("ListReleaseAssets", mock.Anything, testOwner, testRepo, int64(123), mock.Anything).
			Return([]*github.ReleaseAsset{{ID: github.Ptr(int64(5)), Name: github.Ptr("parse_demo")}}, okResponse(), nil)
		mockRelease.On("DeleteReleaseAsset", mock.Anything, testOwner, testRepo, int64(5)).
			Return(statusResponse(http.StatusNoContent), nil)
		mockRelease.On("UploadReleaseAsset", mock.Anything, testOwner, testRepo, int64(123), mock.Anything, mock.Anything).
			Return(uploadedAsset(), okResponse(), nil)

		asset, err := client.PublishAsset(context.Background(), testTag, testArtifact(t))

		require.NoError(t, err)
		assert.True(t, asset.Replaced)
		mockRelease.AssertExpectations(t)
	})

	t.Run("should fail once on upload timeout without retrying", func(t *testing.T) {
		mockRelease := &MockReleaseService{}
		client := NewGitHubClientWithServices(mockRelease, testOwner, testRepo, WithUploadTimeout(20*time.Millisecond))

		expectRelease(mockRelease)
		mockRelease.On("ListReleaseAssets", mock.Anything, testOwner, testRepo, int64(123), mock.Anything).
			Return([]*github.ReleaseAsset{}, okResponse(), nil)
		mockRelease.On("UploadReleaseAsset", mock.Anything, testOwner, testRepo, int64(123), mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, nil, context.DeadlineExceeded)

		_, err := client.PublishAsset(context.Background(), testTag, testArtifact(t))

		require.Error(t, err)
		assert.True(t, stdErrors.Is(err, domainErrors.ErrUploadAsset))
		assert.True(t, stdErrors.Is(err, context.DeadlineExceeded))
		mockRelease.AssertNumberOfCalls(t, "UploadReleaseAsset", 1)
	})

	t.Run("should map missing release", func(t *testing.T) {
		mockRelease := &MockReleaseService{}
		client := NewGitHubClientWithServices(mockRelease, testOwner, testRepo)

		mockRelease.On("GetReleaseByTag", mock.Anything, testOwner, testRepo, testTag).
			Return(nil, statusResponse(http.StatusNotFound), stdErrors.New("404 Not Found"))

		_, err := client.PublishAsset(context.Background(), testTag, testArtifact(t))

		assert.True(t, stdErrors.Is(err, domainErrors.ErrReleaseNotFound))
	})

	t.Run("should map auth failures", func(t *testing.T) {
		tests := []struct {
			status int
			want   *domainErrors.AppError
		}{
			{http.StatusUnauthorized, domainErrors.ErrTokenInvalid},
			{http.StatusForbidden, domainErrors.ErrInsufficientPerms},
		}
		for _, tt := range tests {
			mockRelease := &MockReleaseService{}
			client := NewGitHubClientWithServices(mockRelease, testOwner, testRepo)

			mockRelease.On("GetReleaseByTag", mock.Anything, testOwner, testRepo, testTag).
				Return(nil, statusResponse(tt.status), stdErrors.New("denied"))

			_, err := client.PublishAsset(context.Background(), testTag, testArtifact(t))
			assert.True(t, stdErrors.Is(err, tt.want), "status %d", tt.status)
		}
	})

	t.Run("should map upload 403 to insufficient permissions", func(t *testing.T) {
		mockRelease := &MockReleaseService{}
		client := NewGitHubClientWithServices(mockRelease, testOwner, testRepo)

		expectRelease(mockRelease)
		mockRelease.On("ListReleaseAssets", mock.Anything, testOwner, testRepo, int64(123), mock.Anything).
			Return([]*github.ReleaseAsset{}, okResponse(), nil)
		mockRelease.On("UploadReleaseAsset", mock.Anything, testOwner, testRepo, int64(123), mock.Anything, mock.Anything).
			Return(nil, statusResponse(http.StatusForbidden), stdErrors.New("403"))

		_, err := client.PublishAsset(context.Background(), testTag, testArtifact(t))

		assert.True(t, stdErrors.Is(err, domainErrors.ErrInsufficientPerms))
		mockRelease.AssertNumberOfCalls(t, "UploadReleaseAsset", 1)
	})

	t.Run("should report missing artifact before uploading", func(t *testing.T) {
		mockRelease := &MockReleaseService{}
		client := NewGitHubClientWithServices(mockRelease, testOwner, testRepo)

		expectRelease(mockRelease)
		mockRelease.On("ListReleaseAssets", mock.Anything, testOwner, testRepo, int64(123), mock.Anything).
			Return([]*github.ReleaseAsset{}, okResponse(), nil)

		_, err := client.PublishAsset(context.Background(), testTag,
			models.BuildArtifact{SourcePath: filepath.Join(t.TempDir(), "nope"), AssetName: "parse_demo"})

		assert.True(t, stdErrors.Is(err, domainErrors.ErrArtifactMissing))
		mockRelease.AssertNotCalled(t, "UploadReleaseAsset", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestValidOnExisting(t *testing.T) {
	assert.True(t, ValidOnExisting(OnExistingReject))
	assert.True(t, ValidOnExisting(OnExistingReplace))
	assert.False(t, ValidOnExisting("overwrite"))
	assert.False(t, ValidOnExisting(""))
}

func TestNewGitHubClient(t *testing.T) {
	client, err := NewGitHubClient(testOwner, testRepo, "token")
	require.NoError(t, err)
	assert.NotNil(t, client.releaseService)
	assert.Equal(t, OnExistingReject, client.onExisting)
	assert.Equal(t, defaultUploadTimeout, client.uploadTimeout)

	client, err = NewGitHubClient(testOwner, testRepo, "", WithEnterpriseURLs("https://ghe.example.com/api/v3/", ""))
	require.NoError(t, err)
	assert.NotNil(t, client.releaseService)
}
