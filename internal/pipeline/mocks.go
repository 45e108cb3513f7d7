package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/thomas-vilte/releasepipe/internal/models"
)

type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) Provision(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockToolchainInstaller struct {
	mock.Mock
}

func (m *MockToolchainInstaller) Install(ctx context.Context, spec models.ToolchainSpec) (string, error) {
	args := m.Called(ctx, spec)
	return args.String(0), args.Error(1)
}

type MockBuildCache struct {
	mock.Mock
}

func (m *MockBuildCache) Key(ctx context.Context, toolchainIdentity, triple string) (string, error) {
	args := m.Called(ctx, toolchainIdentity, triple)
	return args.String(0), args.Error(1)
}

func (m *MockBuildCache) Restore(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockBuildCache) Save(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockBuilder struct {
	mock.Mock
}

func (m *MockBuilder) Build(ctx context.Context, triple string) (models.BuildArtifact, error) {
	args := m.Called(ctx, triple)
	return args.Get(0).(models.BuildArtifact), args.Error(1)
}

func (m *MockBuilder) Verify(ctx context.Context, artifact models.BuildArtifact) (models.BuildArtifact, error) {
	args := m.Called(ctx, artifact)
	return args.Get(0).(models.BuildArtifact), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishAsset(ctx context.Context, tag string, artifact models.BuildArtifact) (*models.PublishedAsset, error) {
	args := m.Called(ctx, tag, artifact)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PublishedAsset), args.Error(1)
}
