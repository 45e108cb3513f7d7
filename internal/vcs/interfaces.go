package vcs

import (
	"context"

	"github.com/thomas-vilte/releasepipe/internal/models"
)

// AssetPublisher attaches build artifacts to releases in a version control
// hosting service.
type AssetPublisher interface {
	// PublishAsset uploads the artifact to the release identified by tag.
	// A single attempt is made; failures are returned, never retried.
	PublishAsset(ctx context.Context, tag string, artifact models.BuildArtifact) (*models.PublishedAsset, error)
}
