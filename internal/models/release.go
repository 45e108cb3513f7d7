package models

import "fmt"

// TriggerType is the action carried by a release webhook event.
type TriggerType string

// TriggerCreated is the only action that starts a run.
const TriggerCreated TriggerType = "created"

// ReleaseEvent is the read-only trigger of one pipeline run.
type ReleaseEvent struct {
	Tag         string
	TriggerType TriggerType
	Owner       string
	Repo        string
	ReleaseID   int64 // zero when the event was synthesised from flags
}

// Repository returns "owner/repo".
func (e ReleaseEvent) Repository() string {
	return fmt.Sprintf("%s/%s", e.Owner, e.Repo)
}

// ToolchainSpec names the compiler channel and the cross-compilation target.
type ToolchainSpec struct {
	Name         string
	TargetTriple string
}

const (
	DefaultToolchain    = "stable"
	DefaultTargetTriple = "x86_64-unknown-linux-musl"
	DefaultBinaryName   = "parse_demo"
	DefaultBuildProfile = "release"
)

// BuildArtifact is the single binary handed from the build step to the publisher.
type BuildArtifact struct {
	SourcePath string
	AssetName  string
	Size       int64
}

// PublishedAsset describes the asset after upload.
type PublishedAsset struct {
	ID          int64
	Name        string
	DownloadURL string
	Replaced    bool
}

// CacheStatus records what the build cache did during a run.
type CacheStatus string

const (
	CacheDisabled CacheStatus = "disabled"
	CacheHit      CacheStatus = "hit"
	CacheMiss     CacheStatus = "miss"
	CacheError    CacheStatus = "error"
)
