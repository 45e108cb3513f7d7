package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"
)

// ErrorType defines the category of the error
type ErrorType string

const (
	TypeConfiguration   ErrorType = "CONFIGURATION"
	TypeProvisioning    ErrorType = "PROVISIONING"
	TypeToolchain       ErrorType = "TOOLCHAIN"
	TypeCache           ErrorType = "CACHE"
	TypeBuild           ErrorType = "BUILD"
	TypeMissingArtifact ErrorType = "MISSING_ARTIFACT"
	TypePublish         ErrorType = "PUBLISH"
	TypeInternal        ErrorType = "INTERNAL"
)

// AppError represents a domain-level error with a type and an underlying error
type AppError struct {
	Type       ErrorType
	Message    string
	Context    map[string]interface{}
	Err        error
	Suggestion string
}

func (e *AppError) Error() string {
	var msg string
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Type, e.Message)
	}

	if e.Context != nil {
		for _, key := range []string{"stderr", "output"} {
			if text, ok := e.Context[key].(string); ok && strings.TrimSpace(text) != "" {
				msg += fmt.Sprintf(" - %s", strings.TrimSpace(text))
			}
		}
	}

	return msg
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError of the same type and message, so sentinel
// values keep working after WithError/WithContext copies.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Message == t.Message
}

// WithError creates a new AppError with an underlying error
func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Type:       e.Type,
		Message:    e.Message,
		Context:    e.Context,
		Err:        err,
		Suggestion: e.Suggestion,
	}
}

// WithContext creates a new AppError with additional context
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	ctx := make(map[string]interface{})
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	return &AppError{
		Type:       e.Type,
		Message:    e.Message,
		Context:    ctx,
		Err:        e.Err,
		Suggestion: e.Suggestion,
	}
}

func (e *AppError) WithSuggestion(suggestion string) *AppError {
	return &AppError{
		Type:       e.Type,
		Message:    e.Message,
		Context:    e.Context,
		Err:        e.Err,
		Suggestion: suggestion,
	}
}

// NewAppError creates a new AppError
func NewAppError(t ErrorType, msg string, err error) *AppError {
	return &AppError{
		Type:    t,
		Message: msg,
		Err:     err,
	}
}

// TypeOf returns the type of the first AppError in err's chain, or
// TypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.Type
	}
	return TypeInternal
}

// IsFatal reports whether err must stop the pipeline. Cache errors are the
// only recoverable kind.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return TypeOf(err) != TypeCache
}

// Configuration errors
var (
	ErrEventMissingTag = NewAppError(TypeConfiguration, "release event has no tag", nil).
				WithSuggestion("Check the event payload contains release.tag_name, or pass --tag")

	ErrEventMalformed = NewAppError(TypeConfiguration, "release event payload is malformed", nil).
				WithSuggestion("The payload must be a GitHub 'release' webhook event in JSON")

	ErrEventSourceMissing = NewAppError(TypeConfiguration, "no release event available", nil).
				WithSuggestion("Set GITHUB_EVENT_PATH, pass --event <file>, or pass --tag")

	ErrRepositoryMissing = NewAppError(TypeConfiguration, "target repository is unknown", nil).
				WithSuggestion("Set GITHUB_REPOSITORY=owner/name or repository in .releasepipe.toml")

	ErrTokenMissing = NewAppError(TypeConfiguration, "GitHub token is missing", nil).
			WithSuggestion("Expose the repo-scoped token as GITHUB_TOKEN")

	ErrConfigInvalid = NewAppError(TypeConfiguration, "configuration is invalid", nil)
)

// Provisioning errors
var (
	ErrProvisionFailed = NewAppError(TypeProvisioning, "failed to install system packages", nil).
				WithSuggestion("Check the package manager output and network access")
)

// Toolchain errors
var (
	ErrInvalidTriple = NewAppError(TypeToolchain, "target triple is not valid", nil).
				WithSuggestion("Use the arch-vendor-os[-env] form, e.g. x86_64-unknown-linux-musl")

	ErrToolchainInstall = NewAppError(TypeToolchain, "failed to install toolchain", nil).
				WithSuggestion("Check that rustup is installed and the registry is reachable")

	ErrTargetAdd = NewAppError(TypeToolchain, "failed to add compilation target", nil).
			WithSuggestion("List supported targets: rustup target list")

	ErrTargetMissing = NewAppError(TypeToolchain, "target not installed after setup", nil)
)

// Cache errors, never fatal
var (
	ErrCacheKey     = NewAppError(TypeCache, "failed to compute cache key", nil)
	ErrCacheRestore = NewAppError(TypeCache, "failed to restore build cache", nil)
	ErrCacheSave    = NewAppError(TypeCache, "failed to save build cache", nil)
	ErrCacheLock    = NewAppError(TypeCache, "failed to lock build cache", nil)
)

// Build errors
var (
	ErrBuildFailed = NewAppError(TypeBuild, "Build operation failed", nil).
			WithSuggestion("Check build logs for compilation errors or missing dependencies")

	ErrNotStatic = NewAppError(TypeBuild, "artifact is not statically linked", nil).
			WithSuggestion("Build for a musl target so the C runtime is linked in")

	ErrNotExecutable = NewAppError(TypeBuild, "artifact is not executable", nil)

	ErrArtifactMissing = NewAppError(TypeMissingArtifact, "build artifact not found", nil).
				WithSuggestion("Check build.binary_name matches a [[bin]] target in Cargo.toml")

	ErrArtifactEmpty = NewAppError(TypeMissingArtifact, "build artifact is empty", nil)
)

// Publish errors
var (
	ErrReleaseNotFound = NewAppError(TypePublish, "release not found for tag", nil).
				WithSuggestion("Verify the release exists: gh release view <tag>")

	ErrGetRelease = NewAppError(TypePublish, "failed to look up release", nil)

	ErrTokenInvalid = NewAppError(TypePublish, "GitHub token is invalid or expired", nil)

	ErrInsufficientPerms = NewAppError(TypePublish, "GitHub token has insufficient permissions", nil).
				WithSuggestion("The workflow token needs 'contents: write'")

	ErrAssetExists = NewAppError(TypePublish, "release already has an asset with this name", nil).
			WithSuggestion("Set publish.on_existing = \"replace\" to overwrite it")

	ErrListAssets = NewAppError(TypePublish, "failed to list release assets", nil)

	ErrUploadAsset = NewAppError(TypePublish, "failed to upload release asset", nil)

	ErrDeleteAsset = NewAppError(TypePublish, "failed to delete existing release asset", nil)
)
