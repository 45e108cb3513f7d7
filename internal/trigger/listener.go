// Package trigger turns a GitHub "release" webhook payload into the
// ReleaseEvent that starts a pipeline run.
package trigger

import (
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/go-github/v80/github"
	"github.com/thomas-vilte/releasepipe/internal/errors"
	"github.com/thomas-vilte/releasepipe/internal/models"
	"github.com/tidwall/jsonc"
)

// ErrEventIgnored is returned for release actions other than "created".
// It is not a failure: the pipeline simply does not start.
var ErrEventIgnored = stdErrors.New("release event ignored")

// IgnoredEventError carries the action that did not start the pipeline.
type IgnoredEventError struct {
	Action models.TriggerType
}

func (e *IgnoredEventError) Error() string {
	return fmt.Sprintf("%s: action %q", ErrEventIgnored, e.Action)
}

func (e *IgnoredEventError) Is(target error) bool {
	return target == ErrEventIgnored
}

// Source describes where the event comes from. EventPath wins over Tag.
type Source struct {
	EventPath string
	Tag       string
	Action    string
	// Repository is the "owner/name" fallback when the payload has none.
	Repository string
}

// Listen reads and validates the triggering event.
func Listen(src Source) (*models.ReleaseEvent, error) {
	var (
		event *models.ReleaseEvent
		err   error
	)

	switch {
	case src.EventPath != "":
		event, err = readPayloadFile(src.EventPath)
	case src.Tag != "" || src.Action != "":
		event = &models.ReleaseEvent{
			Tag:         strings.TrimSpace(src.Tag),
			TriggerType: models.TriggerType(src.Action),
		}
		if event.TriggerType == "" {
			event.TriggerType = models.TriggerCreated
		}
	default:
		return nil, errors.ErrEventSourceMissing
	}
	if err != nil {
		return nil, err
	}

	if err := Validate(event); err != nil {
		return nil, err
	}

	if event.Owner == "" || event.Repo == "" {
		owner, repo, ok := strings.Cut(src.Repository, "/")
		if !ok || owner == "" || repo == "" {
			return nil, errors.ErrRepositoryMissing.WithContext("repository", src.Repository)
		}
		event.Owner, event.Repo = owner, repo
	}
	return event, nil
}

// Validate applies the start conditions: action must be "created" and the
// tag must be present.
func Validate(event *models.ReleaseEvent) error {
	if event.TriggerType != models.TriggerCreated {
		return &IgnoredEventError{Action: event.TriggerType}
	}
	if strings.TrimSpace(event.Tag) == "" {
		return errors.ErrEventMissingTag
	}
	return nil
}

// ParsePayload decodes a release webhook payload. Comments and trailing
// commas are accepted so hand-written fixtures can be annotated.
func ParsePayload(data []byte) (*models.ReleaseEvent, error) {
	var payload github.ReleaseEvent
	if err := json.Unmarshal(jsonc.ToJSON(data), &payload); err != nil {
		return nil, errors.ErrEventMalformed.WithError(err)
	}
	if payload.Action == nil {
		return nil, errors.ErrEventMalformed.WithContext("reason", "missing action")
	}

	release := payload.GetRelease()
	repo := payload.GetRepo()

	return &models.ReleaseEvent{
		Tag:         strings.TrimSpace(release.GetTagName()),
		TriggerType: models.TriggerType(payload.GetAction()),
		Owner:       repo.GetOwner().GetLogin(),
		Repo:        repo.GetName(),
		ReleaseID:   release.GetID(),
	}, nil
}

func readPayloadFile(path string) (*models.ReleaseEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ErrEventMalformed.WithError(err).WithContext("path", path)
	}
	return ParsePayload(data)
}
