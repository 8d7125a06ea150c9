// Package build supplies the pipeline's sourcing and building
// collaborators. Actual builds happen in an external CI system; what
// the daemon needs is the tag a build of a revision produces, which
// is deterministic.
package build

import (
	"context"
	"regexp"

	"github.com/pkg/errors"

	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/pipeline"
	"github.com/ragchat/bluegreen/pkg/service"
)

var (
	fullSHA     = regexp.MustCompile(`^[0-9a-f]{40}$`)
	illegalChar = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
	leadingSep  = regexp.MustCompile(`^[.-]+`)
)

// PinSourcer resolves a revision to itself: triggers are trusted to
// name the exact revision to release.
type PinSourcer struct{}

var _ pipeline.Sourcer = PinSourcer{}

func (PinSourcer) Resolve(_ context.Context, revision string) (string, error) {
	if revision == "" {
		return "", errors.New("empty revision")
	}
	return revision, nil
}

// TagBuilder maps a revision onto the image each service's build of
// it is published under: the service's own repository, tagged with
// Tag(revision).
type TagBuilder struct{}

var _ pipeline.Builder = TagBuilder{}

func (TagBuilder) Build(_ context.Context, revision string, services []service.Service) (map[string]image.Ref, error) {
	tag, err := Tag(revision)
	if err != nil {
		return nil, err
	}
	images := map[string]image.Ref{}
	for _, svc := range services {
		images[svc.Name] = svc.Image.ToRef(tag)
	}
	return images, nil
}

// Tag gives the image tag for a revision. Full commit SHAs become the
// conventional 7-character short form; anything else has tag-illegal
// characters replaced.
func Tag(revision string) (string, error) {
	if revision == "" {
		return "", errors.New("empty revision")
	}
	if fullSHA.MatchString(revision) {
		return revision[:7], nil
	}
	tag := illegalChar.ReplaceAllString(revision, "-")
	// Tags may not start with a separator.
	tag = leadingSep.ReplaceAllString(tag, "")
	if tag == "" {
		return "", errors.Errorf("revision %q has no tag-legal characters", revision)
	}
	if len(tag) > 128 {
		tag = tag[:128]
	}
	return tag, nil
}
