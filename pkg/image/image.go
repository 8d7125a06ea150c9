package image

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/docker/distribution/reference"
	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

var (
	ErrInvalidImageRef = errors.New("invalid image ref")
	ErrBlankImageRef   = errors.Wrap(ErrInvalidImageRef, "blank image name")
)

// Name represents an unversioned (i.e., untagged) image, a.k.a. an
// image repository. Refs are normalised on parsing, so a Name always
// carries a domain: `nginx` comes back as `docker.io/library/nginx`,
// and ECR names keep their registry host.
type Name struct {
	Domain, Image string
}

func (n Name) String() string {
	if n.Image == "" {
		return ""
	}
	if n.Domain == "" {
		return n.Image
	}
	return fmt.Sprintf("%s/%s", n.Domain, n.Image)
}

// ToRef tags a Name, yielding a deployable Ref.
func (n Name) ToRef(tag string) Ref {
	return Ref{Name: n, Tag: tag}
}

// ParseName parses a string representation of an image repository,
// without a tag or digest.
func ParseName(s string) (Name, error) {
	if s == "" {
		return Name{}, errors.Wrapf(ErrBlankImageRef, "parsing %q", s)
	}
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return Name{}, errors.Wrapf(ErrInvalidImageRef, "parsing %q: %s", s, err)
	}
	if _, tagged := named.(reference.Tagged); tagged {
		return Name{}, errors.Wrapf(ErrInvalidImageRef, "parsing %q: unexpected tag", s)
	}
	return Name{Domain: reference.Domain(named), Image: reference.Path(named)}, nil
}

// Name is serialized/deserialized as a string.
func (n Name) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

func (n *Name) UnmarshalJSON(data []byte) (err error) {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*n = Name{}
		return nil
	}
	*n, err = ParseName(str)
	return err
}

// Ref represents a versioned (i.e., tagged) image, optionally pinned
// by digest. This is the unit the engine deploys: a pool is
// provisioned with exactly one Ref.
//
// Examples (stringified):
//   - docker.io/library/nginx:1.17
//   - 123456789012.dkr.ecr.eu-west-1.amazonaws.com/ragchat/backend:v1.4.2
//   - docker.io/ragchat/frontend:v2.0.0@sha256:3f5a...
type Ref struct {
	Name
	Tag    string
	Digest digest.Digest
}

// String returns the Ref in its parseable form.
func (r Ref) String() string {
	s := r.Name.String()
	if r.Tag != "" {
		s += ":" + r.Tag
	}
	if r.Digest != "" {
		s += "@" + r.Digest.String()
	}
	return s
}

// ParseRef parses a string representation of an image ref. The
// grammar is the docker distribution one; names are normalised the
// same way the docker tooling does it.
func ParseRef(s string) (Ref, error) {
	if s == "" {
		return Ref{}, errors.Wrapf(ErrBlankImageRef, "parsing %q", s)
	}
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return Ref{}, errors.Wrapf(ErrInvalidImageRef, "parsing %q: %s", s, err)
	}
	ref := Ref{Name: Name{Domain: reference.Domain(named), Image: reference.Path(named)}}
	if tagged, ok := named.(reference.Tagged); ok {
		ref.Tag = tagged.Tag()
	}
	if digested, ok := named.(reference.Digested); ok {
		ref.Digest = digested.Digest()
	}
	return ref, nil
}

// MustParseRef constructs a Ref from a string representation,
// panicking if the format is invalid. Intended for tests and
// compiled-in defaults.
func MustParseRef(s string) Ref {
	r, err := ParseRef(s)
	if err != nil {
		panic(err)
	}
	return r
}

// WithNewTag makes a copy of the Ref with a new tag and no digest.
func (r Ref) WithNewTag(t string) Ref {
	r.Tag = t
	r.Digest = ""
	return r
}

// Ref is serialized/deserialized as a string.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Ref) UnmarshalJSON(data []byte) (err error) {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*r = Ref{}
		return nil
	}
	*r, err = ParseRef(str)
	return err
}

// Change classifies the move from one ref to another, as far as that
// can be read off the tags. It only annotates events and status
// output; the engine deploys whatever it is given either way.
type Change string

const (
	ChangeUpgrade   Change = "upgrade"
	ChangeDowngrade Change = "downgrade"
	ChangeRedeploy  Change = "redeploy"
	ChangeUnknown   Change = "unknown"
)

// Compare classifies `to` relative to `from` by semver tag order.
// Tags that do not parse as semver give ChangeUnknown, as does a
// repository change.
func Compare(from, to Ref) Change {
	if from.Name != to.Name {
		return ChangeUnknown
	}
	if from.Tag == to.Tag {
		return ChangeRedeploy
	}
	fv, ferr := semver.NewVersion(from.Tag)
	tv, terr := semver.NewVersion(to.Tag)
	if ferr != nil || terr != nil {
		return ChangeUnknown
	}
	if tv.LessThan(fv) {
		return ChangeDowngrade
	}
	return ChangeUpgrade
}
