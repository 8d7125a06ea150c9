package pool

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/pkg/errors"
)

var (
	ErrInvalidPoolID = errors.New("invalid pool ID")

	// Pool IDs look like `backend-blue`. The service part may itself
	// contain dashes, so the colour is always the last element.
	idRegexp = regexp.MustCompile("^([a-zA-Z0-9][a-zA-Z0-9_-]*)-(blue|green)$")
)

// Color names one side of a service's pool pair. A service always has
// exactly two pools, one per colour; at most one of them receives
// traffic at any moment.
type Color string

const (
	Blue  Color = "blue"
	Green Color = "green"
)

// Other returns the colour of the opposite pool.
func (c Color) Other() Color {
	if c == Blue {
		return Green
	}
	return Blue
}

// ParseColor constructs a Color from its string representation.
func ParseColor(s string) (Color, error) {
	switch Color(s) {
	case Blue, Green:
		return Color(s), nil
	}
	return "", errors.Errorf("invalid pool colour %q; expected %q or %q", s, Blue, Green)
}

// ID identifies one target pool of one service, e.g. `backend-blue`.
// It is used as the unit of fleet operations and as the value the
// traffic router points at.
type ID struct {
	Service string
	Color   Color
}

// MakeID constructs an ID from its constituent components.
func MakeID(service string, color Color) ID {
	return ID{Service: service, Color: color}
}

// ParseID constructs an ID from a string representation if possible,
// returning an error value otherwise.
func ParseID(s string) (ID, error) {
	m := idRegexp.FindStringSubmatch(s)
	if m == nil {
		return ID{}, errors.Wrap(ErrInvalidPoolID, "parsing "+s)
	}
	return ID{Service: m[1], Color: Color(m[2])}, nil
}

// MustParseID constructs an ID from a string representation, panicking
// if the format is invalid.
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) String() string {
	if id.Service == "" {
		return ""
	}
	return fmt.Sprintf("%s-%s", id.Service, id.Color)
}

// Other returns the ID of the same service's opposite pool.
func (id ID) Other() ID {
	return ID{Service: id.Service, Color: id.Color.Other()}
}

// IDs are encoded as their flat string form, so that they read well in
// logs, events and API responses.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*id = ID{}
		return nil
	}
	result, err := ParseID(str)
	if err != nil {
		return err
	}
	*id = result
	return nil
}

// MarshalText encodes an ID as a flat string; this is required because
// IDs are sometimes used as map keys.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes an ID from a flat string; this is required
// because IDs are sometimes used as map keys.
func (id *ID) UnmarshalText(text []byte) error {
	result, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = result
	return nil
}

// Health is the aggregate health of a pool, as judged from its replica
// statuses against the desired replica count.
type Health string

const (
	HealthUnknown     Health = "unknown"
	HealthProgressing Health = "progressing"
	HealthHealthy     Health = "healthy"
	HealthUnhealthy   Health = "unhealthy"
)
