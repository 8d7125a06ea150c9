package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ragchat/bluegreen/pkg/image"
	"github.com/ragchat/bluegreen/pkg/pool"
)

// These are all the types of events. Deployment event types are the
// values `rollback_on_events` patterns are matched against, so they
// are part of the configuration surface; renaming one is a breaking
// change.
const (
	EventRunStarted   = "run.started"
	EventRunStage     = "run.stage"
	EventRunCompleted = "run.completed"

	EventDeployStarted       = "deploy.started"
	EventDeployProvisioned   = "deploy.provisioned"
	EventDeployHealth        = "deploy.health"
	EventDeployVerified      = "deploy.verified"
	EventDeployHealthTimeout = "deploy.health_timeout"
	EventDeployCutover       = "deploy.cutover"
	EventDeployCooldown      = "deploy.cooldown"
	EventDeployRegressed     = "deploy.health_regressed"
	EventDeployRollback      = "deploy.rollback"
	EventDeployCompleted     = "deploy.completed"

	// This is used to label events that we _don't_ consider an event in themselves.
	NoneOfTheAbove = "other"

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type EventID int64

type Event struct {
	// ID for this event; will be auto-set when saving if blank.
	ID EventID `json:"id"`

	// Names of services affected by this event.
	ServiceIDs []string `json:"serviceIDs"`

	// Type is the type of event; one of the Event* constants above.
	Type string `json:"type"`

	// StartedAt is the time the event began.
	StartedAt time.Time `json:"startedAt"`

	// EndedAt is the time the event ended. For instantaneous events,
	// this will be the same as StartedAt.
	EndedAt time.Time `json:"endedAt"`

	// LogLevel for this event. Used to indicate how important it is.
	// `debug|info|warn|error`
	LogLevel string `json:"logLevel"`

	// Message is a pre-formatted string for errors and other stuff.
	// Should only be used if metadata is empty.
	Message string `json:"message,omitempty"`

	// Metadata is Event.Type-specific metadata. If an event has no
	// metadata, this will be nil.
	Metadata EventMetadata `json:"metadata,omitempty"`
}

type EventWriter interface {
	// LogEvent records a message in the history.
	LogEvent(Event) error
}

func (e Event) ServiceIDStrings() []string {
	strs := append([]string{}, e.ServiceIDs...)
	sort.Strings(strs)
	return strs
}

func (e Event) String() string {
	if e.Message != "" {
		return e.Message
	}

	services := strings.Join(e.ServiceIDStrings(), ", ")
	switch e.Type {
	case EventRunStarted:
		metadata := e.Metadata.(*RunEventMetadata)
		return fmt.Sprintf("Run %s started for revision %s", metadata.RunID, metadata.Revision)
	case EventRunStage:
		metadata := e.Metadata.(*RunEventMetadata)
		return fmt.Sprintf("Run %s entered stage %s", metadata.RunID, metadata.Stage)
	case EventRunCompleted:
		metadata := e.Metadata.(*RunEventMetadata)
		if metadata.Error != "" {
			return fmt.Sprintf("Run %s failed in stage %s: %s", metadata.RunID, metadata.Stage, metadata.Error)
		}
		return fmt.Sprintf("Run %s succeeded", metadata.RunID)
	case EventDeployStarted:
		metadata := e.Metadata.(*DeployEventMetadata)
		return fmt.Sprintf("Deploying %s to %s (%s)", metadata.TargetImage, metadata.Target, metadata.Change)
	case EventDeployProvisioned:
		metadata := e.Metadata.(*DeployEventMetadata)
		return fmt.Sprintf("Provisioned pool %s with %s", metadata.Target, metadata.TargetImage)
	case EventDeployHealth:
		metadata := e.Metadata.(*HealthEventMetadata)
		return fmt.Sprintf("Pool %s: %d/%d replicas healthy", metadata.Pool, metadata.Ready, metadata.Desired)
	case EventDeployVerified:
		metadata := e.Metadata.(*DeployEventMetadata)
		return fmt.Sprintf("Pool %s verified healthy", metadata.Target)
	case EventDeployHealthTimeout:
		metadata := e.Metadata.(*DeployEventMetadata)
		return fmt.Sprintf("Pool %s did not become healthy in time", metadata.Target)
	case EventDeployCutover:
		metadata := e.Metadata.(*DeployEventMetadata)
		return fmt.Sprintf("Cut over %s from %s to %s", metadata.Service, metadata.Previous, metadata.Target)
	case EventDeployCooldown:
		metadata := e.Metadata.(*DeployEventMetadata)
		return fmt.Sprintf("Watching %s during cooldown", metadata.Target)
	case EventDeployRegressed:
		metadata := e.Metadata.(*HealthEventMetadata)
		return fmt.Sprintf("Pool %s regressed: %d/%d replicas healthy", metadata.Pool, metadata.Ready, metadata.Desired)
	case EventDeployRollback:
		metadata := e.Metadata.(*DeployEventMetadata)
		return fmt.Sprintf("Rolled %s back to %s: %s", metadata.Service, metadata.Previous, metadata.Reason)
	case EventDeployCompleted:
		metadata := e.Metadata.(*DeployEventMetadata)
		if metadata.Error != "" {
			return fmt.Sprintf("Deployment of %s failed: %s", metadata.Service, metadata.Error)
		}
		return fmt.Sprintf("Deployment of %s to %s complete", metadata.TargetImage, services)
	default:
		return fmt.Sprintf("Unknown event: %s", e.Type)
	}
}

// RunEventMetadata is the metadata for pipeline run transitions.
type RunEventMetadata struct {
	RunID    string `json:"runID"`
	Revision string `json:"revision,omitempty"`
	Stage    string `json:"stage,omitempty"`
	State    string `json:"state,omitempty"`
	// Message of the error if there was one.
	Error string `json:"error,omitempty"`
}

// DeployEventMetadata is the metadata for deployment lifecycle events:
// started, provisioned, verified, cutover, cooldown, rollback and
// completed.
type DeployEventMetadata struct {
	DeploymentID  string       `json:"deploymentID"`
	RunID         string       `json:"runID,omitempty"`
	Service       string       `json:"service"`
	Target        pool.ID      `json:"target,omitempty"`
	Previous      pool.ID      `json:"previous,omitempty"`
	TargetImage   image.Ref    `json:"targetImage,omitempty"`
	PreviousImage image.Ref    `json:"previousImage,omitempty"`
	Change        image.Change `json:"change,omitempty"`
	State         string       `json:"state,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	// Message of the error if there was one.
	Error string `json:"error,omitempty"`
}

// HealthEventMetadata is the metadata for replica health observations:
// readiness transitions during the verification gate, and regressions
// during cooldown. Replica details are represented with a local type
// rather than the fleet package's, to keep this package free of
// adapter imports (and coupling of serialised data to an internal
// API).
type HealthEventMetadata struct {
	DeploymentID string    `json:"deploymentID,omitempty"`
	Service      string    `json:"service"`
	Pool         pool.ID   `json:"pool"`
	Ready        int       `json:"ready"`
	Desired      int       `json:"desired"`
	Replicas     []Replica `json:"replicas,omitempty"`
}

// Replica is one replica's contribution to a health observation.
type Replica struct {
	ID      string `json:"id"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

type UnknownEventMetadata map[string]interface{}

func (e *Event) UnmarshalJSON(in []byte) error {
	type alias Event
	var wireEvent struct {
		*alias
		MetadataBytes json.RawMessage `json:"metadata,omitempty"`
	}
	wireEvent.alias = (*alias)(e)

	// Now unmarshall custom wireEvent with RawMessage
	if err := json.Unmarshal(in, &wireEvent); err != nil {
		return err
	}
	if wireEvent.Type == "" {
		return errors.New("Event type is empty")
	}

	metadata, err := ParseMetadata(wireEvent.Type, wireEvent.MetadataBytes)
	if err != nil {
		return err
	}
	e.Metadata = metadata
	return nil
}

// ParseMetadata unmarshals event metadata into the concrete type for
// the event type. The cases correspond to kinds of event that we care
// about processing e.g., for rollback triggers and notifications.
func ParseMetadata(eventType string, in []byte) (EventMetadata, error) {
	if len(in) == 0 {
		return nil, nil
	}
	switch eventType {
	case EventRunStarted, EventRunStage, EventRunCompleted:
		var metadata RunEventMetadata
		if err := json.Unmarshal(in, &metadata); err != nil {
			return nil, err
		}
		return &metadata, nil
	case EventDeployHealth, EventDeployRegressed:
		var metadata HealthEventMetadata
		if err := json.Unmarshal(in, &metadata); err != nil {
			return nil, err
		}
		return &metadata, nil
	case EventDeployStarted, EventDeployProvisioned, EventDeployVerified,
		EventDeployHealthTimeout, EventDeployCutover, EventDeployCooldown,
		EventDeployRollback, EventDeployCompleted:
		var metadata DeployEventMetadata
		if err := json.Unmarshal(in, &metadata); err != nil {
			return nil, err
		}
		return &metadata, nil
	default:
		var metadata UnknownEventMetadata
		if err := json.Unmarshal(in, &metadata); err != nil {
			return nil, err
		}
		return metadata, nil
	}
}

// EventMetadata is a type safety trick used to make sure that Metadata field
// of Event is always a pointer, so that consumers can cast without being
// concerned about encountering a value type instead. It works by virtue of the
// fact that the method is only defined for pointer receivers; the actual
// method chosen is entirely arbitrary.
type EventMetadata interface {
	Type() string
}

func (rem *RunEventMetadata) Type() string {
	return "run"
}

func (dem *DeployEventMetadata) Type() string {
	return "deploy"
}

func (hem *HealthEventMetadata) Type() string {
	return "health"
}

// Special exception from pointer receiver rule, as UnknownEventMetadata is a
// type alias for a map
func (uem UnknownEventMetadata) Type() string {
	return "unknown"
}
