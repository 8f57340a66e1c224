package types

import (
	"fmt"
	"time"
)

// DeploymentID is the immutable identity of one deployable artifact.
// Two IDs with the same FunctionID but different VersionIDs are unrelated
// as far as the execution engine is concerned.
type DeploymentID struct {
	FunctionID string `json:"function_id"`
	VersionID  string `json:"version_id"`
}

// String returns the canonical function/version form of the identity.
func (id DeploymentID) String() string {
	return fmt.Sprintf("%s/%s", id.FunctionID, id.VersionID)
}

// NewDeploymentID creates a DeploymentID from a function and version ID.
func NewDeploymentID(functionID, versionID string) DeploymentID {
	return DeploymentID{
		FunctionID: functionID,
		VersionID:  versionID,
	}
}

// ParseDeploymentID parses a function/version string into a DeploymentID.
func ParseDeploymentID(key string) (DeploymentID, error) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return DeploymentID{FunctionID: key[:i], VersionID: key[i+1:]}, nil
		}
	}
	return DeploymentID{}, fmt.Errorf("invalid deployment id format: %s", key)
}

// TriggerKind enumerates the request sources a deployment declares.
type TriggerKind string

const (
	TriggerHTTP TriggerKind = "http"
	TriggerCron TriggerKind = "cron"
)

// Trigger is one declared request source for a deployment. Cron triggers
// carry the schedule expression; HTTP triggers carry nothing extra.
type Trigger struct {
	Kind     TriggerKind `json:"kind"`
	Schedule string      `json:"schedule,omitempty"`
}

// Descriptor holds the declared limits and environment of a deployment.
// It is immutable for the lifetime of a DeploymentID; a change implies a
// new version and therefore a new identity.
type Descriptor struct {
	MemoryLimitMB int               `json:"memory_limit_mb"`
	Timeout       time.Duration     `json:"timeout"`
	Environment   map[string]string `json:"environment,omitempty"`
	Triggers      []Trigger         `json:"triggers,omitempty"`
}

// CronSchedule returns the deployment's cron expression, if one is declared.
func (d Descriptor) CronSchedule() (string, bool) {
	for _, t := range d.Triggers {
		if t.Kind == TriggerCron && t.Schedule != "" {
			return t.Schedule, true
		}
	}
	return "", false
}

// Outcome classifies how an invocation completed.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeRuntimeError Outcome = "runtime_error"
	OutcomeRejected     Outcome = "rejected"
	OutcomeNotFound     Outcome = "not_found"
)

// InvocationRequest is one unit of work for the dispatcher. HTTP-originated
// and trigger-originated requests share this shape; triggers only differ in
// source.
type InvocationRequest struct {
	ID         string
	Deployment DeploymentID
	Method     string
	Path       string
	Headers    map[string]string
	Body       []byte
	Trigger    TriggerKind
	ReceivedAt time.Time
	// Timeout overrides the descriptor's default when positive.
	Timeout time.Duration
}

// InvocationResponse is the dispatcher's result for one request. It is
// never persisted by the engine; it is handed to the transport and to the
// observability sink after completion.
type InvocationResponse struct {
	Outcome  Outcome
	Status   int
	Headers  map[string]string
	Body     []byte
	Error    string
	Duration time.Duration
}

// ChangeKind enumerates catalog change feed message kinds.
type ChangeKind string

const (
	ChangeDeployed ChangeKind = "deployed"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeEvent is one message from the deployment change feed. Deployed
// events may name the version they supersede so the stale context can be
// retired without waiting for the idle sweep.
type ChangeEvent struct {
	FunctionID        string     `json:"functionId"`
	VersionID         string     `json:"versionId"`
	PreviousVersionID string     `json:"previousVersionId,omitempty"`
	Kind              ChangeKind `json:"kind"`
}

// InvocationRecord is the per-invocation observability record handed to the
// external sink, fire-and-forget.
type InvocationRecord struct {
	Deployment DeploymentID
	RequestID  string
	Outcome    Outcome
	Duration   time.Duration
	Timestamp  time.Time
	Logs       []ConsoleLine
}

// ConsoleLine is a single console.log/warn/error line captured from a
// sandbox during one invocation.
type ConsoleLine struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}
