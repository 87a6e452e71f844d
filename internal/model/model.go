// Package model defines the durable data types shared by the store, the
// worker pool, the handler interface, and the control API.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stage identifies a step in the pipeline. Each stage has exactly one
// handler and one endpoint binding.
type Stage string

// Pipeline stages in traversal order.
const (
	StageTriage    Stage = "triage"
	StageResearch  Stage = "research"
	StageResponse  Stage = "response"
	StageEditorial Stage = "editorial"
	StagePostQueue Stage = "post_queue"
	StageCompleted Stage = "completed"
	StageRejected  Stage = "rejected"
)

// Stages lists the stages a worker pool actually processes, i.e. every
// stage that has a handler and consumes concurrency. Completed/rejected
// are terminal and never claimed.
var Stages = []Stage{StageTriage, StageResearch, StageResponse, StageEditorial, StagePostQueue}

// Status is the per-item processing status independent of stage.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRejected   Status = "rejected"
)

// Item is a submission traversing the pipeline.
//
//nolint:govet // field order chosen for readability, not alignment
type Item struct {
	AssignedAt      *time.Time
	ProcessedAt     *time.Time
	AssignedTo      *string
	SourceCreatedAt time.Time
	CreatedAt       time.Time
	SourceID        string
	Title           string
	Author          string
	Body            string
	SourceURL       string
	Stage           Stage
	Status          Status
	Metadata        Metadata
	ID              int64
	RetryCount      int
}

// Metadata is the free-form structured key/value bag carried on an Item.
// Priority is the one field the orchestrator itself reads; everything
// else passes through opaque to handlers.
type Metadata struct {
	Priority int            `json:"priority"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// DefaultPriority is used when the ingestion collaborator omits priority.
const DefaultPriority = 5

// MinPriority and MaxPriority bound the priority range a handler may set
// via an advance directive.
const (
	MinPriority = 1
	MaxPriority = 10
)

// MarshalMetadata serializes Metadata for storage.
func MarshalMetadata(m Metadata) (string, error) {
	if m.Priority == 0 {
		m.Priority = DefaultPriority
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

// UnmarshalMetadata parses stored Metadata, defaulting priority when absent.
func UnmarshalMetadata(s string) (Metadata, error) {
	var m Metadata
	if s == "" {
		m.Priority = DefaultPriority
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return Metadata{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if m.Priority == 0 {
		m.Priority = DefaultPriority
	}
	return m, nil
}

// StageArtifact is the append-only output of one handler invocation.
//
//nolint:govet // field order chosen for readability, not alignment
type StageArtifact struct {
	CreatedAt time.Time
	ID        string
	ItemID    int64
	Stage     Stage
	Payload   string // raw JSON payload produced by the handler
}

// ProviderKind identifies the wire shape an endpoint speaks.
type ProviderKind string

const (
	ProviderHosted ProviderKind = "hosted"
	ProviderCustom ProviderKind = "custom"
)

// EndpointBinding is the per-stage remote-model configuration.
//
//nolint:govet // field order chosen for readability, not alignment
type EndpointBinding struct {
	Stage           Stage
	Provider        ProviderKind
	BaseURL         string
	Model           string
	AuthEnvKey      string // empty for custom providers that need no auth
	ConcurrencyCap  int
	Timeout         time.Duration
	DailyBudgetUSD  float64 // 0 means unlimited; supplemental to spec.md
}

// Recognized QueueSetting keys and their defaults, per spec.md §6.
const (
	SettingRetryTimeoutSeconds        = "retry_timeout_seconds"
	SettingMaxRetryAttempts           = "max_retry_attempts"
	SettingStuckPostThresholdMinutes  = "stuck_post_threshold_minutes"
	SettingPollIntervalSecondsPrefix  = "poll_interval_seconds." // + stage name
)

// DefaultSettings returns the recognized settings with their spec.md §6 defaults.
func DefaultSettings() map[string]string {
	return map[string]string{
		SettingRetryTimeoutSeconds:       "300",
		SettingMaxRetryAttempts:          "3",
		SettingStuckPostThresholdMinutes: "30",
		SettingPollIntervalSecondsPrefix + string(StageTriage):    "5",
		SettingPollIntervalSecondsPrefix + string(StageResearch):  "15",
		SettingPollIntervalSecondsPrefix + string(StageResponse):  "10",
		SettingPollIntervalSecondsPrefix + string(StageEditorial): "5",
		SettingPollIntervalSecondsPrefix + string(StagePostQueue): "10",
	}
}

// IsRecognizedSetting reports whether key is one the orchestrator understands.
func IsRecognizedSetting(key string) bool {
	if key == SettingRetryTimeoutSeconds || key == SettingMaxRetryAttempts || key == SettingStuckPostThresholdMinutes {
		return true
	}
	for _, s := range Stages {
		if key == SettingPollIntervalSecondsPrefix+string(s) {
			return true
		}
	}
	return false
}

// FallbackReason is a closed enumeration of why an item needed operator
// attention, per SPEC_FULL.md's resolution of the open fallback-reason
// question.
type FallbackReason string

const (
	FallbackEndpointUnreachable FallbackReason = "endpoint_unreachable"
	FallbackDeadlineExceeded    FallbackReason = "deadline_exceeded"
	FallbackEndpoint5xx         FallbackReason = "endpoint_5xx"
	FallbackModelProtocolError  FallbackReason = "model_protocol_error"
	FallbackToolRateLimited     FallbackReason = "tool_rate_limited"
	FallbackRetryExhausted      FallbackReason = "retry_exhausted"
)

// FallbackRecord is an append-only log entry indicating an item needs
// operator attention after exhausting automatic retries.
//
//nolint:govet // field order chosen for readability, not alignment
type FallbackRecord struct {
	CreatedAt time.Time
	ID        string
	ItemID    int64
	Stage     Stage
	Reason    FallbackReason
	Detail    string
}

// DirectiveKind tags the transition a handler requests via write_result.
type DirectiveKind string

const (
	DirectiveAdvance  DirectiveKind = "advance"
	DirectiveReject   DirectiveKind = "reject"
	DirectiveComplete DirectiveKind = "complete"
	DirectiveRetry    DirectiveKind = "retry"
)

// Directive is the tagged sum a handler's write_result call carries,
// per spec.md §9: never encode this as magic strings or nullable fields.
//
//nolint:govet // field order chosen for readability, not alignment
type Directive struct {
	Kind     DirectiveKind
	Next     Stage  // valid only for DirectiveAdvance
	Reason   string // valid only for DirectiveRetry
	Priority *int   // optional, valid only for DirectiveAdvance
}

// Advance builds an Advance directive to the given next stage.
func Advance(next Stage) Directive { return Directive{Kind: DirectiveAdvance, Next: next} }

// AdvanceWithPriority builds an Advance directive that also revises the
// item's priority, letting an earlier stage's judgment raise or lower the
// urgency later stages inherit.
func AdvanceWithPriority(next Stage, priority int) Directive {
	return Directive{Kind: DirectiveAdvance, Next: next, Priority: &priority}
}

// Reject builds a terminal Reject directive.
func Reject() Directive { return Directive{Kind: DirectiveReject} }

// Complete builds a terminal Complete directive.
func Complete() Directive { return Directive{Kind: DirectiveComplete} }

// Retry builds a Retry directive carrying a human-readable reason.
func Retry(reason string) Directive { return Directive{Kind: DirectiveRetry, Reason: reason} }

// NextStage returns the stage that follows s in the fixed pipeline order,
// or false if s is terminal or unrecognized.
func NextStage(s Stage) (Stage, bool) {
	for i, st := range Stages {
		if st == s {
			if i+1 < len(Stages) {
				return Stages[i+1], true
			}
			return StageCompleted, true
		}
	}
	return "", false
}
