// Package domain holds typed identifiers shared across bounded contexts.
//
// IDs are distinct named UUID types so a WorkflowID can never be passed where an
// ApplicantID is expected. Parse functions are the trust boundary: they reject
// empty, malformed and nil UUIDs with CodeInvalidInput.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "onboarding/pkg/domain-errors"
)

type (
	WorkflowID     uuid.UUID
	ApplicantID    uuid.UUID
	EventID        uuid.UUID
	FormID         uuid.UUID
	NotificationID uuid.UUID
	UserID         uuid.UUID
)

// CorrelationID ties an outbound capability dispatch to its asynchronous callback.
type CorrelationID string

func (id WorkflowID) String() string     { return uuid.UUID(id).String() }
func (id ApplicantID) String() string    { return uuid.UUID(id).String() }
func (id EventID) String() string        { return uuid.UUID(id).String() }
func (id FormID) String() string         { return uuid.UUID(id).String() }
func (id NotificationID) String() string { return uuid.UUID(id).String() }
func (id UserID) String() string         { return uuid.UUID(id).String() }
func (id CorrelationID) String() string  { return string(id) }

func (id WorkflowID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ApplicantID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id FormID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id CorrelationID) IsNil() bool { return id == "" }

func NewWorkflowID() WorkflowID         { return WorkflowID(uuid.New()) }
func NewEventID() EventID               { return EventID(uuid.New()) }
func NewFormID() FormID                 { return FormID(uuid.New()) }
func NewNotificationID() NotificationID { return NotificationID(uuid.New()) }
func NewCorrelationID() CorrelationID   { return CorrelationID(uuid.NewString()) }

func ParseWorkflowID(s string) (WorkflowID, error) {
	u, err := parseUUID(s, "workflow id")
	return WorkflowID(u), err
}

func ParseApplicantID(s string) (ApplicantID, error) {
	u, err := parseUUID(s, "applicant id")
	return ApplicantID(u), err
}

func ParseFormID(s string) (FormID, error) {
	u, err := parseUUID(s, "form id")
	return FormID(u), err
}

func ParseNotificationID(s string) (NotificationID, error) {
	u, err := parseUUID(s, "notification id")
	return NotificationID(u), err
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

// ParseCorrelationID accepts any non-blank opaque string up to 128 bytes.
func ParseCorrelationID(s string) (CorrelationID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "correlation id is required")
	}
	if len(s) > 128 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "correlation id must be at most 128 characters")
	}
	return CorrelationID(s), nil
}

func parseUUID(s, name string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, name+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+name+" format")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, name+" cannot be nil")
	}
	return u, nil
}

// Text marshaling keeps IDs rendered as canonical UUID strings in JSON.

func (id WorkflowID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id ApplicantID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id EventID) MarshalText() ([]byte, error)        { return uuid.UUID(id).MarshalText() }
func (id FormID) MarshalText() ([]byte, error)         { return uuid.UUID(id).MarshalText() }
func (id NotificationID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id UserID) MarshalText() ([]byte, error)         { return uuid.UUID(id).MarshalText() }

func (id *WorkflowID) UnmarshalText(b []byte) error     { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *ApplicantID) UnmarshalText(b []byte) error    { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *EventID) UnmarshalText(b []byte) error        { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *FormID) UnmarshalText(b []byte) error         { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *NotificationID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *UserID) UnmarshalText(b []byte) error         { return unmarshalUUID(b, (*uuid.UUID)(id)) }

// unmarshalUUID leaves the zero value for empty input so optional fields decode.
func unmarshalUUID(b []byte, dst *uuid.UUID) error {
	if len(b) == 0 {
		*dst = uuid.Nil
		return nil
	}
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid uuid format")
	}
	*dst = u
	return nil
}
