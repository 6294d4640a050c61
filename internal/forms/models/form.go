// Package models defines external form instances handed to applicants.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	id "onboarding/pkg/domain"
	dErrors "onboarding/pkg/domain-errors"
)

// Kind names the document an applicant is asked to complete.
type Kind string

const (
	KindFacilityApplication Kind = "facility_application"
	KindMandateDocuments    Kind = "mandate_documents"
	KindQuoteSignature      Kind = "quote_signature"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindFacilityApplication, KindMandateDocuments, KindQuoteSignature:
		return true
	}
	return false
}

// Status is the form lifecycle position: sent -> viewed -> submitted, or
// revoked/expired from either open state.
type Status string

const (
	StatusSent      Status = "sent"
	StatusViewed    Status = "viewed"
	StatusSubmitted Status = "submitted"
	StatusRevoked   Status = "revoked"
	StatusExpired   Status = "expired"
)

// OpenStatuses are the states from which a form can still be acted on.
var OpenStatuses = []Status{StatusSent, StatusViewed}

func (s Status) IsOpen() bool {
	return s == StatusSent || s == StatusViewed
}

// Instance is one issued form. The raw token is never stored.
type Instance struct {
	ID         id.FormID     `json:"id"`
	WorkflowID id.WorkflowID `json:"workflowId"`
	Kind       Kind          `json:"kind"`
	TokenHash  string        `json:"-"`
	Status     Status        `json:"status"`
	ExpiresAt  time.Time     `json:"expiresAt"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// HashToken is the lookup key for a raw form token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (f *Instance) Expired(now time.Time) bool {
	return !now.Before(f.ExpiresAt)
}

func (f *Instance) guardOpen(now time.Time) error {
	switch f.Status {
	case StatusRevoked:
		return dErrors.New(dErrors.CodeConflict, "form has been revoked")
	case StatusExpired:
		return dErrors.New(dErrors.CodeConflict, "form has expired")
	case StatusSubmitted:
		return dErrors.New(dErrors.CodeConflict, "form already submitted")
	}
	if f.Expired(now) {
		return dErrors.New(dErrors.CodeConflict, "form has expired")
	}
	return nil
}

// CanView allows repeated views of an open form.
func (f *Instance) CanView(now time.Time) error {
	return f.guardOpen(now)
}

func (f *Instance) ApplyView(now time.Time) {
	if f.Status == StatusSent {
		f.Status = StatusViewed
		f.UpdatedAt = now
	}
}

func (f *Instance) CanSubmit(now time.Time) error {
	return f.guardOpen(now)
}

func (f *Instance) ApplySubmit(now time.Time) {
	f.Status = StatusSubmitted
	f.UpdatedAt = now
}

func (f *Instance) CanRevoke() error {
	if !f.Status.IsOpen() {
		return dErrors.New(dErrors.CodeConflict, "form is not open")
	}
	return nil
}

func (f *Instance) ApplyRevoke(now time.Time) {
	f.Status = StatusRevoked
	f.UpdatedAt = now
}

// CanExpire is true for open forms whose deadline has passed.
func (f *Instance) CanExpire(now time.Time) bool {
	return f.Status.IsOpen() && f.Expired(now)
}

func (f *Instance) ApplyExpire(now time.Time) {
	f.Status = StatusExpired
	f.UpdatedAt = now
}

func (f *Instance) Clone() *Instance {
	c := *f
	return &c
}
