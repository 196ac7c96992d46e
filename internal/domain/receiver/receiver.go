// Package receiver manages the single shipping address attached to a user.
package receiver

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrNotFound is returned when the user has no saved receiver.
var ErrNotFound = errors.New("receiver not found")

// Receiver is a user's shipping address. A user owns at most one; edits
// overwrite it in place.
type Receiver struct {
	ID       uuid.UUID
	Name     string
	Phone    string
	PostCode string
	Address  string
}

// Info is the caller-supplied address payload.
type Info struct {
	Name     string
	Phone    string
	PostCode string
	Address  string
}

// Complete reports whether the receiver has everything checkout needs.
func (r *Receiver) Complete() bool {
	return r != nil && r.Name != "" && r.Phone != "" && r.Address != ""
}

// InvalidFieldError reports a field that failed validation.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid receiver %s: %s", e.Field, e.Reason)
}

var (
	phonePattern    = regexp.MustCompile(`^09\d{8}$`)
	postCodePattern = regexp.MustCompile(`^\d{3,6}$`)
)

// Validate checks the address payload against the storefront's shipping
// rules (domestic mobile numbers and postal codes only).
func Validate(info Info) error {
	if n := utf8.RuneCountInString(info.Name); n < 2 || n > 50 {
		return &InvalidFieldError{Field: "name", Reason: "must be 2 to 50 characters"}
	}
	if !phonePattern.MatchString(info.Phone) {
		return &InvalidFieldError{Field: "phone", Reason: "must be a mobile number like 09xxxxxxxx"}
	}
	if !postCodePattern.MatchString(info.PostCode) {
		return &InvalidFieldError{Field: "post_code", Reason: "must be 3 to 6 digits"}
	}
	if n := utf8.RuneCountInString(info.Address); n < 5 || n > 320 {
		return &InvalidFieldError{Field: "address", Reason: "must be 5 to 320 characters"}
	}
	return nil
}

// Repository defines persistence for receivers.
type Repository interface {
	// GetByUser returns the user's receiver, or ErrNotFound.
	GetByUser(ctx context.Context, userID uuid.UUID) (*Receiver, error)
	// Upsert overwrites the user's receiver in place, inserting and linking
	// it on first use. It returns the stored row.
	Upsert(ctx context.Context, userID uuid.UUID, info Info) (*Receiver, error)
}

// Resolver validates and upserts shipping addresses. It is shared by order
// creation and the standalone address endpoints.
type Resolver struct {
	repo Repository
}

// NewResolver creates a Resolver backed by the given Repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Get returns the user's saved receiver.
func (r *Resolver) Get(ctx context.Context, userID uuid.UUID) (*Receiver, error) {
	return r.repo.GetByUser(ctx, userID)
}

// Upsert validates info and writes it as the user's receiver.
func (r *Resolver) Upsert(ctx context.Context, userID uuid.UUID, info Info) (*Receiver, error) {
	if err := Validate(info); err != nil {
		return nil, err
	}
	return r.repo.Upsert(ctx, userID, info)
}
