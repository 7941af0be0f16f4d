// Package common holds sentinel errors shared between packages.
package common

import "errors"

var (

	// repository specific errors
	ErrorNotFound = errors.New("not found")

	// ErrInlinePayload is returned by the hot store when a record still
	// carries an inline image payload. Inline payloads must be hoisted to
	// the object store before the record is written remotely.
	ErrInlinePayload = errors.New("inline image payload not allowed in hot store")

	// ErrInvalidReference is returned when an object-store reference
	// cannot be parsed back into a bucket/key pair.
	ErrInvalidReference = errors.New("invalid object reference")

	// ErrBadActivityDate marks a record whose activity date is missing or
	// outside any plausible range. Such records are never archived blind.
	ErrBadActivityDate = errors.New("malformed activity date")

	// ErrInvalidToken is returned when an identity token fails validation.
	ErrInvalidToken = errors.New("invalid token")
)
