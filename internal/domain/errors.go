package domain

import "errors"

// Caller input errors, rejected synchronously at submission time and
// never retried.
var (
	// ErrInvalidPost is returned when a post is created with missing or
	// invalid fields.
	ErrInvalidPost = errors.New("invalid scheduled post")

	// ErrInvalidTimezone is returned when a timezone name is malformed or
	// not a recognized IANA zone.
	ErrInvalidTimezone = errors.New("invalid timezone")

	// ErrScheduleInPast is returned when the target calendar date is
	// strictly before today in the store's zone.
	ErrScheduleInPast = errors.New("scheduled date is in the past")

	// ErrDuplicateDetected is returned when a candidate matches an
	// existing post by external id or normalized title.
	ErrDuplicateDetected = errors.New("duplicate post detected")
)

// State errors, returned when an operation is not valid for the post's
// current status.
var (
	// ErrNotFound is returned when a post does not exist.
	ErrNotFound = errors.New("post not found")

	// ErrNotReschedulable is returned when rescheduling a post that is no
	// longer in a scheduled state.
	ErrNotReschedulable = errors.New("post is not reschedulable")

	// ErrNotCancelable is returned when canceling a post that already
	// reached a terminal state.
	ErrNotCancelable = errors.New("post is not cancelable")

	// ErrAlreadyPublished is returned by the interactive publish-now path
	// when the post is already published.
	ErrAlreadyPublished = errors.New("post already published")

	// ErrNotPublishable is returned when publish-now is invoked on a post
	// that never reached a scheduled state (draft) or was canceled.
	ErrNotPublishable = errors.New("post cannot be published from its current status")
)
