package chat

import "errors"

var (
	// ErrConversationUnavailable rejects a send against a missing,
	// archived or blocked conversation. The caller must re-resolve.
	ErrConversationUnavailable = errors.New("conversation unavailable")

	// ErrNotParticipant rejects an operation by a user outside the
	// conversation's pair.
	ErrNotParticipant = errors.New("not a participant")

	// ErrSendTimeout marks an optimistic echo whose send attempt
	// exhausted its deadline. Retrying with the same client key is
	// safe.
	ErrSendTimeout = errors.New("send timed out")

	// ErrNotFound is the generic missing-row error.
	ErrNotFound = errors.New("not found")
)
