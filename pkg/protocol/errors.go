package protocol

// Error is the structured failure carried in responses and terminal events.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Candidates carries short-ids for ambiguous_identifier (max 5).
	Candidates []string `json:"candidates,omitempty"`
	// Conflicts carries conflicting paths for MERGE_CONFLICT.
	Conflicts []string `json:"conflicts,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// Input and state error codes surfaced in responses. A session never
// crashes on these; it answers and moves on.
const (
	ErrInvalidOffer        = "invalid_offer"
	ErrInvalidIdentifier   = "invalid_identifier"
	ErrAmbiguousIdentifier = "ambiguous_identifier"
	ErrBadRequest          = "bad_request"
	ErrAgentNotFound       = "agent_not_found"
	ErrDuplicateRequestID  = "duplicate_request_id"
	ErrNotGitRepo          = "not_git_repo"
	ErrNotAllowed          = "not_allowed"
	ErrTimeout             = "timeout"
	ErrCancelled           = "cancelled"
	ErrInternal            = "internal"
)

// Checkout error taxonomy, propagated verbatim to clients as Error.Code.
const (
	CheckoutErrNotGitRepo    = "NOT_GIT_REPO"
	CheckoutErrNotAllowed    = "NOT_ALLOWED"
	CheckoutErrMergeConflict = "MERGE_CONFLICT"
	CheckoutErrUnknown       = "UNKNOWN"
)

// Relay close reasons. The relay signals failures only through websocket
// close frames; there are no in-band error frames.
const (
	CloseInvalidSession       = "invalid_session"
	CloseSessionReplaced      = "session_replaced"
	CloseBackpressureExceeded = "backpressure_exceeded"
	CloseInternal             = "internal"
)
