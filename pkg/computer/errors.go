package computer

import "errors"

var (
	// ErrToolNotFound is returned when no connected server exposes a tool
	// under the requested name.
	ErrToolNotFound = errors.New("computer: tool not found")
	// ErrToolForbidden is returned when a server's forbidden_tools patterns
	// match the requested tool.
	ErrToolForbidden = errors.New("computer: tool forbidden")
	// ErrToolConflict is reported when two servers expose the same effective
	// tool name. The server later in name order loses the name.
	ErrToolConflict = errors.New("computer: tool name conflict")
	// ErrConfirmationRequired is returned when a tool needs confirmation and
	// no ConfirmFunc is configured.
	ErrConfirmationRequired = errors.New("computer: confirmation required")
	// ErrConfirmationDeclined is returned when the ConfirmFunc refuses a call.
	ErrConfirmationDeclined = errors.New("computer: confirmation declined")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("computer: closed")
)
