package mcpmgr

import (
	"errors"
	"strings"
)

var (
	// ErrServerNotFound is returned when no configuration is registered for
	// the requested server name.
	ErrServerNotFound = errors.New("mcpmgr: server not found")
	// ErrServerNotConnected is returned when the server is configured but its
	// client is absent or not in the connected state.
	ErrServerNotConnected = errors.New("mcpmgr: server not connected")
	// ErrServerRestarting is returned when a call reached a server whose
	// transport is being swapped and the swap did not finish in time.
	ErrServerRestarting = errors.New("mcpmgr: server restarting")
	// ErrServerDisabled is returned when starting a disabled server.
	ErrServerDisabled = errors.New("mcpmgr: server disabled")
	// ErrInvalidConfig wraps validation failures.
	ErrInvalidConfig = errors.New("mcpmgr: invalid server config")
	// ErrTransportFailure wraps failures to open the underlying transport.
	ErrTransportFailure = errors.New("mcpmgr: transport failure")
	// ErrHandshakeFailure wraps failures of the MCP initialize exchange.
	ErrHandshakeFailure = errors.New("mcpmgr: handshake failure")
	// ErrConnectAborted is returned by Connect when Disconnect cancelled it.
	ErrConnectAborted = errors.New("mcpmgr: connect aborted")
	// ErrManagerClosed is returned by a Manager after Close.
	ErrManagerClosed = errors.New("mcpmgr: manager closed")
)

// isMethodUnavailableError reports whether err is a provider saying it does
// not implement method at all.
func isMethodUnavailableError(err error, method string) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "method not found") {
		return true
	}
	if !(strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "unsupported") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")) {
		return false
	}
	method = strings.ToLower(method)
	if strings.Contains(lower, method) {
		return true
	}
	for _, part := range strings.FieldsFunc(method, func(r rune) bool {
		return r == '/' || r == ':' || r == '.' || r == '_' || r == '-'
	}) {
		if part != "" && strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
