package server

import (
	"errors"
	"net"
	"strings"
)

var (
	// ErrClientClosed is returned by Client.Send once the client has been closed.
	ErrClientClosed = errors.New("client closed")

	// ErrSendBufferFull is returned by Client.Send when the outbound queue is full.
	ErrSendBufferFull = errors.New("client send buffer full")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
