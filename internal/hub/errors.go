package hub

import "errors"

var (
	// ErrMalformedMessage marks an inbound payload that is not a valid chat envelope.
	// It only affects the offending message; the session keeps reading.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrRecipientUnreachable marks a failed send to one recipient during a broadcast.
	// The recipient is removed from the registry once the pass completes.
	ErrRecipientUnreachable = errors.New("recipient unreachable")

	// ErrTransportClosed is returned by a Stream when the peer closed the connection
	// normally or the socket was closed locally.
	ErrTransportClosed = errors.New("transport closed")

	// ErrTransportFailure is returned by a Stream when reading failed for any other reason.
	ErrTransportFailure = errors.New("transport failure")

	// ErrDuplicateIdentifier is returned by Register when the generated id is already live.
	ErrDuplicateIdentifier = errors.New("duplicate connection identifier")

	// ErrHubClosed is returned by Serve once Shutdown has started.
	ErrHubClosed = errors.New("hub is shutting down")
)
