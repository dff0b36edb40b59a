package nbiot

import "errors"

var (
	// ErrValidation is returned when caller input is rejected before any
	// command is sent to the modem: a context id outside [0,3], an empty
	// APN, an unknown data service or activation action, or malformed
	// session parameters.
	ErrValidation = errors.New("invalid argument")

	// ErrConfiguration is returned when an operation is attempted against
	// a context or session in the wrong lifecycle state, or when a
	// required precondition is missing: an unconfigured context, no active
	// context, an unsynchronized modem clock, a failed radio toggle, or a
	// failed TLS conversion binding.
	ErrConfiguration = errors.New("configuration error")

	// ErrProtocol is returned when an expected confirmation token is
	// absent or unparsable in the modem's response.
	//
	// A truncated read caused by an undersized settle duration is
	// indistinguishable from a genuine protocol violation at this layer
	// and is reported identically.
	ErrProtocol = errors.New("protocol error")

	// ErrResource is returned when a local credential file required for
	// secure provisioning does not exist.
	ErrResource = errors.New("resource missing")

	// ErrNoDialer is returned when a Hat is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order
	// to establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNoPowerLine is returned when PowerOn or PowerOff is called on a
	// Hat that was configured without a power control line.
	ErrNoPowerLine = errors.New("no power line configured")

	// ErrNotInitialized is returned when an operation is attempted on a
	// Hat whose transport was never established.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Hat that has
	// already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")
)
