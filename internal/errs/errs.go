// Package errs defines the closed set of error kinds the Session runtime
// surfaces, matched with errors.Is against the sentinels below and wrapped
// with fmt.Errorf("...: %w", ...) at the call site, in the style
// internal/client/broker.go wraps broker errors.
package errs

import "errors"

var (
	// ErrConfigMissing means a required connection parameter could not be
	// resolved. Fatal at startup.
	ErrConfigMissing = errors.New("ratio1-sdk: required configuration value missing")

	// ErrParse means an inbound frame was not decodable. The envelope is
	// dropped with a diagnostic; this error never escapes the codec.
	ErrParse = errors.New("ratio1-sdk: frame parse failure")

	// ErrDecrypt means a payload addressed to self failed to decrypt or
	// parse. The envelope is dropped with a diagnostic.
	ErrDecrypt = errors.New("ratio1-sdk: decrypt failure")

	// ErrAddressUnresolved means an outbound command targeted an alias not
	// present in the directory. Raised to the caller of SendCommand.
	ErrAddressUnresolved = errors.New("ratio1-sdk: address unresolved")

	// ErrTransactionTimeout means a transaction's deadline was reached
	// without a matching response. The tracker neither returns nor passes
	// this error: a timed-out transaction is reported by invoking its
	// failure callback with the transaction, whose Status is StatusExpired.
	ErrTransactionTimeout = errors.New("ratio1-sdk: transaction timeout")

	// ErrBrokerDisconnected is transient; the supervisor reconnects.
	ErrBrokerDisconnected = errors.New("ratio1-sdk: broker disconnected")

	// ErrUnauthorized means an envelope was addressed to this node by a
	// sender not present in its whitelist. No code path returns or logs it:
	// inbound envelopes are not checked against any whitelist.
	ErrUnauthorized = errors.New("ratio1-sdk: sender not authorized")
)
