// This Source Code Form is subject to the terms of the MIT License.
// If a copy of the MIT License was not distributed with this
// file, you can obtain one at https://opensource.org/licenses/MIT.

package connection

import "errors"

// PeerConnectionError is returned by every PeerConnection handle
// method. None of these ever panic the caller -- a closed actor simply
// reports one of these values.
var (
	// ErrInternalReplyCancelled means the actor's reply channel was
	// dropped without a send, which only happens when the actor exits
	// mid-request (e.g. the handle's send raced the actor's shutdown).
	ErrInternalReplyCancelled = errors.New("connection: internal reply cancelled")
	// ErrActorShutdown means the actor has already exited; the
	// connection is gone and every handle method fails the same way.
	ErrActorShutdown = errors.New("connection: actor has shut down")
	// ErrNegotiationTimeout means protocol negotiation did not complete
	// within NegotiationTimeout.
	ErrNegotiationTimeout = errors.New("connection: protocol negotiation timed out")
	// ErrProtocolNotSupported means negotiation completed but no
	// acceptable protocol was found.
	ErrProtocolNotSupported = errors.New("connection: protocol not supported by peer")
)
