package relation

import "errors"

// Sentinel errors returned by Manager methods. These are message-scope
// errors (spec tier 1) — callers translate them into the appropriate
// *_ERROR control message rather than tearing down the session.
var (
	ErrAlreadySetUp        = errors.New("relation: session already set up")
	ErrNotSetUp            = errors.New("relation: session not set up")
	ErrNamespaceAnnounced  = errors.New("relation: namespace already announced by this session")
	ErrSubscribeIDTaken    = errors.New("relation: subscribe id not unique")
	ErrSubscribeIDTooLarge = errors.New("relation: subscribe id exceeds max")
	ErrTrackAliasTaken     = errors.New("relation: track alias not unique")
	ErrSubscriptionMissing = errors.New("relation: subscription not found")
	ErrEndpointMissing     = errors.New("relation: relation endpoint not found")
	ErrForwardingConflict  = errors.New("relation: forwarding preference already set to a different value")
	ErrManagerClosed       = errors.New("relation: manager closed")
)
