package session

import "errors"

var (
	// ErrExpired: the session passed its deadline or was transitioned to
	// Expired after a rejected refresh.
	ErrExpired = errors.New("session: expired")

	// ErrConflict: a concurrent writer won the version race twice in a row.
	ErrConflict = errors.New("session: conflict")

	// ErrNoRefreshToken: the session has no refresh token to redeem; the
	// caller must restart the login flow.
	ErrNoRefreshToken = errors.New("session: no refresh token")

	// Linking invariants, surfaced to the caller verbatim.
	ErrProviderAlreadyLinked          = errors.New("session: provider already linked")
	ErrIdentityAlreadyLinkedElsewhere = errors.New("session: identity linked to another session")
	ErrCannotUnlinkLastIdentity       = errors.New("session: cannot unlink last identity")
)
