// Package session observes the remote authentication session the local lock gate sits behind.
//
// A Source reports whether a remote session is currently present, notifies subscribers when
// presence changes, and performs sign-out. The lock gate treats presence as read-only input:
// identity, credentials and token issuance live in the remote auth service.
//
// PostgresSource reads the auth service's session table:
//
//	lockgate.sessions (
//	    id                text PRIMARY KEY,      -- ULID
//	    user_id           text NOT NULL,
//	    expires_at        timestamptz NOT NULL,
//	    revoked_at        timestamptz NULL,
//	    revocation_reason text NULL
//	)
//
// and listens on a NOTIFY channel whose payload is the changed session ID.
package session
