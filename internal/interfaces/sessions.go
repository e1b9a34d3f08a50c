package interfaces

import "context"

// SessionOpener resolves credentials to a bridge bound to a live upstream
// session.
type SessionOpener interface {
	Open(ctx context.Context, account, secret string) (MailboxBridge, error)
	// Evict drops the upstream session b was opened on. A newer session
	// cached for the same credentials is kept.
	Evict(account, secret string, b MailboxBridge)
}
