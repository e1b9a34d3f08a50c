// Package session keeps one logged-in webmail client per credential pair and
// hands out protocol bridges bound to them.
package session

import (
	"context"
	"encoding/hex"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/EasyLZU/EasyLZUMail/internal/core/bridge"
	"github.com/EasyLZU/EasyLZUMail/internal/core/webmail"
	"github.com/EasyLZU/EasyLZUMail/internal/interfaces"
	"github.com/EasyLZU/EasyLZUMail/internal/utils/encryption"
	"github.com/EasyLZU/EasyLZUMail/internal/utils/redact"
)

var logSession = logrus.WithField("pkg", "core/session") //nolint:gochecknoglobals

// Key identifies a cached session. The secret only enters it as a keyed
// digest.
type Key struct {
	Account string
	Digest  [encryption.DigestSize]byte
}

// Client is a logged-in upstream session.
type Client interface {
	bridge.Webmail
}

// Dialer logs in to the webmail service.
type Dialer func(ctx context.Context, account, secret string) (Client, error)

// WebmailDialer returns a Dialer creating real clients with opts.
func WebmailDialer(opts webmail.Options) Dialer {
	return func(ctx context.Context, account, secret string) (Client, error) {
		c, err := webmail.New(opts)
		if err != nil {
			return nil, err
		}
		if err := c.Login(ctx, account, secret); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Registry caches webmail sessions by credentials. Logins for one key are
// coalesced; logins for different keys run independently.
type Registry struct {
	dial     Dialer
	digester *encryption.Digester
	opts     []bridge.Option
	group    singleflight.Group
	dropped  atomic.Int64

	mu       sync.RWMutex
	sessions map[Key]Client
}

var _ interfaces.SessionOpener = (*Registry)(nil)

// NewRegistry creates an empty registry. opts are applied to every handler
// it opens.
func NewRegistry(dial Dialer, opts ...bridge.Option) (*Registry, error) {
	digester, err := encryption.NewDigester()
	if err != nil {
		return nil, err
	}
	return &Registry{
		dial:     dial,
		digester: digester,
		opts:     opts,
		sessions: make(map[Key]Client),
	}, nil
}

func (r *Registry) key(account, secret string) Key {
	return Key{Account: account, Digest: r.digester.Sum(secret)}
}

// Open returns a fresh bridge handler bound to the session of the
// credentials, logging in when none is cached. A failed login registers
// nothing.
func (r *Registry) Open(ctx context.Context, account, secret string) (interfaces.MailboxBridge, error) {
	client, err := r.client(ctx, account, secret)
	if err != nil {
		return nil, err
	}
	opts := append([]bridge.Option{
		bridge.WithAccount(account),
		bridge.WithFailureObserver(r.countDropped),
	}, r.opts...)
	return bridge.NewHandler(client, opts...), nil
}

func (r *Registry) countDropped(uint32, error) {
	r.dropped.Add(1)
}

// DroppedMessages is the number of messages left out of fetch responses
// since the registry was created.
func (r *Registry) DroppedMessages() int64 {
	return r.dropped.Load()
}

func (r *Registry) client(ctx context.Context, account, secret string) (Client, error) {
	key := r.key(account, secret)
	if c, ok := r.lookup(key); ok {
		return c, nil
	}

	log := logSession.WithField("account", redact.MaskEmail(account))
	// The login is shared by every waiter, so no single caller may cancel it.
	loginCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(account+"/"+hex.EncodeToString(key.Digest[:]), func() (interface{}, error) {
		if c, ok := r.lookup(key); ok {
			return c, nil
		}
		log.Debug("Logging in to webmail")
		c, err := r.dial(loginCtx, account, secret)
		if err != nil {
			log.WithError(err).Warn("Webmail login failed")
			return nil, err
		}
		r.mu.Lock()
		r.sessions[key] = c
		r.mu.Unlock()
		log.Info("Webmail session registered")
		return c, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Client), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) lookup(key Key) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.sessions[key]
	return c, ok
}

// Evict drops the session of the credentials when it is still the one b
// was opened on. With a nil b the cached session is dropped unconditionally.
func (r *Registry) Evict(account, secret string, b interfaces.MailboxBridge) {
	var stale bridge.Webmail
	if h, ok := b.(*bridge.Handler); ok {
		stale = h.Upstream()
	}

	key := r.key(account, secret)
	r.mu.Lock()
	current, ok := r.sessions[key]
	evict := ok && (stale == nil || current == stale)
	if evict {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	if evict {
		logSession.WithField("account", redact.MaskEmail(account)).Info("Webmail session evicted")
	}
}

// EvictAccount drops every session of account and returns how many there
// were.
func (r *Registry) EvictAccount(account string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for key := range r.sessions {
		if key.Account == account {
			delete(r.sessions, key)
			n++
		}
	}
	if n > 0 {
		logSession.WithFields(logrus.Fields{"account": redact.MaskEmail(account), "sessions": n}).Info("Webmail sessions evicted")
	}
	return n
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Accounts lists the masked accounts with a cached session, sorted.
func (r *Registry) Accounts() []string {
	r.mu.RLock()
	seen := make(map[string]struct{}, len(r.sessions))
	for key := range r.sessions {
		seen[redact.MaskEmail(key.Account)] = struct{}{}
	}
	r.mu.RUnlock()

	accounts := make([]string, 0, len(seen))
	for a := range seen {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	return accounts
}

func (r *Registry) IsLoaded(account string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key := range r.sessions {
		if key.Account == account {
			return true
		}
	}
	return false
}
