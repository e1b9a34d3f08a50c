package imap

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/sirupsen/logrus"

	"github.com/EasyLZU/EasyLZUMail/internal/core/webmail"
	"github.com/EasyLZU/EasyLZUMail/internal/interfaces"
	"github.com/EasyLZU/EasyLZUMail/internal/utils/redact"
)

var logIMAP = logrus.WithField("pkg", "server/imap") //nolint:gochecknoglobals

const delimiter = "/"

var (
	// ErrReadOnly is returned for every command that would change a mailbox.
	ErrReadOnly = errors.New("mailboxes are read-only")
	// ErrUpstream is what clients see when the webmail service fails.
	ErrUpstream = errors.New("webmail request failed")
)

// Options configures the backend.
type Options struct {
	AccountPattern *regexp.Regexp
	OpTimeout      time.Duration
}

// ------------------- Backend -------------------

// backendImpl implements backend.Backend
type backendImpl struct {
	sessions interfaces.SessionOpener
	accounts *regexp.Regexp
	timeout  time.Duration
}

// NewBackend returns a backend.Backend serving mailboxes through sessions.
func NewBackend(sessions interfaces.SessionOpener, opts Options) backend.Backend {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 2 * time.Minute
	}
	return &backendImpl{
		sessions: sessions,
		accounts: opts.AccountPattern,
		timeout:  opts.OpTimeout,
	}
}

func (b *backendImpl) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), b.timeout)
}

// Login authenticates a user (implements backend.Backend)
func (b *backendImpl) Login(connInfo *imap.ConnInfo, username, password string) (backend.User, error) {
	log := logIMAP.WithField("account", redact.MaskEmail(username))
	if connInfo != nil && connInfo.RemoteAddr != nil {
		log = log.WithField("remote", connInfo.RemoteAddr.String())
	}

	if b.accounts != nil && !b.accounts.MatchString(username) {
		log.Warn("Login rejected, account does not match the allowed pattern")
		return nil, backend.ErrInvalidCredentials
	}

	ctx, cancel := b.opContext()
	defer cancel()
	bridge, err := b.sessions.Open(ctx, username, password)
	if err != nil {
		log.WithError(err).Warn("Login failed")
		return nil, backend.ErrInvalidCredentials
	}
	log = log.WithField("session", bridge.ID())
	log.Info("User logged in")

	return &userImpl{
		name:    username,
		secret:  password,
		bridge:  bridge,
		backend: b,
		log:     log,
	}, nil
}

// ------------------- User -------------------

type userImpl struct {
	name    string
	secret  string
	bridge  interfaces.MailboxBridge
	backend *backendImpl
	log     *logrus.Entry
}

// Username implements backend.User.
func (u *userImpl) Username() string {
	return u.name
}

// Logout implements backend.User. The upstream session stays cached for
// the next login.
func (u *userImpl) Logout() error {
	u.log.Debug("User logged out")
	return nil
}

func (u *userImpl) CreateMailbox(name string) error { return ErrReadOnly }

func (u *userImpl) DeleteMailbox(name string) error { return ErrReadOnly }

func (u *userImpl) RenameMailbox(existingName, newName string) error { return ErrReadOnly }

// ListMailboxes implements backend.User. Every folder counts as subscribed.
func (u *userImpl) ListMailboxes(subscribed bool) ([]backend.Mailbox, error) {
	ctx, cancel := u.backend.opContext()
	defer cancel()

	folders, err := u.bridge.GetFolders(ctx)
	if err != nil {
		return nil, u.failed("list mailboxes", err)
	}
	result := make([]backend.Mailbox, 0, len(folders))
	for _, f := range folders {
		result = append(result, &mailboxImpl{user: u, folder: f})
	}
	return result, nil
}

// GetMailbox implements backend.User.
func (u *userImpl) GetMailbox(name string) (backend.Mailbox, error) {
	ctx, cancel := u.backend.opContext()
	defer cancel()

	folder, err := u.bridge.Folder(ctx, name)
	if errors.Is(err, interfaces.ErrNonexistent) {
		return nil, backend.ErrNoSuchMailbox
	}
	if err != nil {
		return nil, u.failed("get mailbox", err)
	}
	return &mailboxImpl{user: u, folder: folder}, nil
}

// failed logs err and maps it to what the client sees. An expired upstream
// session is evicted so the next login starts a new one.
func (u *userImpl) failed(op string, err error) error {
	u.log.WithError(err).WithField("op", op).Error("IMAP operation failed")
	if webmail.IsSessionExpired(err) {
		u.backend.sessions.Evict(u.name, u.secret, u.bridge)
	}
	return ErrUpstream
}

// ------------------- Mailbox -------------------

type mailboxImpl struct {
	user   *userImpl
	folder interfaces.Folder
}

// Name implements backend.Mailbox.
func (m *mailboxImpl) Name() string {
	return m.folder.Path
}

// Info implements backend.Mailbox.
func (m *mailboxImpl) Info() (*imap.MailboxInfo, error) {
	info := &imap.MailboxInfo{
		Attributes: []string{imap.NoInferiorsAttr},
		Delimiter:  delimiter,
		Name:       m.folder.Path,
	}
	if m.folder.SpecialUse != "" {
		info.Attributes = append(info.Attributes, m.folder.SpecialUse)
	}
	return info, nil
}

// Status implements backend.Mailbox. It serves both STATUS and SELECT;
// the bridge selection is deferred to the first command that needs it.
func (m *mailboxImpl) Status(items []imap.StatusItem) (*imap.MailboxStatus, error) {
	ctx, cancel := m.user.backend.opContext()
	defer cancel()

	rec, err := m.user.bridge.Status(ctx, m.folder.Path)
	if err != nil {
		return nil, m.user.failed("status", err)
	}

	status := imap.NewMailboxStatus(m.folder.Path, items)
	status.Flags = []string{imap.SeenFlag}
	status.PermanentFlags = []string{}
	for _, item := range items {
		switch item {
		case imap.StatusMessages:
			status.Messages = rec.Messages
		case imap.StatusUidNext:
			status.UidNext = rec.UIDNext
		case imap.StatusUidValidity:
			status.UidValidity = rec.UIDValidity
		case imap.StatusRecent:
			status.Recent = 0
		case imap.StatusUnseen:
			status.Unseen = rec.Unseen
		}
	}
	return status, nil
}

// SetSubscribed implements backend.Mailbox. Subscriptions are not tracked.
func (m *mailboxImpl) SetSubscribed(subscribed bool) error {
	return nil
}

// Check implements backend.Mailbox.
func (m *mailboxImpl) Check() error {
	return nil
}

// ensureSelected makes this mailbox the bridge's selected folder.
func (m *mailboxImpl) ensureSelected(ctx context.Context) error {
	if m.user.bridge.Selected() == m.folder.Path {
		return nil
	}
	_, err := m.user.bridge.Select(ctx, m.folder.Path)
	return err
}

// ids expands seqset over the dense range 1..N shared by sequence numbers
// and UIDs.
func (m *mailboxImpl) ids(seqset *imap.SeqSet) []uint32 {
	if seqset == nil {
		return nil
	}
	n := m.folder.Messages
	var ids []uint32
	for id := uint32(1); id <= n; id++ {
		if seqset.Contains(id) {
			ids = append(ids, id)
		}
	}
	// "*" stands for the last message
	if n > 0 && seqset.Contains(0) && (len(ids) == 0 || ids[len(ids)-1] != n) {
		ids = append(ids, n)
	}
	return ids
}

// ListMessages implements backend.Mailbox.
func (m *mailboxImpl) ListMessages(uid bool, seqset *imap.SeqSet, items []imap.FetchItem, ch chan<- *imap.Message) error {
	defer close(ch)

	ctx, cancel := m.user.backend.opContext()
	defer cancel()

	if err := m.ensureSelected(ctx); err != nil {
		return m.user.failed("select", err)
	}

	query := interfaces.FetchQuery{
		UIDs:         m.ids(seqset),
		MetadataOnly: metadataOnly(items),
	}
	if len(query.UIDs) == 0 {
		return nil
	}

	sink := interfaces.FetchSinkFunc(func(rec *interfaces.FetchRecord) error {
		msg, err := formatMessage(rec, items)
		if err != nil {
			return err
		}
		select {
		case ch <- msg:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if _, err := m.user.bridge.Fetch(ctx, query, sink); err != nil {
		return m.user.failed("fetch", err)
	}
	return nil
}

// SearchMessages implements backend.Mailbox. Only the UID criterion of a
// UID SEARCH is answered.
func (m *mailboxImpl) SearchMessages(uid bool, criteria *imap.SearchCriteria) ([]uint32, error) {
	ctx, cancel := m.user.backend.opContext()
	defer cancel()

	if err := m.ensureSelected(ctx); err != nil {
		return nil, m.user.failed("select", err)
	}

	query := interfaces.SearchQuery{IsUID: uid}
	if criteria != nil && criteria.Uid != nil {
		query.Terms = append(query.Terms, interfaces.SearchTerm{Key: "uid", Values: m.ids(criteria.Uid)})
	}
	res, err := m.user.bridge.Search(ctx, query)
	if err != nil {
		return nil, m.user.failed("search", err)
	}
	if res == nil {
		return nil, nil
	}
	return res.UIDList, nil
}

func (m *mailboxImpl) CreateMessage(flags []string, date time.Time, body imap.Literal) error {
	return ErrReadOnly
}

func (m *mailboxImpl) UpdateMessagesFlags(uid bool, seqset *imap.SeqSet, operation imap.FlagsOp, flags []string) error {
	return ErrReadOnly
}

func (m *mailboxImpl) CopyMessages(uid bool, seqset *imap.SeqSet, dest string) error {
	return ErrReadOnly
}

func (m *mailboxImpl) Expunge() error {
	return ErrReadOnly
}
