package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gluonimap "github.com/ProtonMail/gluon/imap"
	"github.com/bradenaw/juniper/xslices"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/EasyLZU/EasyLZUMail/internal/core/webmail"
	"github.com/EasyLZU/EasyLZUMail/internal/interfaces"
	"github.com/EasyLZU/EasyLZUMail/internal/utils/redact"
)

var logBridge = logrus.WithField("pkg", "core/bridge") //nolint:gochecknoglobals

var (
	ErrNoSelection    = errors.New("no mailbox selected")
	ErrMessageMissing = errors.New("message not found upstream")
)

// uid-validity is the wall clock in seconds, strictly increasing across all
// selections of the process.
var defaultUIDValidity gluonimap.UIDValidityGenerator = gluonimap.NewEpochUIDValidityGenerator(time.Unix(0, 0)) //nolint:gochecknoglobals

// Webmail is the read API of an upstream session.
type Webmail interface {
	ListFolders(ctx context.Context) ([]webmail.Folder, error)
	ListMessages(ctx context.Context, folderID, offset, limit int) ([]webmail.MessageSummary, error)
	FetchMessageContent(ctx context.Context, messageID string) ([]byte, error)
}

// FailureObserver is told about every message dropped from a fetch batch.
// It may be called from several handlers at once.
type FailureObserver func(uid uint32, err error)

type Option func(*Handler)

// WithFailureObserver adds o to the observers of dropped messages.
func WithFailureObserver(o FailureObserver) Option {
	return func(h *Handler) { h.observers = append(h.observers, o) }
}

func WithUIDValidityGenerator(g gluonimap.UIDValidityGenerator) Option {
	return func(h *Handler) { h.uidValidity = g }
}

// WithAccount tags the handler's log lines with the (masked) account.
func WithAccount(account string) Option {
	return func(h *Handler) { h.log = h.log.WithField("account", redact.MaskEmail(account)) }
}

// Handler serves one protocol session on top of a shared upstream session.
// It owns its folder list and its message caches.
type Handler struct {
	id          string
	client      Webmail
	log         *logrus.Entry
	uidValidity gluonimap.UIDValidityGenerator
	observers   []FailureObserver
	group       singleflight.Group

	mu        sync.Mutex
	folders   []interfaces.Folder
	selected  *interfaces.Folder
	summaries map[summaryKey]webmail.MessageSummary
	contents  map[string][]byte
}

var _ interfaces.MailboxBridge = (*Handler)(nil)

// NewHandler binds a handler to client. The client is not owned.
func NewHandler(client Webmail, opts ...Option) *Handler {
	id := xid.New().String()
	h := &Handler{
		id:          id,
		client:      client,
		log:         logBridge.WithField("session", id),
		uidValidity: defaultUIDValidity,
		summaries:   make(map[summaryKey]webmail.MessageSummary),
		contents:    make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ID identifies the handler in logs.
func (h *Handler) ID() string { return h.id }

// Upstream returns the webmail session the handler reads through.
func (h *Handler) Upstream() Webmail { return h.client }

// GetFolders lists the upstream folders once and serves the cached list
// afterwards.
func (h *Handler) GetFolders(ctx context.Context) ([]interfaces.Folder, error) {
	if folders := h.cachedFolders(); folders != nil {
		return folders, nil
	}
	_, err, _ := h.group.Do("folders", func() (interface{}, error) {
		if h.cachedFolders() != nil {
			return nil, nil
		}
		raw, err := h.client.ListFolders(ctx)
		if err != nil {
			return nil, err
		}
		folders := xslices.Map(raw, toFolder)
		h.mu.Lock()
		h.folders = folders
		h.mu.Unlock()
		h.log.WithField("folders", len(folders)).Debug("Folder list loaded")
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return h.cachedFolders(), nil
}

func (h *Handler) cachedFolders() []interfaces.Folder {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.folders
}

// Folder resolves a protocol mailbox name, treating INBOX case-insensitively.
func (h *Handler) Folder(ctx context.Context, name string) (interfaces.Folder, error) {
	folders, err := h.GetFolders(ctx)
	if err != nil {
		return interfaces.Folder{}, err
	}
	target := upstreamName(name)
	for _, f := range folders {
		if f.Name == target {
			return f, nil
		}
	}
	return interfaces.Folder{}, fmt.Errorf("%w: %s", interfaces.ErrNonexistent, name)
}

// Select makes name the current folder. Each call starts a new incarnation
// of the mailbox with a fresh uid-validity.
func (h *Handler) Select(ctx context.Context, name string) (*interfaces.MailboxDescriptor, error) {
	folder, err := h.Folder(ctx, name)
	if err != nil {
		return nil, err
	}
	validity, err := h.nextUIDValidity()
	if err != nil {
		return nil, err
	}

	uids := make([]uint32, folder.Messages)
	for i := range uids {
		uids[i] = uint32(i + 1)
	}

	h.mu.Lock()
	h.selected = &folder
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"mailbox": folder.Path, "messages": folder.Messages}).Debug("Mailbox selected")
	return &interfaces.MailboxDescriptor{
		Path:        folder.Path,
		UIDValidity: validity,
		UIDList:     uids,
		UIDNext:     folder.Messages + 1,
		SpecialUse:  folder.SpecialUse,
	}, nil
}

// Selected returns the path of the selected folder, or "".
func (h *Handler) Selected() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.selected == nil {
		return ""
	}
	return h.selected.Path
}

// Status reports counters of name without changing the selection.
func (h *Handler) Status(ctx context.Context, name string) (*interfaces.StatusRecord, error) {
	folder, err := h.Folder(ctx, name)
	if err != nil {
		return nil, err
	}
	validity, err := h.nextUIDValidity()
	if err != nil {
		return nil, err
	}
	return &interfaces.StatusRecord{
		Messages:      folder.Messages,
		UIDNext:       folder.Messages + 1,
		UIDValidity:   validity,
		HighestModSeq: 0,
		Unseen:        folder.Unseen,
	}, nil
}

// Search only answers UID scoped queries by echoing the requested UIDs.
// Anything else is unsupported and yields a nil result.
func (h *Handler) Search(_ context.Context, query interfaces.SearchQuery) (*interfaces.SearchResult, error) {
	if !query.IsUID {
		return nil, nil
	}
	uids := []uint32{}
	for _, term := range query.Terms {
		if term.Key == "uid" {
			uids = append(uids, term.Values...)
		}
	}
	return &interfaces.SearchResult{UIDList: uids, HighestModSeq: 0}, nil
}

func (h *Handler) nextUIDValidity() (uint32, error) {
	uid, err := h.uidValidity.Generate()
	if err != nil {
		return 0, fmt.Errorf("generating uid validity: %w", err)
	}
	return uint32(uid), nil
}
