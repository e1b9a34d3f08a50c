package interfaces

import (
	"errors"
	"time"

	"github.com/emersion/go-message/textproto"
)

// ErrNonexistent is returned when a mailbox name does not resolve to an
// upstream folder.
var ErrNonexistent = errors.New("NONEXISTENT")

// InboxPath is the canonical protocol path of the inbox.
const InboxPath = "INBOX"

// Folder is an upstream folder as seen by protocol clients.
type Folder struct {
	ID         int
	Name       string // upstream, locale specific
	Path       string
	SpecialUse string // empty when the folder has no special-use attribute
	Messages   uint32
	Unseen     uint32
}

// MailboxDescriptor is the result of selecting a folder. Every selection is
// a new incarnation: UIDValidity changes and UIDs are the dense range 1..N.
type MailboxDescriptor struct {
	Path        string
	UIDValidity uint32
	UIDList     []uint32
	UIDNext     uint32
	SpecialUse  string
}

type StatusRecord struct {
	Messages      uint32
	UIDNext       uint32
	UIDValidity   uint32
	HighestModSeq uint64
	Unseen        uint32
}

// SearchTerm is one criterion of a search. Only Key "uid" is understood.
type SearchTerm struct {
	Key    string
	Values []uint32
}

type SearchQuery struct {
	IsUID bool
	Terms []SearchTerm
}

type SearchResult struct {
	UIDList       []uint32
	HighestModSeq uint64
}

type FetchQuery struct {
	UIDs []uint32
	// MetadataOnly is set when no requested attribute needs message content.
	MetadataOnly bool
}

// MimeMessage is a parsed message: its top level header and the raw body
// following it.
type MimeMessage struct {
	Header textproto.Header
	Body   []byte
	Size   uint32
}

// FetchRecord is the per message unit streamed to a FetchSink.
type FetchRecord struct {
	UID          uint32
	ModSeq       uint64
	InternalDate time.Time
	Flags        []string
	Message      *MimeMessage // nil for metadata only fetches
}

type FetchReport struct {
	Requested int
	Delivered int
	Failed    int
}
