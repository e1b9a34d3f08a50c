package interfaces

import "context"

// FetchSink receives fetch results one message at a time.
type FetchSink interface {
	WriteRecord(rec *FetchRecord) error
}

// FetchSinkFunc adapts a function to FetchSink.
type FetchSinkFunc func(rec *FetchRecord) error

func (f FetchSinkFunc) WriteRecord(rec *FetchRecord) error { return f(rec) }

// MailboxBridge is the set of hooks the IMAP backend delegates to.
type MailboxBridge interface {
	// ID identifies the bridge session in logs.
	ID() string
	GetFolders(ctx context.Context) ([]Folder, error)
	Folder(ctx context.Context, name string) (Folder, error)
	Select(ctx context.Context, name string) (*MailboxDescriptor, error)
	Selected() string
	Status(ctx context.Context, name string) (*StatusRecord, error)
	Search(ctx context.Context, query SearchQuery) (*SearchResult, error)
	Fetch(ctx context.Context, query FetchQuery, sink FetchSink) (FetchReport, error)
}
