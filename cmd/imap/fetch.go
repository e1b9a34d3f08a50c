package imap

import (
	"bytes"
	"fmt"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/backendutil"

	"github.com/EasyLZU/EasyLZUMail/internal/interfaces"
)

// metadataOnly reports whether items can be answered from the message
// listing alone.
func metadataOnly(items []imap.FetchItem) bool {
	for _, item := range items {
		switch item {
		case imap.FetchFlags, imap.FetchInternalDate, imap.FetchUid:
		default:
			return false
		}
	}
	return true
}

// formatMessage renders a fetch record into the attributes requested by
// items. Sequence numbers equal UIDs.
func formatMessage(rec *interfaces.FetchRecord, items []imap.FetchItem) (*imap.Message, error) {
	fetched := imap.NewMessage(rec.UID, items)
	msg := rec.Message

	for _, item := range items {
		switch item {
		case imap.FetchFlags:
			fetched.Flags = rec.Flags
		case imap.FetchInternalDate:
			fetched.InternalDate = rec.InternalDate
		case imap.FetchUid:
			fetched.Uid = rec.UID
		case imap.FetchRFC822Size:
			if msg != nil {
				fetched.Size = msg.Size
			}
		case imap.FetchEnvelope:
			if msg == nil {
				continue
			}
			env, err := backendutil.FetchEnvelope(msg.Header.Copy())
			if err != nil {
				return nil, fmt.Errorf("building envelope: %w", err)
			}
			fetched.Envelope = env
		case imap.FetchBody, imap.FetchBodyStructure:
			if msg == nil {
				continue
			}
			bs, err := backendutil.FetchBodyStructure(msg.Header.Copy(), bytes.NewReader(msg.Body), item == imap.FetchBodyStructure)
			if err != nil {
				return nil, fmt.Errorf("building body structure: %w", err)
			}
			fetched.BodyStructure = bs
		default:
			section, err := imap.ParseBodySectionName(item)
			if err != nil || msg == nil {
				continue
			}
			l, err := backendutil.FetchBodySection(msg.Header.Copy(), bytes.NewReader(msg.Body), section)
			if err != nil {
				return nil, fmt.Errorf("fetching %s: %w", item, err)
			}
			fetched.Body[section] = l
		}
	}
	return fetched, nil
}
