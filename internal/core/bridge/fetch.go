package bridge

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-message/textproto"
	"github.com/sirupsen/logrus"

	"github.com/EasyLZU/EasyLZUMail/internal/core/webmail"
	"github.com/EasyLZU/EasyLZUMail/internal/interfaces"
)

type summaryKey struct {
	folderID int
	offset   int
	limit    int
}

// Fetch streams one record per requested UID of the selected folder to sink.
// Upstream failures abort the batch; a message that cannot be parsed or
// written is dropped, counted and reported to the failure observer.
func (h *Handler) Fetch(ctx context.Context, query interfaces.FetchQuery, sink interfaces.FetchSink) (interfaces.FetchReport, error) {
	report := interfaces.FetchReport{Requested: len(query.UIDs)}

	h.mu.Lock()
	selected := h.selected
	h.mu.Unlock()
	if selected == nil {
		return report, ErrNoSelection
	}

	var volume uint64
	for _, uid := range query.UIDs {
		if uid == 0 {
			h.fail(&report, uid, fmt.Errorf("%w: uid 0", ErrMessageMissing))
			continue
		}
		summary, ok, err := h.summary(ctx, selected.ID, int(uid)-1, 1)
		if err != nil {
			return report, err
		}
		if !ok {
			h.fail(&report, uid, fmt.Errorf("%w: uid %d", ErrMessageMissing, uid))
			continue
		}

		record := &interfaces.FetchRecord{
			UID:          uid,
			ModSeq:       uint64(uid),
			InternalDate: summary.Received,
			Flags:        []string{},
		}
		if summary.Flags.Read {
			record.Flags = append(record.Flags, goimap.SeenFlag)
		}

		if !query.MetadataOnly {
			raw, err := h.content(ctx, summary.ID)
			if err != nil {
				return report, err
			}
			msg, err := parseMessage(raw)
			if err != nil {
				h.fail(&report, uid, err)
				continue
			}
			record.Message = msg
			volume += uint64(len(raw))
		}

		if err := sink.WriteRecord(record); err != nil {
			h.fail(&report, uid, fmt.Errorf("writing record: %w", err))
			continue
		}
		report.Delivered++
	}

	entry := h.log.WithFields(logrus.Fields{
		"mailbox":   selected.Path,
		"requested": report.Requested,
		"delivered": report.Delivered,
		"failed":    report.Failed,
		"volume":    humanize.Bytes(volume),
	})
	if report.Failed > 0 {
		entry.Warn("Fetch finished with dropped messages")
	} else {
		entry.Debug("Fetch finished")
	}
	return report, nil
}

func (h *Handler) fail(report *interfaces.FetchReport, uid uint32, err error) {
	report.Failed++
	h.log.WithError(err).WithField("uid", uid).Warn("Dropping message from fetch")
	for _, observe := range h.observers {
		observe(uid, err)
	}
}

// summary returns the single-message window at offset, cached per folder.
// ok is false when the folder has no message there.
func (h *Handler) summary(ctx context.Context, folderID, offset, limit int) (webmail.MessageSummary, bool, error) {
	key := summaryKey{folderID: folderID, offset: offset, limit: limit}
	h.mu.Lock()
	cached, ok := h.summaries[key]
	h.mu.Unlock()
	if ok {
		return cached, true, nil
	}

	v, err, _ := h.group.Do(fmt.Sprintf("summary/%d/%d/%d", folderID, offset, limit), func() (interface{}, error) {
		h.mu.Lock()
		cached, ok := h.summaries[key]
		h.mu.Unlock()
		if ok {
			return cached, nil
		}
		window, err := h.client.ListMessages(ctx, folderID, offset, limit)
		if err != nil {
			return nil, err
		}
		if len(window) == 0 {
			return nil, nil
		}
		h.mu.Lock()
		h.summaries[key] = window[0]
		h.mu.Unlock()
		return window[0], nil
	})
	if err != nil {
		return webmail.MessageSummary{}, false, err
	}
	if v == nil {
		return webmail.MessageSummary{}, false, nil
	}
	return v.(webmail.MessageSummary), true, nil
}

// content downloads the raw message at most once per handler.
func (h *Handler) content(ctx context.Context, messageID string) ([]byte, error) {
	h.mu.Lock()
	cached, ok := h.contents[messageID]
	h.mu.Unlock()
	if ok {
		return cached, nil
	}

	v, err, _ := h.group.Do("content/"+messageID, func() (interface{}, error) {
		h.mu.Lock()
		cached, ok := h.contents[messageID]
		h.mu.Unlock()
		if ok {
			return cached, nil
		}
		raw, err := h.client.FetchMessageContent(ctx, messageID)
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		h.contents[messageID] = raw
		h.mu.Unlock()
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func parseMessage(raw []byte) (*interfaces.MimeMessage, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	header, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("parsing message header: %w", err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, fmt.Errorf("reading message body: %w", err)
	}
	return &interfaces.MimeMessage{Header: header, Body: body, Size: uint32(len(raw))}, nil
}
