package webmail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

const (
	folderAPIPath  = "/coremail/XT5/jsp/mail.jsp"
	jsonAPIPath    = "/coremail/s/json"
	contentPath    = "/coremail/mbox-data/content.eml"
	receivedLayout = "2006-01-02 15:04:05"

	contentTypeForm = "application/x-www-form-urlencoded"
	contentTypeJSON = "text/x-json"
)

// Call posts body to an authenticated endpoint and unwraps the response
// envelope. Every higher level call goes through here.
func (c *Client) Call(ctx context.Context, path, function string, body []byte, contentType string) (json.RawMessage, error) {
	sid, cookie, err := c.credentials()
	if err != nil {
		return nil, err
	}
	target := c.base.String() + path + "?sid=" + sid + "&func=" + url.QueryEscape(function)

	res, err := c.do(ctx, function, http.MethodPost, target, contentType, cookie, body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(res.body, &env); err != nil {
		return nil, fmt.Errorf("%w: %s returned undecodable body (http %d): %v",
			ErrUnexpectedResponse, function, res.status, err)
	}
	if env.Result == "error" {
		return nil, &APIError{Code: env.Code, Message: env.ErrorMsg}
	}
	if env.Code != "S_OK" {
		return nil, &UnexpectedResponseError{Code: env.Code, Status: res.status}
	}
	return env.Var, nil
}

// ListFolders returns all top level folders with their message counters.
func (c *Client) ListFolders(ctx context.Context) ([]Folder, error) {
	form := url.Values{}
	form.Set("stats", "true")
	form.Set("threads", "false")

	raw, err := c.Call(ctx, folderAPIPath, "getAllFolders", []byte(form.Encode()), contentTypeForm)
	if err != nil {
		return nil, err
	}
	var folders []Folder
	if err := json.Unmarshal(raw, &folders); err != nil {
		return nil, fmt.Errorf("%w: decoding folders: %v", ErrUnexpectedResponse, err)
	}
	return folders, nil
}

// ListMessages returns the window [offset, offset+limit) of folderID ordered
// by ascending received date.
func (c *Client) ListMessages(ctx context.Context, folderID, offset, limit int) ([]MessageSummary, error) {
	body, err := json.Marshal(listMessagesRequest{
		Start:             offset,
		Limit:             limit,
		Mode:              "count",
		Order:             "receivedDate",
		Desc:              false,
		ReturnTotal:       true,
		SummaryWindowSize: limit,
		FID:               folderID,
		TopFirst:          true,
	})
	if err != nil {
		return nil, err
	}

	raw, err := c.Call(ctx, jsonAPIPath, "mbox:listMessages", body, contentTypeJSON)
	if err != nil {
		return nil, err
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: decoding message list: %v", ErrUnexpectedResponse, err)
	}

	summaries := make([]MessageSummary, 0, len(entries))
	for _, entry := range entries {
		var summary MessageSummary
		// Entries that are not message objects (total markers) are skipped.
		if err := json.Unmarshal(entry, &summary); err != nil || summary.ID == "" {
			continue
		}
		summary.Received = c.parseReceived(summary.ReceivedDate)
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (c *Client) parseReceived(value string) time.Time {
	if t, err := time.ParseInLocation(receivedLayout, value, c.location); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	c.logEntry().WithField("receivedDate", value).Debug("Unparseable received date")
	return time.Time{}
}

// FetchMessageContent downloads the raw MIME text of a message.
func (c *Client) FetchMessageContent(ctx context.Context, messageID string) ([]byte, error) {
	_, cookie, err := c.credentials()
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("mid", messageID)
	query.Set("mode", "text")
	query.Set("part", strconv.Itoa(0))
	query.Set("mboxa", "")

	res, err := c.get(ctx, "fetch message content", c.endpoint(contentPath, query), cookie)
	if err != nil {
		return nil, err
	}
	if res.status/100 != 2 {
		return nil, &UnexpectedResponseError{Status: res.status}
	}
	c.logEntry().WithFields(logrus.Fields{
		"mid":  messageID,
		"size": humanize.Bytes(uint64(len(res.body))),
	}).Debug("Fetched message content")
	return res.body, nil
}
