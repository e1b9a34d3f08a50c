package webmail

import (
	"encoding/json"
	"time"
)

// Folder is one entry of the getAllFolders payload.
type Folder struct {
	ID    int         `json:"id"`
	Name  string      `json:"name"`
	Stats FolderStats `json:"stats"`
}

type FolderStats struct {
	MessageCount       int `json:"messageCount"`
	UnreadMessageCount int `json:"unreadMessageCount"`
}

// MessageSummary is one entry of the mbox:listMessages payload.
type MessageSummary struct {
	ID           string       `json:"id"`
	ReceivedDate string       `json:"receivedDate"`
	Size         int          `json:"size"`
	Flags        MessageFlags `json:"flags"`

	// Received is ReceivedDate parsed in the upstream time zone.
	Received time.Time `json:"-"`
}

type MessageFlags struct {
	Read bool `json:"read"`
}

type envelope struct {
	Result   string          `json:"result"`
	ErrorMsg string          `json:"errorMsg"`
	Code     string          `json:"code"`
	Var      json.RawMessage `json:"var"`
}

type listMessagesRequest struct {
	Start             int    `json:"start"`
	Limit             int    `json:"limit"`
	Mode              string `json:"mode"`
	Order             string `json:"order"`
	Desc              bool   `json:"desc"`
	ReturnTotal       bool   `json:"returnTotal"`
	SummaryWindowSize int    `json:"summaryWindowSize"`
	FID               int    `json:"fid"`
	TopFirst          bool   `json:"topFirst"`
}

type loginDevice struct {
	UUID         string `json:"uuid"`
	IMIE         string `json:"imie"`
	FriendlyName string `json:"friendlyName"`
	Model        string `json:"model"`
	OS           string `json:"os"`
	OSLanguage   string `json:"osLanguage"`
	DeviceType   string `json:"deviceType"`
}

var webmailDevice = loginDevice{
	UUID:         "webmail_windows",
	IMIE:         "webmail_windows",
	FriendlyName: "firefox+102",
	Model:        "windows",
	OS:           "windows",
	OSLanguage:   "zh-CN",
	DeviceType:   "Webmail",
}
