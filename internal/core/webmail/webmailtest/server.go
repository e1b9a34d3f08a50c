// Package webmailtest provides an in-process fake of the webmail service for
// tests of the client, the bridge and the IMAP backend.
package webmailtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

const (
	InboxName  = "收件箱"
	SentName   = "已发送"
	DraftsName = "草稿箱"
)

type FolderStats struct {
	MessageCount       int `json:"messageCount"`
	UnreadMessageCount int `json:"unreadMessageCount"`
}

type Folder struct {
	ID    int         `json:"id"`
	Name  string      `json:"name"`
	Stats FolderStats `json:"stats"`
}

// Message is stored per folder in ascending received order.
type Message struct {
	ID           string
	ReceivedDate string
	Read         bool
	Raw          string
}

// Server is a fake webmail service. Exported fields may be changed before
// the first request; counters are read through the accessor methods.
type Server struct {
	*httptest.Server

	Accounts map[string]string
	Folders  []Folder
	Messages map[int][]Message

	// IndexPage replaces the default index page when set.
	IndexPage string
	// OmitSessionToken drops the sid script from the login response.
	OmitSessionToken bool
	// Delay is applied to every request before it is served.
	Delay time.Duration

	mu           sync.Mutex
	logins       int
	folderCalls  int
	listCalls    int
	contentCalls map[string]int
	sessions     map[string]string // sid -> account
	lastListBody map[string]interface{}
}

// DefaultIndexPage carries the login form target the way the real page does.
const DefaultIndexPage = `<!DOCTYPE html><html><head><title>Coremail</title></head>
<body><form id="loginForm" method="post" action="/coremail/index.jsp?cus=1"></form></body></html>`

// New starts a fake with one account and an inbox holding msgs.
func New(account, password string, msgs ...Message) *Server {
	s := &Server{
		Accounts: map[string]string{account: password},
		Messages: map[int][]Message{1: msgs},
		Folders: []Folder{
			{ID: 1, Name: InboxName, Stats: FolderStats{MessageCount: len(msgs), UnreadMessageCount: unread(msgs)}},
			{ID: 2, Name: DraftsName},
			{ID: 3, Name: SentName},
		},
		contentCalls: make(map[string]int),
		sessions:     make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/coremail/index.jsp", s.handleIndex)
	mux.HandleFunc("/coremail/XT5/jsp/mail.jsp", s.handleFolders)
	mux.HandleFunc("/coremail/s/json", s.handleListMessages)
	mux.HandleFunc("/coremail/mbox-data/content.eml", s.handleContent)
	s.Server = httptest.NewServer(s.delayed(mux))
	return s
}

func unread(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		if !m.Read {
			n++
		}
	}
	return n
}

func (s *Server) delayed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Delay > 0 {
			select {
			case <-time.After(s.Delay):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		page := s.IndexPage
		if page == "" {
			page = DefaultIndexPage
		}
		fmt.Fprint(w, page)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	account, password := r.PostForm.Get("uid"), r.PostForm.Get("password")

	s.mu.Lock()
	s.logins++
	want, ok := s.Accounts[account]
	if !ok || want != password || r.PostForm.Get("device") == "" {
		s.mu.Unlock()
		fmt.Fprint(w, `<html><body>login failed</body></html>`)
		return
	}
	sid := fmt.Sprintf("SID%04d", s.logins)
	s.sessions[sid] = account
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "Coremail", Value: "C" + sid, Path: "/", HttpOnly: true})
	if s.OmitSessionToken {
		fmt.Fprint(w, `<html><body>welcome</body></html>`)
		return
	}
	fmt.Fprintf(w, `<html><head><script type="text/javascript">var sid = "%s";</script></head></html>`, sid)
}

// authorized checks both the sid parameter (when required) and the cookie.
func (s *Server) authorized(r *http.Request, needSID bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cookie := r.Header.Get("Cookie")
	for sid := range s.sessions {
		if needSID && r.URL.Query().Get("sid") != sid {
			continue
		}
		if strings.Contains(cookie, "Coremail.sid="+sid) && strings.Contains(cookie, "Coremail=C"+sid) {
			return true
		}
	}
	return false
}

func writeEnvelope(w http.ResponseWriter, code string, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]interface{}{"code": code}
	if payload != nil {
		body["var"] = payload
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r, true) {
		writeEnvelope(w, "FA_INVALID_SESSION", nil)
		return
	}
	if r.URL.Query().Get("func") != "getAllFolders" {
		writeEnvelope(w, "FA_UNKNOWN_FUNCTION", nil)
		return
	}
	s.mu.Lock()
	s.folderCalls++
	folders := append([]Folder(nil), s.Folders...)
	s.mu.Unlock()
	writeEnvelope(w, "S_OK", folders)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r, true) {
		writeEnvelope(w, "FA_INVALID_SESSION", nil)
		return
	}
	var req struct {
		Start int `json:"start"`
		Limit int `json:"limit"`
		FID   int `json:"fid"`
	}
	var raw map[string]interface{}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&raw); err != nil {
		writeEnvelope(w, "FA_BAD_REQUEST", nil)
		return
	}
	encoded, _ := json.Marshal(raw)
	_ = json.Unmarshal(encoded, &req)

	s.mu.Lock()
	s.listCalls++
	s.lastListBody = raw
	msgs := s.Messages[req.FID]
	s.mu.Unlock()

	window := []interface{}{}
	for i := req.Start; i < req.Start+req.Limit && i < len(msgs); i++ {
		m := msgs[i]
		window = append(window, map[string]interface{}{
			"id":           m.ID,
			"receivedDate": m.ReceivedDate,
			"size":         len(m.Raw),
			"flags":        map[string]bool{"read": m.Read},
		})
	}
	writeEnvelope(w, "S_OK", window)
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r, false) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	q := r.URL.Query()
	if q.Get("mode") != "text" || q.Get("part") != "0" || !q.Has("mboxa") {
		http.Error(w, "bad query", http.StatusBadRequest)
		return
	}
	mid := q.Get("mid")

	s.mu.Lock()
	s.contentCalls[mid]++
	var raw string
	found := false
	for _, msgs := range s.Messages {
		for _, m := range msgs {
			if m.ID == mid {
				raw, found = m.Raw, true
			}
		}
	}
	s.mu.Unlock()

	if !found {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "message/rfc822")
	fmt.Fprint(w, raw)
}

// ExpireSessions forgets every sid handed out so far.
func (s *Server) ExpireSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]string)
}

func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *Server) FolderCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.folderCalls
}

func (s *Server) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

func (s *Server) ContentCalls(mid string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentCalls[mid]
}

// LastListRequest returns the decoded body of the latest listMessages call.
func (s *Server) LastListRequest() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastListBody
}
