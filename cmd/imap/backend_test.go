package imap

import (
	"errors"
	"io"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"

	"github.com/EasyLZU/EasyLZUMail/internal/core/session"
	"github.com/EasyLZU/EasyLZUMail/internal/core/webmail"
	"github.com/EasyLZU/EasyLZUMail/internal/core/webmail/webmailtest"
)

const (
	testAccount  = "alice@lzu.edu.cn"
	testPassword = "secret"
	firstRaw     = "From: Bob <bob@lzu.edu.cn>\r\nSubject: hello\r\nContent-Type: text/plain\r\n\r\nhi alice\r\n"
)

func testMessages() []webmailtest.Message {
	return []webmailtest.Message{
		{ID: "m1", ReceivedDate: "2022-07-01 08:00:00", Read: true, Raw: firstRaw},
		{ID: "m2", ReceivedDate: "2022-07-02 08:00:00", Raw: "Subject: two\r\n\r\n2\r\n"},
		{ID: "m3", ReceivedDate: "2022-07-03 08:00:00", Raw: "Subject: three\r\n\r\n3\r\n"},
	}
}

func newTestBackend(t *testing.T, srv *webmailtest.Server) (backend.Backend, *session.Registry) {
	t.Helper()
	registry, err := session.NewRegistry(session.WebmailDialer(webmail.Options{
		BaseURL:  srv.URL,
		Timeout:  2 * time.Second,
		Retries:  1,
		Location: time.UTC,
	}))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	be := NewBackend(registry, Options{
		AccountPattern: regexp.MustCompile(`^[a-zA-Z0-9]+@lzu\.edu\.cn$`),
		OpTimeout:      5 * time.Second,
	})
	return be, registry
}

func login(t *testing.T, be backend.Backend) backend.User {
	t.Helper()
	u, err := be.Login(nil, testAccount, testPassword)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return u
}

func inbox(t *testing.T, u backend.User) backend.Mailbox {
	t.Helper()
	mbox, err := u.GetMailbox("inbox")
	if err != nil {
		t.Fatalf("GetMailbox: %v", err)
	}
	return mbox
}

func fetch(t *testing.T, mbox backend.Mailbox, uid bool, set string, items []imap.FetchItem) []*imap.Message {
	t.Helper()
	seqset, err := imap.ParseSeqSet(set)
	if err != nil {
		t.Fatalf("ParseSeqSet: %v", err)
	}
	ch := make(chan *imap.Message, 16)
	if err := mbox.ListMessages(uid, seqset, items, ch); err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	var msgs []*imap.Message
	for msg := range ch {
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestLoginRejections(t *testing.T) {
	srv := webmailtest.New(testAccount, testPassword)
	defer srv.Close()
	be, registry := newTestBackend(t, srv)

	cases := []struct {
		name, account, password string
	}{
		{"foreign domain", "alice@example.com", testPassword},
		{"malformed local part", "al.ice@lzu.edu.cn", testPassword},
		{"wrong password", testAccount, "nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := be.Login(nil, tc.account, tc.password); !errors.Is(err, backend.ErrInvalidCredentials) {
				t.Fatalf("Login error = %v, want ErrInvalidCredentials", err)
			}
		})
	}
	if srv.Logins() != 1 {
		t.Fatalf("upstream logins = %d, want 1 (pattern failures must not reach upstream)", srv.Logins())
	}
	if registry.ActiveCount() != 0 {
		t.Fatal("failed logins were registered")
	}
}

func TestListAndStatus(t *testing.T) {
	srv := webmailtest.New(testAccount, testPassword, testMessages()...)
	defer srv.Close()
	be, _ := newTestBackend(t, srv)
	u := login(t, be)

	mboxes, err := u.ListMailboxes(false)
	if err != nil {
		t.Fatalf("ListMailboxes: %v", err)
	}
	var names []string
	for _, m := range mboxes {
		names = append(names, m.Name())
	}
	if !reflect.DeepEqual(names, []string{"INBOX", webmailtest.DraftsName, webmailtest.SentName}) {
		t.Fatalf("mailboxes = %v", names)
	}
	info, err := mboxes[2].Info()
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if !reflect.DeepEqual(info.Attributes, []string{imap.NoInferiorsAttr, imap.SentAttr}) || info.Delimiter != "/" {
		t.Fatalf("unexpected info %+v", info)
	}

	if _, err := u.GetMailbox("Archive"); !errors.Is(err, backend.ErrNoSuchMailbox) {
		t.Fatalf("GetMailbox error = %v, want ErrNoSuchMailbox", err)
	}

	status, err := inbox(t, u).Status([]imap.StatusItem{imap.StatusMessages, imap.StatusUnseen, imap.StatusUidNext, imap.StatusUidValidity})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Messages != 3 || status.Unseen != 2 || status.UidNext != 4 || status.UidValidity == 0 {
		t.Fatalf("unexpected status %+v", status)
	}
	if srv.FolderCalls() != 1 {
		t.Fatalf("folder calls = %d, want 1", srv.FolderCalls())
	}
}

func TestFetchFullMessage(t *testing.T) {
	srv := webmailtest.New(testAccount, testPassword, testMessages()...)
	defer srv.Close()
	be, _ := newTestBackend(t, srv)
	mbox := inbox(t, login(t, be))

	section, err := imap.ParseBodySectionName("BODY[]")
	if err != nil {
		t.Fatalf("ParseBodySectionName: %v", err)
	}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchEnvelope, imap.FetchRFC822Size, imap.FetchBodyStructure, section.FetchItem()}
	msgs := fetch(t, mbox, true, "1", items)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages", len(msgs))
	}
	msg := msgs[0]
	if msg.Uid != 1 || msg.SeqNum != 1 || !reflect.DeepEqual(msg.Flags, []string{imap.SeenFlag}) {
		t.Fatalf("unexpected metadata uid=%d seq=%d flags=%v", msg.Uid, msg.SeqNum, msg.Flags)
	}
	if msg.Envelope == nil || msg.Envelope.Subject != "hello" || len(msg.Envelope.From) != 1 || msg.Envelope.From[0].MailboxName != "bob" {
		t.Fatalf("unexpected envelope %+v", msg.Envelope)
	}
	if msg.Size != uint32(len(firstRaw)) {
		t.Fatalf("size = %d", msg.Size)
	}
	if msg.BodyStructure == nil || msg.BodyStructure.MIMEType != "text" || msg.BodyStructure.MIMESubType != "plain" {
		t.Fatalf("unexpected body structure %+v", msg.BodyStructure)
	}
	literal := msg.GetBody(section)
	if literal == nil {
		t.Fatal("missing BODY[]")
	}
	body, err := io.ReadAll(literal)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(body) != firstRaw {
		t.Fatalf("BODY[] = %q", body)
	}
}

func TestFetchMetadataOnly(t *testing.T) {
	srv := webmailtest.New(testAccount, testPassword, testMessages()...)
	defer srv.Close()
	be, _ := newTestBackend(t, srv)
	mbox := inbox(t, login(t, be))

	msgs := fetch(t, mbox, true, "1:*", []imap.FetchItem{imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate})
	if len(msgs) != 3 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[2].Uid != 3 || len(msgs[2].Flags) != 0 || !msgs[2].InternalDate.Equal(time.Date(2022, 7, 3, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected third message %+v", msgs[2])
	}
	for _, id := range []string{"m1", "m2", "m3"} {
		if srv.ContentCalls(id) != 0 {
			t.Fatalf("content of %s was downloaded", id)
		}
	}
}

func TestFetchOutOfRangeIsEmpty(t *testing.T) {
	srv := webmailtest.New(testAccount, testPassword, testMessages()...)
	defer srv.Close()
	be, _ := newTestBackend(t, srv)
	mbox := inbox(t, login(t, be))

	if msgs := fetch(t, mbox, true, "7:9", []imap.FetchItem{imap.FetchUid}); len(msgs) != 0 {
		t.Fatalf("got %d messages", len(msgs))
	}
}

func TestSearch(t *testing.T) {
	srv := webmailtest.New(testAccount, testPassword, testMessages()...)
	defer srv.Close()
	be, _ := newTestBackend(t, srv)
	mbox := inbox(t, login(t, be))

	uids, _ := imap.ParseSeqSet("2:*")
	got, err := mbox.SearchMessages(true, &imap.SearchCriteria{Uid: uids})
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if !reflect.DeepEqual(got, []uint32{2, 3}) {
		t.Fatalf("uid search = %v", got)
	}

	got, err = mbox.SearchMessages(false, &imap.SearchCriteria{WithoutFlags: []string{imap.SeenFlag}})
	if err != nil || got != nil {
		t.Fatalf("sequence search = %v, %v; want nothing", got, err)
	}
}

func TestMutationsAreReadOnly(t *testing.T) {
	srv := webmailtest.New(testAccount, testPassword, testMessages()...)
	defer srv.Close()
	be, _ := newTestBackend(t, srv)
	u := login(t, be)
	mbox := inbox(t, u)
	set, _ := imap.ParseSeqSet("1")

	for name, err := range map[string]error{
		"create":  u.CreateMailbox("x"),
		"delete":  u.DeleteMailbox("INBOX"),
		"rename":  u.RenameMailbox("INBOX", "y"),
		"append":  mbox.CreateMessage(nil, time.Now(), nil),
		"store":   mbox.UpdateMessagesFlags(true, set, imap.AddFlags, []string{imap.SeenFlag}),
		"copy":    mbox.CopyMessages(true, set, "x"),
		"expunge": mbox.Expunge(),
	} {
		if !errors.Is(err, ErrReadOnly) {
			t.Errorf("%s error = %v, want ErrReadOnly", name, err)
		}
	}
}

func TestExpiredSessionIsEvicted(t *testing.T) {
	srv := webmailtest.New(testAccount, testPassword, testMessages()...)
	defer srv.Close()
	be, registry := newTestBackend(t, srv)
	mbox := inbox(t, login(t, be))
	srv.ExpireSessions()

	set, _ := imap.ParseSeqSet("1")
	ch := make(chan *imap.Message, 1)
	if err := mbox.ListMessages(true, set, []imap.FetchItem{imap.FetchUid}, ch); !errors.Is(err, ErrUpstream) {
		t.Fatalf("ListMessages error = %v, want ErrUpstream", err)
	}
	if registry.ActiveCount() != 0 {
		t.Fatal("expired session still cached")
	}

	login(t, be)
	if srv.Logins() != 2 {
		t.Fatalf("upstream logins = %d, want 2", srv.Logins())
	}
}

func TestStaleConnectionKeepsNewerSession(t *testing.T) {
	srv := webmailtest.New(testAccount, testPassword, testMessages()...)
	defer srv.Close()
	be, registry := newTestBackend(t, srv)
	stale := inbox(t, login(t, be))
	srv.ExpireSessions()

	set, _ := imap.ParseSeqSet("1")
	items := []imap.FetchItem{imap.FetchUid}
	if err := stale.ListMessages(true, set, items, make(chan *imap.Message, 1)); !errors.Is(err, ErrUpstream) {
		t.Fatalf("ListMessages error = %v, want ErrUpstream", err)
	}
	fresh := inbox(t, login(t, be))

	// the first connection still holds the expired session
	if err := stale.ListMessages(true, set, items, make(chan *imap.Message, 1)); !errors.Is(err, ErrUpstream) {
		t.Fatalf("ListMessages error = %v, want ErrUpstream", err)
	}
	if registry.ActiveCount() != 1 {
		t.Fatal("stale connection evicted the newer session")
	}

	ch := make(chan *imap.Message, 1)
	if err := fresh.ListMessages(true, set, items, ch); err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if msg := <-ch; msg == nil || msg.Uid != 1 {
		t.Fatalf("unexpected message %+v", msg)
	}
	if srv.Logins() != 2 {
		t.Fatalf("upstream logins = %d, want 2", srv.Logins())
	}
}

func TestNewServerRequiresCertificateForImplicitTLS(t *testing.T) {
	t.Setenv("IMAP_TLS", "true")
	t.Setenv("TLS_CERT_FILE", "")
	t.Setenv("TLS_KEY_FILE", "")
	app := testWireframe(t)
	if _, err := NewServer(app); err == nil {
		t.Fatal("NewServer succeeded without certificates")
	}

	app.Config.IMAP.IMAP_TLS = false
	s, err := NewServer(app)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if !s.AllowInsecureAuth || s.TLSConfig != nil {
		t.Fatal("plaintext server misconfigured")
	}
}
