package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeStore struct {
	accounts []string
	evicted  []string
}

func (f *fakeStore) ActiveCount() int       { return len(f.accounts) }
func (f *fakeStore) Accounts() []string     { return f.accounts }
func (f *fakeStore) DroppedMessages() int64 { return 4 }
func (f *fakeStore) EvictAccount(account string) int {
	f.evicted = append(f.evicted, account)
	return 1
}

func TestStatusRequiresAPIKey(t *testing.T) {
	cases := []struct {
		name     string
		apiKey   string
		header   string
		wantCode int
	}{
		{"valid key", "k1", "k1", http.StatusOK},
		{"wrong key", "k1", "k2", http.StatusForbidden},
		{"missing key", "k1", "", http.StatusForbidden},
		{"api disabled", "", "", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewSessionHandler(&fakeStore{accounts: []string{"a***e@l*u.e*u.**"}}, tc.apiKey)
			req := httptest.NewRequest(http.MethodGet, "/api/imap/status", nil)
			if tc.header != "" {
				req.Header.Set("X-API-Key", tc.header)
			}
			rec := httptest.NewRecorder()
			h.Protect(h.Status)(rec, req)

			if rec.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantCode)
			}
			if tc.wantCode != http.StatusOK {
				return
			}
			var body statusResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decoding: %v", err)
			}
			if body.ActiveSessions != 1 || body.Accounts[0] != "a***e@l*u.e*u.**" || body.DroppedMessages != 4 {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}

func TestEvict(t *testing.T) {
	store := &fakeStore{}
	h := NewSessionHandler(store, "k1")

	req := httptest.NewRequest(http.MethodPost, "/api/imap/sessions/evict?account=alice%40lzu.edu.cn", nil)
	req.Header.Set("X-API-Key", "k1")
	rec := httptest.NewRecorder()
	h.Protect(h.Evict)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body evictResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Evicted != 1 {
		t.Fatalf("body = %+v, %v", body, err)
	}
	if len(store.evicted) != 1 || store.evicted[0] != "alice@lzu.edu.cn" {
		t.Fatalf("evicted = %v", store.evicted)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/imap/sessions/evict?account=x", nil)
	req.Header.Set("X-API-Key", "k1")
	h.Protect(h.Evict)(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET evict status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	h := NewSessionHandler(&fakeStore{}, "k1")
	limited := 0
	for i := 0; i < 80; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/imap/status", nil)
		req.Header.Set("X-API-Key", "k1")
		rec := httptest.NewRecorder()
		h.Protect(h.Status)(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited == 0 {
		t.Fatal("burst of 80 requests was never limited")
	}
}
