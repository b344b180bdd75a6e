package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestClient wires a Client at srv with retry backoff collapsed to
// microseconds so failure paths run fast.
func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(nil, WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	c.backoffUnit = time.Microsecond
	return c
}

func TestGetProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me/profile" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"emailAddress":"me@example.com","messagesTotal":42,"threadsTotal":7,"historyId":"12345"}`))
	}))
	defer srv.Close()

	p, err := newTestClient(srv).GetProfile(context.Background())
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.EmailAddress != "me@example.com" {
		t.Errorf("email = %q", p.EmailAddress)
	}
	if p.MessagesTotal != 42 || p.ThreadsTotal != 7 {
		t.Errorf("counts = %d/%d", p.MessagesTotal, p.ThreadsTotal)
	}
	if p.HistoryID != 12345 {
		t.Errorf("historyId = %d", p.HistoryID)
	}
}

func TestListMessagesParams(t *testing.T) {
	var gotQuery map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"messages":[{"id":"m1","threadId":"t1"}],"nextPageToken":"next"}`))
	}))
	defer srv.Close()

	list, err := newTestClient(srv).ListMessages(context.Background(), ListQuery{
		Query:            "from:alice subject:hi",
		LabelIDs:         []string{"INBOX", "Label_1"},
		MaxResults:       25,
		PageToken:        "page2",
		IncludeSpamTrash: true,
	})
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}

	if got := gotQuery["q"]; len(got) != 1 || got[0] != "from:alice subject:hi" {
		t.Errorf("q = %v", got)
	}
	if got := gotQuery["labelIds"]; len(got) != 2 || got[0] != "INBOX" || got[1] != "Label_1" {
		t.Errorf("labelIds = %v", got)
	}
	if got := gotQuery["maxResults"]; len(got) != 1 || got[0] != "25" {
		t.Errorf("maxResults = %v", got)
	}
	if got := gotQuery["pageToken"]; len(got) != 1 || got[0] != "page2" {
		t.Errorf("pageToken = %v", got)
	}
	if got := gotQuery["includeSpamTrash"]; len(got) != 1 || got[0] != "true" {
		t.Errorf("includeSpamTrash = %v", got)
	}

	if len(list.Messages) != 1 || list.Messages[0].ID != "m1" {
		t.Errorf("messages = %+v", list.Messages)
	}
	if list.NextPageToken != "next" {
		t.Errorf("nextPageToken = %q", list.NextPageToken)
	}
}

func TestRemoteErrorDecoding(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found.","errors":[{"reason":"notFound","message":"Requested entity was not found."}]}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetLabel(context.Background(), "Label_404")
	if err == nil {
		t.Fatal("expected error")
	}

	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RemoteError, got %T: %v", err, err)
	}
	if re.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", re.StatusCode)
	}
	if re.Reason != "notFound" {
		t.Errorf("reason = %q", re.Reason)
	}
	if re.Message != "Requested entity was not found." {
		t.Errorf("message = %q", re.Message)
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound = false")
	}
	if attempts != 1 {
		t.Errorf("404 was retried: %d attempts", attempts)
	}
}

func TestRetryOnServerError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"emailAddress":"me@example.com"}`))
	}))
	defer srv.Close()

	p, err := newTestClient(srv).GetProfile(context.Background())
	if err != nil {
		t.Fatalf("GetProfile after retries: %v", err)
	}
	if p.EmailAddress != "me@example.com" {
		t.Errorf("email = %q", p.EmailAddress)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetriesExhausted(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetProfile(context.Background())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if attempts != maxRetries+1 {
		t.Errorf("attempts = %d, want %d", attempts, maxRetries+1)
	}

	var re *RemoteError
	if !errors.As(err, &re) || re.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected wrapped RemoteError 500, got %v", err)
	}
}

func TestNoRetryOnPermissionError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"Insufficient Permission","errors":[{"reason":"insufficientPermissions","message":"Insufficient Permission"}]}}`))
	}))
	defer srv.Close()

	err := newTestClient(srv).DeleteMessage(context.Background(), "m1")
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("permission 403 was retried: %d attempts", attempts)
	}
}

func TestSendMessageBody(t *testing.T) {
	var got sendMessageJSON
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me/messages/send" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("unmarshal send body: %v", err)
		}
		_, _ = w.Write([]byte(`{"id":"m9","threadId":"t9","labelIds":["SENT"]}`))
	}))
	defer srv.Close()

	raw := []byte("From: me@example.com\r\nTo: you@example.com\r\n\r\nhi")
	ref, err := newTestClient(srv).SendMessage(context.Background(), raw, "t9")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	decoded, err := base64.RawURLEncoding.DecodeString(got.Raw)
	if err != nil {
		t.Fatalf("raw field is not base64url: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Errorf("raw round-trip mismatch:\n%q\n%q", decoded, raw)
	}
	if got.ThreadID != "t9" {
		t.Errorf("threadId = %q", got.ThreadID)
	}
	if ref.ID != "m9" || ref.ThreadID != "t9" {
		t.Errorf("ref = %+v", ref)
	}
}

func TestGetMessageRaw(t *testing.T) {
	raw := "Subject: test\r\n\r\nbody"
	encoded := base64.URLEncoding.EncodeToString([]byte(raw)) // padded on purpose
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "raw" {
			t.Errorf("format = %q", r.URL.Query().Get("format"))
		}
		resp := map[string]any{
			"id":           "m1",
			"threadId":     "t1",
			"labelIds":     []string{"INBOX", "UNREAD"},
			"historyId":    "99",
			"internalDate": "1704067200000",
			"sizeEstimate": 123,
			"raw":          encoded,
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	msg, err := newTestClient(srv).GetMessageRaw(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMessageRaw: %v", err)
	}
	if string(msg.Raw) != raw {
		t.Errorf("raw = %q", msg.Raw)
	}
	if msg.InternalDate != 1704067200000 {
		t.Errorf("internalDate = %d", msg.InternalDate)
	}
	if len(msg.LabelIDs) != 2 {
		t.Errorf("labelIds = %v", msg.LabelIDs)
	}
}

func TestCreateLabelBody(t *testing.T) {
	var got labelJSON
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("unmarshal label body: %v", err)
		}
		_, _ = w.Write([]byte(`{"id":"Label_7","name":"Receipts/2026","type":"user"}`))
	}))
	defer srv.Close()

	l, err := newTestClient(srv).CreateLabel(context.Background(), &LabelRequest{
		Name:                  "Receipts/2026",
		MessageListVisibility: "show",
		LabelListVisibility:   "labelShow",
	})
	if err != nil {
		t.Fatalf("CreateLabel: %v", err)
	}
	if got.Name != "Receipts/2026" || got.MessageListVisibility != "show" {
		t.Errorf("request body = %+v", got)
	}
	if l.ID != "Label_7" {
		t.Errorf("label id = %q", l.ID)
	}
}

func TestBatchModifyBody(t *testing.T) {
	var got batchModifyJSON
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/me/messages/batchModify" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("unmarshal batch body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newTestClient(srv).BatchModifyMessages(context.Background(),
		[]string{"m1", "m2"}, []string{"Label_1"}, []string{"UNREAD"})
	if err != nil {
		t.Fatalf("BatchModifyMessages: %v", err)
	}
	if len(got.IDs) != 2 || got.IDs[0] != "m1" {
		t.Errorf("ids = %v", got.IDs)
	}
	if len(got.AddLabelIDs) != 1 || got.AddLabelIDs[0] != "Label_1" {
		t.Errorf("addLabelIds = %v", got.AddLabelIDs)
	}
	if len(got.RemoveLabelIDs) != 1 || got.RemoveLabelIDs[0] != "UNREAD" {
		t.Errorf("removeLabelIds = %v", got.RemoveLabelIDs)
	}
}

func TestDecodeBase64URL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"unpadded", base64.RawURLEncoding.EncodeToString([]byte("hello")), "hello"},
		{"padded", base64.URLEncoding.EncodeToString([]byte("hello!")), "hello!"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeBase64URL(tt.input)
			if err != nil {
				t.Fatalf("decodeBase64URL: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("decoded = %q, want %q", got, tt.want)
			}
		})
	}
}
