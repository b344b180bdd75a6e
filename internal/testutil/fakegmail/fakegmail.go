// Package fakegmail is an in-memory Gmail REST server for tests. It backs
// the same resource paths the real API serves, stores labels and messages
// in memory, and evaluates a useful subset of Gmail's search operators so
// query behavior can be verified end to end without the network.
package fakegmail

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jhillyerd/enmime"
)

// SendRequest records one messages.send or drafts create call.
type SendRequest struct {
	Raw      []byte
	ThreadID string
}

// storedMessage keeps both the raw MIME bytes and the metadata the query
// evaluator matches against.
type storedMessage struct {
	id           string
	threadID     string
	labelIDs     []string
	raw          []byte
	internalDate time.Time

	from          string
	to            []string
	cc            []string
	subject       string
	text          string
	filenames     []string
	hasAttachment bool
}

type storedLabel struct {
	id   string
	name string
	typ  string
}

type storedDraft struct {
	id       string
	msg      *storedMessage
	threadID string
}

// Server is a fake Gmail API server.
type Server struct {
	mu sync.Mutex

	srv *httptest.Server

	emailAddress string
	labels       map[string]*storedLabel
	messages     map[string]*storedMessage
	order        []string // message IDs, oldest first
	drafts       map[string]*storedDraft

	nextLabel   int
	nextMessage int
	nextDraft   int

	// SendRequests records messages.send calls in order.
	SendRequests []SendRequest

	// FailSendWith, when non-zero, makes messages.send fail with that
	// HTTP status.
	FailSendWith int
}

// New starts a fake server for the given account address.
func New(emailAddress string) *Server {
	s := &Server{
		emailAddress: emailAddress,
		labels:       make(map[string]*storedLabel),
		messages:     make(map[string]*storedMessage),
		drafts:       make(map[string]*storedDraft),
	}
	for _, id := range []string{"INBOX", "SENT", "UNREAD", "STARRED", "IMPORTANT", "DRAFT", "TRASH", "SPAM"} {
		s.labels[id] = &storedLabel{id: id, name: id, typ: "system"}
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the server's base URL.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.srv.Close()
}

// AddLabel stores a user label and returns its ID.
func (s *Server) AddLabel(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLabelLocked(name).id
}

func (s *Server) addLabelLocked(name string) *storedLabel {
	for _, l := range s.labels {
		if l.name == name {
			return l
		}
	}
	s.nextLabel++
	l := &storedLabel{
		id:   fmt.Sprintf("Label_%d", s.nextLabel),
		name: name,
		typ:  "user",
	}
	s.labels[l.id] = l
	return l
}

// MessageSpec describes a message to seed into the store.
type MessageSpec struct {
	From        string
	To          []string
	Cc          []string
	Subject     string
	Text        string
	Labels      []string // label IDs
	Date        time.Time
	Attachments map[string][]byte // filename to content
}

// AddMessage seeds a message, building its MIME payload, and returns its ID.
func (s *Server) AddMessage(spec MessageSpec) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if spec.Date.IsZero() {
		spec.Date = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(s.nextMessage) * time.Hour)
	}

	b := enmime.Builder().
		From("", spec.From).
		Subject(spec.Subject).
		Date(spec.Date).
		Text([]byte(spec.Text))
	for _, to := range spec.To {
		b = b.To("", to)
	}
	for _, cc := range spec.Cc {
		b = b.CC("", cc)
	}
	var filenames []string
	for name, content := range spec.Attachments {
		b = b.AddAttachment(content, "application/octet-stream", name)
		filenames = append(filenames, name)
	}

	part, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("fakegmail: build message: %v", err))
	}
	var buf bytes.Buffer
	if err := part.Encode(&buf); err != nil {
		panic(fmt.Sprintf("fakegmail: encode message: %v", err))
	}

	s.nextMessage++
	id := fmt.Sprintf("m%04d", s.nextMessage)
	msg := &storedMessage{
		id:            id,
		threadID:      "t" + id,
		labelIDs:      append([]string(nil), spec.Labels...),
		raw:           buf.Bytes(),
		internalDate:  spec.Date,
		from:          spec.From,
		to:            spec.To,
		cc:            spec.Cc,
		subject:       spec.Subject,
		text:          spec.Text,
		filenames:     filenames,
		hasAttachment: len(filenames) > 0,
	}
	s.messages[id] = msg
	s.order = append(s.order, id)
	return id
}

// MessageLabels returns a stored message's current label IDs.
func (s *Server) MessageLabels(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		return append([]string(nil), m.labelIDs...)
	}
	return nil
}

// HasMessage reports whether a message is still stored.
func (s *Server) HasMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.messages[id]
	return ok
}

// LabelNames returns the current label names.
func (s *Server) LabelNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for _, l := range s.labels {
		names = append(names, l.name)
	}
	return names
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
			"errors": []map[string]string{
				{"reason": reason, "message": message},
			},
		},
	})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/users/me")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case path == "/profile" && r.Method == http.MethodGet:
		s.handleProfile(w)
	case path == "/labels" && r.Method == http.MethodGet:
		s.handleListLabels(w)
	case path == "/labels" && r.Method == http.MethodPost:
		s.handleCreateLabel(w, r)
	case len(parts) == 2 && parts[0] == "labels":
		s.handleLabel(w, r, parts[1])
	case path == "/messages" && r.Method == http.MethodGet:
		s.handleListMessages(w, r)
	case path == "/messages/send" && r.Method == http.MethodPost:
		s.handleSend(w, r)
	case path == "/messages/batchModify" && r.Method == http.MethodPost:
		s.handleBatchModify(w, r)
	case path == "/messages/batchDelete" && r.Method == http.MethodPost:
		s.handleBatchDelete(w, r)
	case len(parts) == 2 && parts[0] == "messages":
		s.handleMessage(w, r, parts[1])
	case len(parts) == 3 && parts[0] == "messages" && parts[2] == "modify":
		s.handleModify(w, r, parts[1])
	case len(parts) == 3 && parts[0] == "messages" && parts[2] == "trash":
		s.handleTrash(w, parts[1], true)
	case len(parts) == 3 && parts[0] == "messages" && parts[2] == "untrash":
		s.handleTrash(w, parts[1], false)
	case path == "/drafts" && r.Method == http.MethodPost:
		s.handleCreateDraft(w, r)
	case path == "/drafts/send" && r.Method == http.MethodPost:
		s.handleSendDraft(w, r)
	case len(parts) == 2 && parts[0] == "drafts" && r.Method == http.MethodDelete:
		s.handleDeleteDraft(w, parts[1])
	default:
		writeError(w, http.StatusNotFound, "notFound", "no such resource: "+r.URL.Path)
	}
}

func (s *Server) handleProfile(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"emailAddress":  s.emailAddress,
		"messagesTotal": len(s.messages),
		"threadsTotal":  len(s.messages),
		"historyId":     "1",
	})
}

func (s *Server) labelJSON(l *storedLabel) map[string]any {
	total, unread := 0, 0
	for _, m := range s.messages {
		for _, id := range m.labelIDs {
			if id == l.id {
				total++
				for _, lid := range m.labelIDs {
					if lid == "UNREAD" {
						unread++
						break
					}
				}
				break
			}
		}
	}
	return map[string]any{
		"id":             l.id,
		"name":           l.name,
		"type":           l.typ,
		"messagesTotal":  total,
		"messagesUnread": unread,
	}
}

func (s *Server) handleListLabels(w http.ResponseWriter) {
	var labels []map[string]any
	for _, l := range s.labels {
		labels = append(labels, s.labelJSON(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"labels": labels})
}

func (s *Server) handleCreateLabel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalidArgument", "invalid label request")
		return
	}
	for _, l := range s.labels {
		if l.name == req.Name {
			writeError(w, http.StatusConflict, "aborted", "Label name exists or conflicts")
			return
		}
	}
	l := s.addLabelLocked(req.Name)
	writeJSON(w, http.StatusOK, s.labelJSON(l))
}

func (s *Server) handleLabel(w http.ResponseWriter, r *http.Request, id string) {
	l, ok := s.labels[id]
	if !ok {
		writeError(w, http.StatusNotFound, "notFound", "label not found: "+id)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.labelJSON(l))
	case http.MethodPut:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalidArgument", "invalid label request")
			return
		}
		if req.Name != "" {
			l.name = req.Name
		}
		writeJSON(w, http.StatusOK, s.labelJSON(l))
	case http.MethodDelete:
		delete(s.labels, id)
		for _, m := range s.messages {
			m.labelIDs = removeID(m.labelIDs, id)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusBadRequest, "invalidArgument", "unsupported method")
	}
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("q")
	labelIDs := q["labelIds"]
	includeSpamTrash := q.Get("includeSpamTrash") == "true"

	maxResults := 100
	if mr := q.Get("maxResults"); mr != "" {
		if n, err := strconv.Atoi(mr); err == nil && n > 0 {
			maxResults = n
		}
	}
	offset := 0
	if pt := q.Get("pageToken"); pt != "" {
		n, err := strconv.Atoi(pt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalidArgument", "bad page token")
			return
		}
		offset = n
	}

	// Newest first, matching the real service's ordering.
	var matched []*storedMessage
	for i := len(s.order) - 1; i >= 0; i-- {
		m := s.messages[s.order[i]]
		if m == nil {
			continue
		}
		if !includeSpamTrash && (hasID(m.labelIDs, "TRASH") || hasID(m.labelIDs, "SPAM")) {
			continue
		}
		if !matchesLabels(m, labelIDs) {
			continue
		}
		if !matchesQuery(m, query) {
			continue
		}
		matched = append(matched, m)
	}

	end := offset + maxResults
	if end > len(matched) {
		end = len(matched)
	}
	var page []*storedMessage
	if offset < len(matched) {
		page = matched[offset:end]
	}

	refs := make([]map[string]string, len(page))
	for i, m := range page {
		refs[i] = map[string]string{"id": m.id, "threadId": m.threadID}
	}
	resp := map[string]any{
		"messages":           refs,
		"resultSizeEstimate": len(matched),
	}
	if end < len(matched) {
		resp["nextPageToken"] = strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) messageJSON(m *storedMessage) map[string]any {
	return map[string]any{
		"id":           m.id,
		"threadId":     m.threadID,
		"labelIds":     m.labelIDs,
		"snippet":      snippet(m.text),
		"historyId":    "1",
		"internalDate": strconv.FormatInt(m.internalDate.UnixMilli(), 10),
		"sizeEstimate": len(m.raw),
		"raw":          base64.RawURLEncoding.EncodeToString(m.raw),
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request, id string) {
	m, ok := s.messages[id]
	if !ok {
		writeError(w, http.StatusNotFound, "notFound", "message not found: "+id)
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.messageJSON(m))
	case http.MethodDelete:
		delete(s.messages, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusBadRequest, "invalidArgument", "unsupported method")
	}
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request, id string) {
	m, ok := s.messages[id]
	if !ok {
		writeError(w, http.StatusNotFound, "notFound", "message not found: "+id)
		return
	}
	var req struct {
		Add    []string `json:"addLabelIds"`
		Remove []string `json:"removeLabelIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalidArgument", "invalid modify request")
		return
	}
	for _, lid := range req.Add {
		if _, ok := s.labels[lid]; !ok {
			writeError(w, http.StatusBadRequest, "invalidArgument", "Invalid label: "+lid)
			return
		}
	}
	s.applyModify(m, req.Add, req.Remove)
	writeJSON(w, http.StatusOK, map[string]any{
		"id": m.id, "threadId": m.threadID, "labelIds": m.labelIDs,
	})
}

func (s *Server) applyModify(m *storedMessage, add, remove []string) {
	for _, lid := range remove {
		m.labelIDs = removeID(m.labelIDs, lid)
	}
	for _, lid := range add {
		if !hasID(m.labelIDs, lid) {
			m.labelIDs = append(m.labelIDs, lid)
		}
	}
}

func (s *Server) handleTrash(w http.ResponseWriter, id string, trash bool) {
	m, ok := s.messages[id]
	if !ok {
		writeError(w, http.StatusNotFound, "notFound", "message not found: "+id)
		return
	}
	if trash {
		s.applyModify(m, []string{"TRASH"}, []string{"INBOX"})
	} else {
		m.labelIDs = removeID(m.labelIDs, "TRASH")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id": m.id, "threadId": m.threadID, "labelIds": m.labelIDs,
	})
}

func (s *Server) handleBatchModify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs    []string `json:"ids"`
		Add    []string `json:"addLabelIds"`
		Remove []string `json:"removeLabelIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalidArgument", "invalid batch request")
		return
	}
	for _, id := range req.IDs {
		if m, ok := s.messages[id]; ok {
			s.applyModify(m, req.Add, req.Remove)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalidArgument", "invalid batch request")
		return
	}
	for _, id := range req.IDs {
		delete(s.messages, id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) ingestRaw(raw []byte, threadID string, labelIDs []string) *storedMessage {
	s.nextMessage++
	id := fmt.Sprintf("m%04d", s.nextMessage)
	if threadID == "" {
		threadID = "t" + id
	}

	msg := &storedMessage{
		id:           id,
		threadID:     threadID,
		labelIDs:     labelIDs,
		raw:          raw,
		internalDate: time.Now(),
	}
	if env, err := enmime.ReadEnvelope(bytes.NewReader(raw)); err == nil {
		msg.subject = env.GetHeader("Subject")
		msg.text = env.Text
		if from, err := env.AddressList("From"); err == nil && len(from) > 0 {
			msg.from = from[0].Address
		}
		if to, err := env.AddressList("To"); err == nil {
			for _, a := range to {
				msg.to = append(msg.to, a.Address)
			}
		}
		msg.hasAttachment = len(env.Attachments) > 0
	}
	s.messages[id] = msg
	s.order = append(s.order, id)
	return msg
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Raw      string `json:"raw"`
		ThreadID string `json:"threadId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalidArgument", "invalid send request")
		return
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(req.Raw, "="))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidArgument", "invalid raw encoding")
		return
	}

	s.SendRequests = append(s.SendRequests, SendRequest{Raw: raw, ThreadID: req.ThreadID})

	if s.FailSendWith != 0 {
		writeError(w, s.FailSendWith, "invalidArgument", "Recipient address rejected")
		return
	}

	m := s.ingestRaw(raw, req.ThreadID, []string{"SENT"})
	writeJSON(w, http.StatusOK, map[string]any{
		"id": m.id, "threadId": m.threadID, "labelIds": m.labelIDs,
	})
}

func (s *Server) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message struct {
			Raw      string `json:"raw"`
			ThreadID string `json:"threadId"`
		} `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalidArgument", "invalid draft request")
		return
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(req.Message.Raw, "="))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalidArgument", "invalid raw encoding")
		return
	}

	m := s.ingestRaw(raw, req.Message.ThreadID, []string{"DRAFT"})
	s.nextDraft++
	d := &storedDraft{id: fmt.Sprintf("r%04d", s.nextDraft), msg: m, threadID: req.Message.ThreadID}
	s.drafts[d.id] = d

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      d.id,
		"message": map[string]string{"id": m.id, "threadId": m.threadID},
	})
}

func (s *Server) handleSendDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalidArgument", "invalid draft send request")
		return
	}
	d, ok := s.drafts[req.ID]
	if !ok {
		writeError(w, http.StatusNotFound, "notFound", "draft not found: "+req.ID)
		return
	}
	delete(s.drafts, req.ID)
	d.msg.labelIDs = []string{"SENT"}
	writeJSON(w, http.StatusOK, map[string]any{
		"id": d.msg.id, "threadId": d.msg.threadID, "labelIds": d.msg.labelIDs,
	})
}

func (s *Server) handleDeleteDraft(w http.ResponseWriter, id string) {
	d, ok := s.drafts[id]
	if !ok {
		writeError(w, http.StatusNotFound, "notFound", "draft not found: "+id)
		return
	}
	delete(s.drafts, id)
	delete(s.messages, d.msg.id)
	w.WriteHeader(http.StatusNoContent)
}

func snippet(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if len(text) > 80 {
		return text[:80]
	}
	return text
}

func hasID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func matchesLabels(m *storedMessage, labelIDs []string) bool {
	for _, id := range labelIDs {
		if !hasID(m.labelIDs, id) {
			return false
		}
	}
	return true
}
