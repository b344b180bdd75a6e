package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// SendCall records one SendMessage or SendDraft dispatch.
type SendCall struct {
	Raw      []byte
	ThreadID string
}

// ModifyCall records one ModifyMessage or BatchModifyMessages call.
type ModifyCall struct {
	IDs    []string
	Add    []string
	Remove []string
}

// MockService is an in-memory Service implementation for testing. Label and
// message mutations are applied to the stored state so tests can assert on
// the result as well as on the recorded calls.
type MockService struct {
	mu sync.Mutex

	// Profile to return
	Profile *Profile

	// Labels indexed by ID
	Labels map[string]*Label

	// Messages indexed by ID
	Messages map[string]*RawMessage

	// Message list pages. Each page is a list of message IDs; when nil,
	// ListMessages returns every stored message in a single page.
	MessagePages [][]string

	// Error injection
	ProfileError      error
	LabelsError       error
	CreateLabelError  error
	DeleteLabelError  error
	ListMessagesError error
	GetMessageError   map[string]error
	ModifyError       error
	SendError         error
	DraftError        error

	// Call tracking for assertions
	ProfileCalls      int
	LabelsCalls       int
	ListMessagesCalls int
	LastListQuery     ListQuery
	GetMessageCalls   []string
	CreateLabelCalls  []string // label names in creation order
	UpdateLabelCalls  []string
	DeleteLabelCalls  []string // label IDs in deletion order
	ModifyCalls       []ModifyCall
	TrashCalls        []string
	UntrashCalls      []string
	DeleteCalls       []string
	BatchDeleteCalls  [][]string
	SendCalls         []SendCall
	DraftCreateCalls  []SendCall
	DraftSendCalls    []string
	DraftDeleteCalls  []string

	nextLabelID int
	nextMsgID   int
	drafts      map[string]*RawMessage
	nextDraftID int
}

// NewMockService creates a mock with empty state.
func NewMockService() *MockService {
	return &MockService{
		Labels:          make(map[string]*Label),
		Messages:        make(map[string]*RawMessage),
		GetMessageError: make(map[string]error),
		drafts:          make(map[string]*RawMessage),
	}
}

func notFound(resource string) *RemoteError {
	return &RemoteError{
		StatusCode: http.StatusNotFound,
		Reason:     "notFound",
		Message:    resource + " not found",
	}
}

// GetProfile returns the mock profile.
func (m *MockService) GetProfile(ctx context.Context) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls++

	if m.ProfileError != nil {
		return nil, m.ProfileError
	}
	if m.Profile == nil {
		return &Profile{
			EmailAddress:  "test@example.com",
			MessagesTotal: int64(len(m.Messages)),
		}, nil
	}
	return m.Profile, nil
}

// ListLabels returns the stored labels.
func (m *MockService) ListLabels(ctx context.Context) ([]*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LabelsCalls++

	if m.LabelsError != nil {
		return nil, m.LabelsError
	}

	labels := make([]*Label, 0, len(m.Labels))
	for _, l := range m.Labels {
		copied := *l
		labels = append(labels, &copied)
	}
	return labels, nil
}

// GetLabel returns a stored label by ID.
func (m *MockService) GetLabel(ctx context.Context, id string) (*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.Labels[id]
	if !ok {
		return nil, notFound("label " + id)
	}
	copied := *l
	return &copied, nil
}

// CreateLabel stores a new user label and assigns it an ID.
func (m *MockService) CreateLabel(ctx context.Context, req *LabelRequest) (*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateLabelCalls = append(m.CreateLabelCalls, req.Name)

	if m.CreateLabelError != nil {
		return nil, m.CreateLabelError
	}

	// Gmail rejects duplicate names with 409.
	for _, l := range m.Labels {
		if l.Name == req.Name {
			return nil, &RemoteError{
				StatusCode: http.StatusConflict,
				Reason:     "aborted",
				Message:    "Label name exists or conflicts",
			}
		}
	}

	m.nextLabelID++
	l := &Label{
		ID:                    fmt.Sprintf("Label_%d", m.nextLabelID),
		Name:                  req.Name,
		Type:                  "user",
		MessageListVisibility: req.MessageListVisibility,
		LabelListVisibility:   req.LabelListVisibility,
		TextColor:             req.TextColor,
		BackgroundColor:       req.BackgroundColor,
	}
	m.Labels[l.ID] = l
	copied := *l
	return &copied, nil
}

// UpdateLabel patches a stored label.
func (m *MockService) UpdateLabel(ctx context.Context, id string, req *LabelRequest) (*Label, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateLabelCalls = append(m.UpdateLabelCalls, id)

	l, ok := m.Labels[id]
	if !ok {
		return nil, notFound("label " + id)
	}
	if req.Name != "" {
		l.Name = req.Name
	}
	if req.MessageListVisibility != "" {
		l.MessageListVisibility = req.MessageListVisibility
	}
	if req.LabelListVisibility != "" {
		l.LabelListVisibility = req.LabelListVisibility
	}
	l.TextColor = req.TextColor
	l.BackgroundColor = req.BackgroundColor
	copied := *l
	return &copied, nil
}

// DeleteLabel removes a stored label.
func (m *MockService) DeleteLabel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteLabelCalls = append(m.DeleteLabelCalls, id)

	if m.DeleteLabelError != nil {
		return m.DeleteLabelError
	}
	if _, ok := m.Labels[id]; !ok {
		return notFound("label " + id)
	}
	delete(m.Labels, id)
	for _, msg := range m.Messages {
		msg.LabelIDs = removeString(msg.LabelIDs, id)
	}
	return nil
}

// ListMessages returns one page of stored message references.
func (m *MockService) ListMessages(ctx context.Context, q ListQuery) (*MessageList, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListMessagesCalls++
	m.LastListQuery = q

	if m.ListMessagesError != nil {
		return nil, m.ListMessagesError
	}

	if len(m.MessagePages) == 0 {
		var messages []MessageRef
		for id, msg := range m.Messages {
			messages = append(messages, MessageRef{ID: id, ThreadID: msg.ThreadID})
		}
		return &MessageList{
			Messages:           messages,
			ResultSizeEstimate: int64(len(messages)),
		}, nil
	}

	pageNum := 0
	if q.PageToken != "" {
		if _, err := fmt.Sscanf(q.PageToken, "page_%d", &pageNum); err != nil {
			return nil, fmt.Errorf("invalid page token: %s", q.PageToken)
		}
	}
	if pageNum >= len(m.MessagePages) {
		return &MessageList{}, nil
	}

	page := m.MessagePages[pageNum]
	messages := make([]MessageRef, len(page))
	for i, id := range page {
		threadID := "thread_" + id
		if msg, ok := m.Messages[id]; ok && msg.ThreadID != "" {
			threadID = msg.ThreadID
		}
		messages[i] = MessageRef{ID: id, ThreadID: threadID}
	}

	var next string
	if pageNum+1 < len(m.MessagePages) {
		next = fmt.Sprintf("page_%d", pageNum+1)
	}

	total := int64(0)
	for _, p := range m.MessagePages {
		total += int64(len(p))
	}
	return &MessageList{
		Messages:           messages,
		NextPageToken:      next,
		ResultSizeEstimate: total,
	}, nil
}

// GetMessageRaw returns a stored message.
func (m *MockService) GetMessageRaw(ctx context.Context, id string) (*RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetMessageCalls = append(m.GetMessageCalls, id)

	if err, ok := m.GetMessageError[id]; ok && err != nil {
		return nil, err
	}
	msg, ok := m.Messages[id]
	if !ok {
		return nil, notFound("message " + id)
	}
	copied := *msg
	copied.LabelIDs = append([]string(nil), msg.LabelIDs...)
	return &copied, nil
}

// ModifyMessage applies label changes to a stored message.
func (m *MockService) ModifyMessage(ctx context.Context, id string, addLabelIDs, removeLabelIDs []string) (*MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModifyCalls = append(m.ModifyCalls, ModifyCall{
		IDs:    []string{id},
		Add:    append([]string(nil), addLabelIDs...),
		Remove: append([]string(nil), removeLabelIDs...),
	})

	if m.ModifyError != nil {
		return nil, m.ModifyError
	}
	msg, ok := m.Messages[id]
	if !ok {
		return nil, notFound("message " + id)
	}

	m.applyLabelChanges(msg, addLabelIDs, removeLabelIDs)
	return &MessageRef{
		ID:       msg.ID,
		ThreadID: msg.ThreadID,
		LabelIDs: append([]string(nil), msg.LabelIDs...),
	}, nil
}

// TrashMessage swaps all current labels for TRASH, keeping the originals
// recoverable the way the real API does is out of scope for the mock.
func (m *MockService) TrashMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TrashCalls = append(m.TrashCalls, id)

	msg, ok := m.Messages[id]
	if !ok {
		return notFound("message " + id)
	}
	m.applyLabelChanges(msg, []string{"TRASH"}, []string{"INBOX"})
	return nil
}

// UntrashMessage removes the TRASH label.
func (m *MockService) UntrashMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UntrashCalls = append(m.UntrashCalls, id)

	msg, ok := m.Messages[id]
	if !ok {
		return notFound("message " + id)
	}
	msg.LabelIDs = removeString(msg.LabelIDs, "TRASH")
	return nil
}

// DeleteMessage removes a message from the store.
func (m *MockService) DeleteMessage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, id)

	if _, ok := m.Messages[id]; !ok {
		return notFound("message " + id)
	}
	delete(m.Messages, id)
	return nil
}

// BatchModifyMessages applies label changes to each listed message.
func (m *MockService) BatchModifyMessages(ctx context.Context, ids, addLabelIDs, removeLabelIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModifyCalls = append(m.ModifyCalls, ModifyCall{
		IDs:    append([]string(nil), ids...),
		Add:    append([]string(nil), addLabelIDs...),
		Remove: append([]string(nil), removeLabelIDs...),
	})

	if m.ModifyError != nil {
		return m.ModifyError
	}
	for _, id := range ids {
		if msg, ok := m.Messages[id]; ok {
			m.applyLabelChanges(msg, addLabelIDs, removeLabelIDs)
		}
	}
	return nil
}

// BatchDeleteMessages removes each listed message from the store.
func (m *MockService) BatchDeleteMessages(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchDeleteCalls = append(m.BatchDeleteCalls, append([]string(nil), ids...))

	for _, id := range ids {
		delete(m.Messages, id)
	}
	return nil
}

// SendMessage records the dispatch and stores the message as sent.
func (m *MockService) SendMessage(ctx context.Context, raw []byte, threadID string) (*MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendCalls = append(m.SendCalls, SendCall{Raw: append([]byte(nil), raw...), ThreadID: threadID})

	if m.SendError != nil {
		return nil, m.SendError
	}
	ref := m.storeSent(raw, threadID)
	return ref, nil
}

// CreateDraft stores a draft without sending it.
func (m *MockService) CreateDraft(ctx context.Context, raw []byte, threadID string) (*DraftRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DraftCreateCalls = append(m.DraftCreateCalls, SendCall{Raw: append([]byte(nil), raw...), ThreadID: threadID})

	if m.DraftError != nil {
		return nil, m.DraftError
	}

	m.nextDraftID++
	m.nextMsgID++
	draftID := fmt.Sprintf("draft_%d", m.nextDraftID)
	msgID := fmt.Sprintf("msg_%d", m.nextMsgID)
	m.drafts[draftID] = &RawMessage{
		ID:       msgID,
		ThreadID: threadID,
		LabelIDs: []string{"DRAFT"},
		Raw:      append([]byte(nil), raw...),
	}
	return &DraftRef{ID: draftID, MessageID: msgID}, nil
}

// SendDraft sends a stored draft.
func (m *MockService) SendDraft(ctx context.Context, draftID string) (*MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DraftSendCalls = append(m.DraftSendCalls, draftID)

	if m.SendError != nil {
		return nil, m.SendError
	}
	draft, ok := m.drafts[draftID]
	if !ok {
		return nil, notFound("draft " + draftID)
	}
	delete(m.drafts, draftID)
	return m.storeSent(draft.Raw, draft.ThreadID), nil
}

// DeleteDraft discards a stored draft.
func (m *MockService) DeleteDraft(ctx context.Context, draftID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DraftDeleteCalls = append(m.DraftDeleteCalls, draftID)

	if _, ok := m.drafts[draftID]; !ok {
		return notFound("draft " + draftID)
	}
	delete(m.drafts, draftID)
	return nil
}

// storeSent adds a sent message to the store. Callers hold m.mu.
func (m *MockService) storeSent(raw []byte, threadID string) *MessageRef {
	m.nextMsgID++
	id := fmt.Sprintf("msg_%d", m.nextMsgID)
	if threadID == "" {
		threadID = "thread_" + id
	}
	m.Messages[id] = &RawMessage{
		ID:           id,
		ThreadID:     threadID,
		LabelIDs:     []string{"SENT"},
		Raw:          append([]byte(nil), raw...),
		SizeEstimate: int64(len(raw)),
	}
	return &MessageRef{ID: id, ThreadID: threadID, LabelIDs: []string{"SENT"}}
}

// applyLabelChanges mutates msg.LabelIDs in place. Callers hold m.mu.
func (m *MockService) applyLabelChanges(msg *RawMessage, add, remove []string) {
	for _, id := range remove {
		msg.LabelIDs = removeString(msg.LabelIDs, id)
	}
	for _, id := range add {
		if !containsString(msg.LabelIDs, id) {
			msg.LabelIDs = append(msg.LabelIDs, id)
		}
	}
}

// AddLabel stores a label directly, bypassing call tracking.
func (m *MockService) AddLabel(l *Label) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Labels[l.ID] = l
}

// AddMessage stores a message directly, bypassing call tracking.
func (m *MockService) AddMessage(id string, raw []byte, labelIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages[id] = &RawMessage{
		ID:           id,
		ThreadID:     "thread_" + id,
		LabelIDs:     append([]string(nil), labelIDs...),
		Raw:          raw,
		SizeEstimate: int64(len(raw)),
		InternalDate: 1704067200000, // 2024-01-01 00:00:00 UTC
	}
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// Ensure MockService implements Service.
var _ Service = (*MockService)(nil)
