package gmailkit

import "strings"

// Category identifies one of Gmail's inbox category tabs.
type Category string

const (
	CategoryPersonal   Category = "CATEGORY_PERSONAL"
	CategorySocial     Category = "CATEGORY_SOCIAL"
	CategoryPromotions Category = "CATEGORY_PROMOTIONS"
	CategoryUpdates    Category = "CATEGORY_UPDATES"
	CategoryForums     Category = "CATEGORY_FORUMS"
)

// systemNames maps system label IDs to the display names Gmail's UI uses.
var systemNames = map[string]string{
	"INBOX":               "Inbox",
	"SENT":                "Sent",
	"UNREAD":              "Unread",
	"IMPORTANT":           "Important",
	"STARRED":             "Starred",
	"DRAFT":               "Drafts",
	"CHAT":                "Chats",
	"TRASH":               "Trash",
	"SPAM":                "Spam",
	"CATEGORY_PERSONAL":   "Personal",
	"CATEGORY_SOCIAL":     "Social",
	"CATEGORY_PROMOTIONS": "Promotions",
	"CATEGORY_UPDATES":    "Updates",
	"CATEGORY_FORUMS":     "Forums",
}

// Label is one node of the account's label hierarchy. System labels sit at
// the root under their display names; user labels nest by slash-separated
// path segments. A Label is a view into its tree's cache; it stays valid
// until the tree is refreshed.
type Label struct {
	tree *LabelTree

	id       string
	path     string // full display path, e.g. "Receipts/2024"
	typ      string // "system" or "user"
	parent   *Label
	children map[string]*Label

	messagesTotal  int64
	messagesUnread int64
}

// ID returns the remote label identifier.
func (l *Label) ID() string {
	return l.id
}

// Path returns the full slash-separated display path.
func (l *Label) Path() string {
	return l.path
}

// Name returns the last path segment. For system labels this is the
// display name, e.g. "Inbox" for INBOX.
func (l *Label) Name() string {
	if i := strings.LastIndex(l.path, "/"); i >= 0 {
		return l.path[i+1:]
	}
	return l.path
}

// IsSystem reports whether the label is owned by Gmail rather than the user.
func (l *Label) IsSystem() bool {
	return l.typ == "system"
}

// MessagesTotal returns the message count as of the last tree load.
func (l *Label) MessagesTotal() int64 {
	return l.messagesTotal
}

// MessagesUnread returns the unread count as of the last tree load.
func (l *Label) MessagesUnread() int64 {
	return l.messagesUnread
}

// Parent returns the enclosing label, or nil at the root.
func (l *Label) Parent() *Label {
	return l.parent
}

// Children returns the labels nested directly under this one.
func (l *Label) Children() []*Label {
	return sortedLabels(l.children)
}

// Child looks up a directly nested label by its path segment.
// Unknown segments fail with ErrLabelNotFound.
func (l *Label) Child(segment string) (*Label, error) {
	c, ok := l.children[segment]
	if !ok {
		return nil, ErrLabelNotFound
	}
	return c, nil
}

// Messages starts a search scoped to this label.
func (l *Label) Messages() Query {
	return l.tree.client.Query().In(l)
}
