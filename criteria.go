package gmailkit

import (
	"fmt"
	"strings"
	"time"
)

// Criteria is one search predicate, or a boolean combination of predicates,
// expressed in Gmail's search operator syntax. Criteria values are immutable;
// combinators return new values.
type Criteria struct {
	expr string
}

// quoteValue wraps values containing whitespace so multi-word operands stay
// attached to their operator.
func quoteValue(v string) string {
	if strings.ContainsAny(v, " \t") {
		return `"` + v + `"`
	}
	return v
}

// From matches messages sent by the given address or name.
func From(sender string) Criteria {
	return Criteria{expr: "from:" + quoteValue(sender)}
}

// To matches messages addressed to the given recipient.
func To(recipient string) Criteria {
	return Criteria{expr: "to:" + quoteValue(recipient)}
}

// Cc matches messages carbon-copied to the given recipient.
func Cc(recipient string) Criteria {
	return Criteria{expr: "cc:" + quoteValue(recipient)}
}

// Bcc matches messages blind-copied to the given recipient.
func Bcc(recipient string) Criteria {
	return Criteria{expr: "bcc:" + quoteValue(recipient)}
}

// Subject matches messages whose subject contains the given words.
func Subject(subject string) Criteria {
	return Criteria{expr: "subject:" + quoteValue(subject)}
}

// Filename matches messages carrying an attachment with the given name or
// file extension.
func Filename(name string) Criteria {
	return Criteria{expr: "filename:" + quoteValue(name)}
}

// After matches messages received after the given date.
func After(t time.Time) Criteria {
	return Criteria{expr: "after:" + t.Format("2006/01/02")}
}

// Before matches messages received before the given date.
func Before(t time.Time) Criteria {
	return Criteria{expr: "before:" + t.Format("2006/01/02")}
}

// OlderThan matches messages older than the given relative period, e.g.
// OlderThan(2, "d") for two days. Unit is one of "d", "m", "y".
func OlderThan(n int, unit string) Criteria {
	return Criteria{expr: fmt.Sprintf("older_than:%d%s", n, unit)}
}

// NewerThan matches messages newer than the given relative period.
func NewerThan(n int, unit string) Criteria {
	return Criteria{expr: fmt.Sprintf("newer_than:%d%s", n, unit)}
}

// Larger matches messages larger than the given size in bytes.
func Larger(bytes int64) Criteria {
	return Criteria{expr: fmt.Sprintf("larger:%d", bytes)}
}

// Smaller matches messages smaller than the given size in bytes.
func Smaller(bytes int64) Criteria {
	return Criteria{expr: fmt.Sprintf("smaller:%d", bytes)}
}

// HasAttachment matches messages with at least one attachment.
func HasAttachment() Criteria {
	return Criteria{expr: "has:attachment"}
}

// HasYouTube matches messages containing a YouTube link.
func HasYouTube() Criteria {
	return Criteria{expr: "has:youtube"}
}

// HasDrive matches messages containing a Google Drive link.
func HasDrive() Criteria {
	return Criteria{expr: "has:drive"}
}

// HasDocument matches messages containing a Google Docs link.
func HasDocument() Criteria {
	return Criteria{expr: "has:document"}
}

// HasSpreadsheet matches messages containing a Google Sheets link.
func HasSpreadsheet() Criteria {
	return Criteria{expr: "has:spreadsheet"}
}

// HasPresentation matches messages containing a Google Slides link.
func HasPresentation() Criteria {
	return Criteria{expr: "has:presentation"}
}

// HasUserLabels matches messages carrying at least one user-defined label.
func HasUserLabels() Criteria {
	return Criteria{expr: "has:userlabels"}
}

// IsUnread matches unread messages.
func IsUnread() Criteria {
	return Criteria{expr: "is:unread"}
}

// IsStarred matches starred messages.
func IsStarred() Criteria {
	return Criteria{expr: "is:starred"}
}

// IsImportant matches messages Gmail marked important.
func IsImportant() Criteria {
	return Criteria{expr: "is:important"}
}

// InLabel matches messages carrying the given label, by display path.
func InLabel(path string) Criteria {
	return Criteria{expr: "label:" + quoteValue(path)}
}

// Raw passes a search expression through verbatim, for operators without a
// dedicated constructor.
func Raw(expr string) Criteria {
	return Criteria{expr: expr}
}

// Not negates a criteria.
func Not(c Criteria) Criteria {
	if c.expr == "" {
		return c
	}
	return Criteria{expr: "-" + c.groupString()}
}

// AllOf matches messages satisfying every given criteria.
func AllOf(cs ...Criteria) Criteria {
	return combine(cs, "(", ")")
}

// AnyOf matches messages satisfying at least one of the given criteria.
func AnyOf(cs ...Criteria) Criteria {
	return combine(cs, "{", "}")
}

func combine(cs []Criteria, open, close string) Criteria {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		if c.expr != "" {
			parts = append(parts, c.expr)
		}
	}
	switch len(parts) {
	case 0:
		return Criteria{}
	case 1:
		return Criteria{expr: parts[0]}
	default:
		return Criteria{expr: open + strings.Join(parts, " ") + close}
	}
}

// And returns the conjunction of c and other.
func (c Criteria) And(other Criteria) Criteria {
	return AllOf(c, other)
}

// Or returns the disjunction of c and other.
func (c Criteria) Or(other Criteria) Criteria {
	return AnyOf(c, other)
}

// groupString parenthesizes multi-term expressions so negation binds to the
// whole criteria rather than its first term. Spaces inside quoted operands
// do not count as term boundaries.
func (c Criteria) groupString() string {
	if strings.HasPrefix(c.expr, "(") || strings.HasPrefix(c.expr, "{") {
		return c.expr
	}
	inQuote := false
	for _, r := range c.expr {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			return "(" + c.expr + ")"
		}
	}
	return c.expr
}

// String returns the criteria in Gmail search syntax.
func (c Criteria) String() string {
	return c.expr
}
