package fakegmail

import (
	"strconv"
	"strings"
	"time"
)

// matchesQuery evaluates a Gmail search expression against a stored
// message. Supported: from/to/cc/subject/filename (quoted or bare),
// after/before dates, larger/smaller sizes, has:attachment, is:unread,
// bare-word body search, and "-" negation. Terms compose by conjunction.
func matchesQuery(m *storedMessage, query string) bool {
	for _, term := range splitTerms(query) {
		negate := strings.HasPrefix(term, "-")
		if negate {
			term = term[1:]
		}
		if matchesTerm(m, term) == negate {
			return false
		}
	}
	return true
}

// splitTerms tokenizes on spaces, keeping quoted operands intact.
func splitTerms(query string) []string {
	var terms []string
	var cur strings.Builder
	inQuote := false
	for _, r := range query {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if cur.Len() > 0 {
				terms = append(terms, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		terms = append(terms, cur.String())
	}
	return terms
}

func matchesTerm(m *storedMessage, term string) bool {
	op, value, hasOp := strings.Cut(term, ":")
	if !hasOp {
		return containsFold(m.subject, term) || containsFold(m.text, term)
	}

	switch op {
	case "from":
		return containsFold(m.from, value)
	case "to":
		return anyContainsFold(m.to, value)
	case "cc":
		return anyContainsFold(m.cc, value)
	case "subject":
		return containsFold(m.subject, value)
	case "filename":
		return anyContainsFold(m.filenames, value)
	case "has":
		return value == "attachment" && m.hasAttachment
	case "is":
		switch value {
		case "unread":
			return hasID(m.labelIDs, "UNREAD")
		case "starred":
			return hasID(m.labelIDs, "STARRED")
		case "important":
			return hasID(m.labelIDs, "IMPORTANT")
		}
		return false
	case "larger":
		n, err := strconv.ParseInt(value, 10, 64)
		return err == nil && int64(len(m.raw)) > n
	case "smaller":
		n, err := strconv.ParseInt(value, 10, 64)
		return err == nil && int64(len(m.raw)) < n
	case "after":
		t, err := time.Parse("2006/01/02", value)
		return err == nil && m.internalDate.After(t)
	case "before":
		t, err := time.Parse("2006/01/02", value)
		return err == nil && m.internalDate.Before(t)
	default:
		// Unknown operators match nothing, making unsupported queries
		// visible in tests instead of silently matching everything.
		return false
	}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func anyContainsFold(haystacks []string, needle string) bool {
	for _, h := range haystacks {
		if containsFold(h, needle) {
			return true
		}
	}
	return false
}
