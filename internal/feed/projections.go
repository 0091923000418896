package feed

import (
	"sort"
	"strings"
	"time"

	"github.com/livefeed/livefeed-go/internal/wire"
)

// Projections are pure functions over a state snapshot. They never mutate the
// source collections; recomputation on every render is allowed.

// Status filter values for notification queries.
type Status string

const (
	StatusAny      Status = ""
	StatusUnread   Status = "unread"
	StatusRead     Status = "read"
	StatusArchived Status = "archived"
)

// SortBy values for notification queries.
type SortBy string

const (
	SortByDate     SortBy = "date"
	SortByPriority SortBy = "priority"
	SortByType     SortBy = "type"
)

// Filter narrows the notification list projection.
type Filter struct {
	Search   string
	TypeTag  string
	Status   Status
	Priority string
	// FromMs/ToMs bound CreatedAt; zero means unbounded.
	FromMs int64
	ToMs   int64
}

// UnreadCount derives the unread counter: personal notifications with no
// readAt. There is no stored counter to drift out of sync.
func UnreadCount(s State) int {
	count := 0
	for _, n := range s.Notifications {
		if n.Personal() && n.ReadAt == 0 {
			count++
		}
	}
	return count
}

// Notifications returns the filtered, sorted notification list.
//
// Archived records are excluded unless explicitly requested via StatusArchived.
func Notifications(s State, f Filter, by SortBy) []wire.Notification {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]wire.Notification, 0, len(s.Notifications))
	for _, n := range s.Notifications {
		switch f.Status {
		case StatusUnread:
			if n.ReadAt != 0 || n.ArchivedAt != 0 {
				continue
			}
		case StatusRead:
			if n.ReadAt == 0 || n.ArchivedAt != 0 {
				continue
			}
		case StatusArchived:
			if n.ArchivedAt == 0 {
				continue
			}
		default:
			if n.ArchivedAt != 0 {
				continue
			}
		}
		if f.TypeTag != "" && n.TypeTag != f.TypeTag {
			continue
		}
		if f.Priority != "" && n.Priority != f.Priority {
			continue
		}
		if f.FromMs > 0 && n.CreatedAt < f.FromMs {
			continue
		}
		if f.ToMs > 0 && n.CreatedAt > f.ToMs {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(n.Title), search) &&
			!strings.Contains(strings.ToLower(n.Body), search) {
			continue
		}
		out = append(out, n)
	}

	switch by {
	case SortByPriority:
		sort.SliceStable(out, func(i, j int) bool {
			pi, pj := priorityRank(out[i].Priority), priorityRank(out[j].Priority)
			if pi != pj {
				return pi > pj
			}
			return out[i].CreatedAt > out[j].CreatedAt
		})
	case SortByType:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].TypeTag != out[j].TypeTag {
				return out[i].TypeTag < out[j].TypeTag
			}
			return out[i].CreatedAt > out[j].CreatedAt
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].CreatedAt != out[j].CreatedAt {
				return out[i].CreatedAt > out[j].CreatedAt
			}
			return out[i].ID < out[j].ID
		})
	}
	return out
}

func priorityRank(p string) int {
	switch p {
	case wire.PriorityCritical:
		return 3
	case wire.PriorityHigh:
		return 2
	case wire.PriorityNormal:
		return 1
	default:
		return 0
	}
}

// DayGroup is a run of messages sharing a calendar day, for date separators.
type DayGroup struct {
	// Day is the calendar date in YYYY-MM-DD (UTC).
	Day      string
	Messages []wire.ChatMessage
}

// MessagesByDay returns messages ordered by createdAt ascending, grouped by
// calendar day.
func MessagesByDay(s State) []DayGroup {
	msgs := Messages(s)
	var groups []DayGroup
	for _, m := range msgs {
		day := time.UnixMilli(m.CreatedAt).UTC().Format("2006-01-02")
		if len(groups) == 0 || groups[len(groups)-1].Day != day {
			groups = append(groups, DayGroup{Day: day})
		}
		groups[len(groups)-1].Messages = append(groups[len(groups)-1].Messages, m)
	}
	return groups
}

// Messages returns the active messages ordered by createdAt ascending.
func Messages(s State) []wire.ChatMessage {
	out := make([]wire.ChatMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// OnlineUsers returns the presence set as a sorted slice.
func OnlineUsers(s State) []string {
	out := make([]string, 0, len(s.Online))
	for id := range s.Online {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// TypingUsers returns users with a live typing indicator at the given time.
func TypingUsers(s State, nowMs int64) []string {
	out := make([]string, 0, len(s.Typing))
	for id, expiry := range s.Typing {
		if expiry > nowMs {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Stats summarizes the notification collection for dashboard counters.
type Stats struct {
	Total    int
	Unread   int
	Archived int
	Critical int
}

// Summarize computes dashboard counters from the notification collection.
func Summarize(s State) Stats {
	var st Stats
	for _, n := range s.Notifications {
		st.Total++
		if n.Personal() && n.ReadAt == 0 {
			st.Unread++
		}
		if n.ArchivedAt != 0 {
			st.Archived++
		}
		if n.Priority == wire.PriorityCritical {
			st.Critical++
		}
	}
	return st
}
