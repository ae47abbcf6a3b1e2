package messaging

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	dayMillis = 86_400_000

	// SentPrefix marks previews of messages the current user sent.
	SentPrefix = "→ "
	// UnknownName is shown for counterparts without a profile name.
	UnknownName = "Unknown"

	placeholderBase = "https://api.dicebear.com/7.x/avataaars/svg?seed="
)

// DayDiff returns floor((now - created) in milliseconds / 86,400,000). It counts elapsed
// 24h periods, not calendar days.
func DayDiff(created, now time.Time) int64 {
	ms := now.Sub(created).Milliseconds()
	d := ms / dayMillis
	if ms%dayMillis != 0 && ms < 0 {
		d--
	}
	return d
}

// TimeLabel renders the relative time shown next to a conversation: "15:04" for the
// current day bucket (and future timestamps), "Yesterday", "Nd ago" up to six days and
// "2 Jan" after that. Clock and date are rendered in loc (time.Local when nil).
func TimeLabel(created, now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	switch d := DayDiff(created, now); {
	case d <= 0:
		return created.In(loc).Format("15:04")
	case d == 1:
		return "Yesterday"
	case d < 7:
		return fmt.Sprintf("%dd ago", d)
	default:
		return created.In(loc).Format("2 Jan")
	}
}

// PlaceholderAvatar returns the generated avatar URL for a display name.
func PlaceholderAvatar(name string) string {
	return placeholderBase + url.QueryEscape(name)
}

// DisplayName returns the profile name, or UnknownName when it is missing or blank.
func DisplayName(p *Profile) string {
	if p == nil || p.Name == nil || strings.TrimSpace(*p.Name) == "" {
		return UnknownName
	}
	return *p.Name
}

// AvatarURL returns the profile avatar, or a placeholder keyed by the display name.
func AvatarURL(p *Profile) string {
	if p != nil && p.Avatar != nil && strings.TrimSpace(*p.Avatar) != "" {
		return *p.Avatar
	}
	return PlaceholderAvatar(DisplayName(p))
}

// Preview returns the list preview of m as seen by userID.
func Preview(m Message, userID string) string {
	if m.SenderID == userID {
		return SentPrefix + m.Content
	}
	return m.Content
}

// Unread reports whether m is an unread message addressed to userID.
func Unread(m Message, userID string) bool {
	return !m.Read && m.ReceiverID == userID
}

// Counterparts returns the distinct counterpart ids of latest in first-seen order.
func Counterparts(latest []Message, userID string) []string {
	seen := make(map[string]struct{}, len(latest))
	ids := make([]string, 0, len(latest))
	for _, m := range latest {
		id := m.Counterpart(userID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// BuildConversations turns latest messages and counterpart profiles into the
// conversation list. Order follows latest; if a counterpart appears twice the newer
// message wins and keeps the first position.
func BuildConversations(userID string, latest []Message, profiles []Profile, now time.Time, loc *time.Location) []Conversation {
	byID := make(map[string]*Profile, len(profiles))
	for i := range profiles {
		byID[profiles[i].ID] = &profiles[i]
	}

	// position of each counterpart in convs, for de-duplication
	index := make(map[string]int, len(latest))
	convs := make([]Conversation, 0, len(latest))
	for _, m := range latest {
		cp := m.Counterpart(userID)
		p := byID[cp]
		c := Conversation{
			ID:      cp,
			Avatar:  AvatarURL(p),
			Name:    DisplayName(p),
			Message: Preview(m, userID),
			Time:    TimeLabel(m.CreatedAt, now, loc),
			Unread:  Unread(m, userID),
			LastAt:  m.CreatedAt,
		}
		if i, ok := index[cp]; ok {
			if m.CreatedAt.After(convs[i].LastAt) {
				convs[i] = c
			}
			continue
		}
		index[cp] = len(convs)
		convs = append(convs, c)
	}
	return convs
}
