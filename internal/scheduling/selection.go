package scheduling

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/leadflow/internal/domain"
)

var (
	ordinalPattern = regexp.MustCompile(`(?i)^(?:opção\s*|número\s*|a\s+opção\s*)?(\d+)(?:\s|$|\.|,)`)

	// Tried in order; the first pattern whose time matches a slot wins.
	timePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:^|\s)às\s+(\d{1,2}):(\d{2})\b`),
		regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`),
		regexp.MustCompile(`\b(\d{1,2})h(\d{2})\b`),
		regexp.MustCompile(`\b(\d{1,2})h\b`),
	}

	clockPattern   = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	anyTimePattern = regexp.MustCompile(`\d{1,2}[:h]\d{0,2}`)
)

// ParseTimeSelection maps a reply onto one of slots, trying in order: a
// 1-based option number, an exact time, the full label, the label's day plus
// time, and finally the day alone when the reply names no time. It returns nil
// when nothing matches.
func ParseTimeSelection(message string, slots []domain.TimeSlot) *domain.TimeSlot {
	if len(slots) == 0 {
		return nil
	}
	msg := strings.TrimSpace(message)
	lower := strings.ToLower(msg)

	if m := ordinalPattern.FindStringSubmatch(msg); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 && n <= len(slots) {
			return &slots[n-1]
		}
	}

	for _, p := range timePatterns {
		m := p.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if len(m) > 2 {
			minute, _ = strconv.Atoi(m[2])
		}
		for i := range slots {
			if slots[i].Start.Hour() == hour && slots[i].Start.Minute() == minute {
				return &slots[i]
			}
		}
	}

	for i := range slots {
		if strings.Contains(lower, strings.ToLower(slots[i].Label)) {
			return &slots[i]
		}
	}

	msgClock := clockPattern.FindStringSubmatch(lower)
	for i := range slots {
		dayPart, timePart, ok := strings.Cut(slots[i].Label, ",")
		dayPart = strings.ToLower(strings.TrimSpace(dayPart))
		if !ok || dayPart == "" || strings.TrimSpace(timePart) == "" {
			continue
		}
		slotClock := clockPattern.FindStringSubmatch(timePart)
		if slotClock == nil || msgClock == nil {
			continue
		}
		if strings.Contains(lower, dayPart) && slotClock[1] == msgClock[1] && slotClock[2] == msgClock[2] {
			return &slots[i]
		}
	}

	if !anyTimePattern.MatchString(lower) {
		for i := range slots {
			dayPart, _, ok := strings.Cut(slots[i].Label, ",")
			dayPart = strings.ToLower(strings.TrimSpace(dayPart))
			if ok && dayPart != "" && strings.Contains(lower, dayPart) {
				return &slots[i]
			}
		}
	}

	return nil
}
