package domain

import (
	"maps"
	"slices"
)

// QA is one answered qualification question.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ChatTurn is a calendar negotiation exchange kept in context between turns.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context is the per-conversation working memory. Known keys are typed fields;
// Extra absorbs handler-specific keys that have no field yet.
type Context struct {
	CurrentState         string         `json:"currentState"`
	CustomerName         string         `json:"customerName,omitempty"`
	CustomerEmail        string         `json:"customerEmail,omitempty"`
	CustomerPhone        string         `json:"customerPhone,omitempty"`
	LeadID               string         `json:"leadId,omitempty"`
	AnsweredQuestions    []QA           `json:"answeredQuestions,omitempty"`
	AvailableSlots       []TimeSlot     `json:"availableSlots,omitempty"`
	SelectedSlot         string         `json:"selectedSlot,omitempty"`
	AppointmentID        string         `json:"appointmentId,omitempty"`
	CalendarMessages     []ChatTurn     `json:"calendarMessages,omitempty"`
	LastError            string         `json:"lastError,omitempty"`
	ErrorRecoveryAttempt int            `json:"errorRecoveryAttempt,omitempty"`
	Extra                map[string]any `json:"extra,omitempty"`
}

// Clone returns a copy that shares no slices or maps with c.
func (c Context) Clone() Context {
	out := c
	out.AnsweredQuestions = slices.Clone(c.AnsweredQuestions)
	out.AvailableSlots = slices.Clone(c.AvailableSlots)
	out.CalendarMessages = slices.Clone(c.CalendarMessages)
	out.Extra = maps.Clone(c.Extra)
	return out
}

// Set stores an extension key.
func (c *Context) Set(key string, value any) {
	if c.Extra == nil {
		c.Extra = make(map[string]any)
	}
	c.Extra[key] = value
}

// Get returns an extension key.
func (c Context) Get(key string) (any, bool) {
	v, ok := c.Extra[key]
	return v, ok
}
