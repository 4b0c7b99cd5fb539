package domain

import "time"

// LeadStatus tracks a prospect through the sales pipeline.
type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadContacted LeadStatus = "contacted"
	LeadQualified LeadStatus = "qualified"
	LeadConverted LeadStatus = "converted"
	LeadLost      LeadStatus = "lost"
)

// Lead is a prospect derived from conversation context.
type Lead struct {
	ID             string         `json:"id"`
	AgentID        string         `json:"agentId"`
	CompanyID      string         `json:"companyId"`
	ConversationID string         `json:"conversationId,omitempty"`
	Name           string         `json:"name,omitempty"`
	Email          string         `json:"email,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	Company        string         `json:"company,omitempty"`
	Status         LeadStatus     `json:"status"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// AnsweredQuestions decodes the Q&A list kept in lead metadata.
func (l *Lead) AnsweredQuestions() []QA {
	switch v := l.Metadata["answeredQuestions"].(type) {
	case []QA:
		return v
	case []any:
		out := make([]QA, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			q, _ := m["question"].(string)
			a, _ := m["answer"].(string)
			out = append(out, QA{Question: q, Answer: a})
		}
		return out
	default:
		return nil
	}
}
