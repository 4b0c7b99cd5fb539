package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ashureev/leadflow/internal/domain"
	"github.com/google/uuid"
)

const leadColumns = `id, agent_id, company_id, conversation_id, name, email, phone, company, status, metadata_json, created_at, updated_at`

// CreateLead inserts a new lead.
func (s *SQLiteStore) CreateLead(ctx context.Context, lead *domain.Lead) error {
	now := time.Now()
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if lead.Status == "" {
		lead.Status = domain.LeadNew
	}
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = time.Unix(now.Unix(), 0)
	}
	lead.UpdatedAt = time.Unix(now.Unix(), 0)

	metadataJSON, err := marshalMetadata(lead.Metadata)
	if err != nil {
		return fmt.Errorf("marshal lead metadata: %w", err)
	}

	query := `INSERT INTO leads (` + leadColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return withRetry(ctx, "insert lead", func() error {
		_, err := s.db.ExecContext(ctx, query,
			lead.ID, lead.AgentID, lead.CompanyID, nullable(lead.ConversationID),
			nullable(lead.Name), nullable(lead.Email), nullable(lead.Phone), nullable(lead.Company),
			string(lead.Status), metadataJSON, lead.CreatedAt.Unix(), lead.UpdatedAt.Unix(),
		)
		return err
	})
}

// UpdateLead overwrites a lead's mutable fields.
func (s *SQLiteStore) UpdateLead(ctx context.Context, lead *domain.Lead) error {
	lead.UpdatedAt = time.Unix(time.Now().Unix(), 0)

	metadataJSON, err := marshalMetadata(lead.Metadata)
	if err != nil {
		return fmt.Errorf("marshal lead metadata: %w", err)
	}

	query := `
	UPDATE leads SET conversation_id = ?, name = ?, email = ?, phone = ?, company = ?,
		status = ?, metadata_json = ?, updated_at = ?
	WHERE id = ?`

	var rows int64
	err = withRetry(ctx, "update lead", func() error {
		result, err := s.db.ExecContext(ctx, query,
			nullable(lead.ConversationID), nullable(lead.Name), nullable(lead.Email),
			nullable(lead.Phone), nullable(lead.Company), string(lead.Status), metadataJSON,
			lead.UpdatedAt.Unix(), lead.ID,
		)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("update lead %s: no such lead", lead.ID)
	}
	return nil
}

// GetLead retrieves a lead by id.
func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*domain.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = ?`
	return scanLead(s.db.QueryRowContext(ctx, query, id))
}

// FindLeadByEmail looks a lead up by email within a tenant.
func (s *SQLiteStore) FindLeadByEmail(ctx context.Context, email, companyID, agentID string) (*domain.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE email = ? AND company_id = ?`
	args := []interface{}{email, companyID}
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at LIMIT 1`
	return scanLead(s.db.QueryRowContext(ctx, query, args...))
}

// FindLeadByConversation returns the lead attached to a conversation.
func (s *SQLiteStore) FindLeadByConversation(ctx context.Context, conversationID string) (*domain.Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE conversation_id = ? ORDER BY updated_at DESC LIMIT 1`
	return scanLead(s.db.QueryRowContext(ctx, query, conversationID))
}

func scanLead(row *sql.Row) (*domain.Lead, error) {
	var lead domain.Lead
	var conversationID, name, email, phone, company, metadataJSON sql.NullString
	var status string
	var createdAt, updatedAt int64

	err := row.Scan(
		&lead.ID, &lead.AgentID, &lead.CompanyID, &conversationID,
		&name, &email, &phone, &company, &status, &metadataJSON, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan lead row: %w", err)
	}

	lead.ConversationID = conversationID.String
	lead.Name = name.String
	lead.Email = email.String
	lead.Phone = phone.String
	lead.Company = company.String
	lead.Status = domain.LeadStatus(status)
	lead.CreatedAt = time.Unix(createdAt, 0)
	lead.UpdatedAt = time.Unix(updatedAt, 0)
	if lead.Metadata, err = unmarshalMetadata(metadataJSON); err != nil {
		return nil, fmt.Errorf("decode lead metadata: %w", err)
	}
	return &lead, nil
}
