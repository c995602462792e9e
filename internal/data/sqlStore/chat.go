package sqlStore

import (
	"context"
	"errors"
	"time"

	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) CreateSession(ctx context.Context, session commonModels.ChatSession) error {
	row := sessionRow{
		Id:           session.Id,
		ProjectId:    session.ProjectId,
		UserId:       session.UserId,
		CreatedAt:    session.CreatedAt,
		LastActivity: session.LastActivity,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *Store) GetSession(ctx context.Context, sessionId string) (commonModels.ChatSession, bool, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("id = ?", sessionId).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return commonModels.ChatSession{}, false, nil
	}
	if err != nil {
		return commonModels.ChatSession{}, false, err
	}
	return row.toSession(), true, nil
}

// AppendMessages holds the session row lock while it reads the last seq and inserts.
func (s *Store) AppendMessages(ctx context.Context, sessionId string, at time.Time, messages ...commonModels.ChatMessage) ([]commonModels.ChatMessage, error) {
	var out []commonModels.ChatMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session sessionRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", sessionId).Take(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ragErrors.E(ragErrors.CodeSessionNotFound, "store.AppendMessages", nil)
		}
		if err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}

		var last int64
		if err := tx.Model(&messageRow{}).
			Where("session_id = ?", sessionId).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&last).Error; err != nil {
			return err
		}

		rows := make([]messageRow, len(messages))
		out = make([]commonModels.ChatMessage, len(messages))
		for i, m := range messages {
			rows[i] = messageRow{
				SessionId: sessionId,
				Seq:       last + int64(i) + 1,
				Id:        m.Id,
				Role:      string(m.Role),
				Content:   m.Content,
				Sources:   m.Sources,
				CreatedAt: m.CreatedAt,
			}
			out[i] = rows[i].toMessage()
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		return tx.Model(&sessionRow{}).Where("id = ?", sessionId).Update("last_activity", at).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionId string, limit int) ([]commonModels.ChatMessage, error) {
	q := s.db.WithContext(ctx).Where("session_id = ?", sessionId).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []messageRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]commonModels.ChatMessage, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r.toMessage()
	}
	return out, nil
}

func (s *Store) DeleteProjectSessions(ctx context.Context, projectId string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sessions := tx.Model(&sessionRow{}).Select("id").Where("project_id = ?", projectId)
		if err := tx.Where("session_id IN (?)", sessions).Delete(&messageRow{}).Error; err != nil {
			return err
		}
		return tx.Where("project_id = ?", projectId).Delete(&sessionRow{}).Error
	})
}
