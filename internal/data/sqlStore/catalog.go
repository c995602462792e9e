package sqlStore

import (
	"context"
	"errors"

	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) CreateProject(ctx context.Context, project commonModels.Project) error {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&projectRow{Id: project.Id, Name: project.Name, CreatedAt: project.CreatedAt})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ragErrors.Ef(ragErrors.CodeInvalidRequest, "store.CreateProject", nil, "Project %s already exists", project.Id)
	}
	s.logger.WithTrace(ctx).Debug("Project created", "projectId", project.Id)
	return nil
}

func (s *Store) GetProject(ctx context.Context, projectId string) (commonModels.Project, bool, error) {
	var row projectRow
	err := s.db.WithContext(ctx).Where("id = ?", projectId).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return commonModels.Project{}, false, nil
	}
	if err != nil {
		return commonModels.Project{}, false, err
	}
	return commonModels.Project{Id: row.Id, Name: row.Name, CreatedAt: row.CreatedAt}, true, nil
}

func (s *Store) DeleteProject(ctx context.Context, projectId string) error {
	return s.db.WithContext(ctx).Where("id = ?", projectId).Delete(&projectRow{}).Error
}

func (s *Store) CreateDocument(ctx context.Context, doc commonModels.Document) error {
	row := toDocumentRow(doc)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *Store) GetDocument(ctx context.Context, projectId, documentId string) (commonModels.Document, bool, error) {
	var row documentRow
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND id = ?", projectId, documentId).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return commonModels.Document{}, false, nil
	}
	if err != nil {
		return commonModels.Document{}, false, err
	}
	return row.toDocument(), true, nil
}

func (s *Store) ListDocuments(ctx context.Context, projectId string) ([]commonModels.Document, error) {
	var rows []documentRow
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectId).
		Order("uploaded_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]commonModels.Document, len(rows))
	for i, r := range rows {
		out[i] = r.toDocument()
	}
	return out, nil
}

func (s *Store) CountIndexed(ctx context.Context, projectId string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&documentRow{}).
		Where("project_id = ? AND status = ?", projectId, string(commonModels.StatusIndexed)).
		Count(&n).Error
	return int(n), err
}

// Transition locks the row with SELECT ... FOR UPDATE so concurrent triggers serialize on it.
func (s *Store) Transition(ctx context.Context, projectId, documentId string, from []commonModels.DocStatus, to commonModels.DocStatus, mutate func(*commonModels.Document)) (commonModels.Document, error) {
	var result commonModels.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row documentRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("project_id = ? AND id = ?", projectId, documentId).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ragErrors.E(ragErrors.CodeDocumentNotFound, "store.Transition", nil)
		}
		if err != nil {
			return err
		}

		doc := row.toDocument()
		if err := doc.ApplyTransition(from, to, mutate, s.now().UTC()); err != nil {
			result = doc
			return err
		}
		updated := toDocumentRow(doc)
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		result = doc
		return nil
	})
	if err != nil {
		var rerr *ragErrors.Error
		if !errors.As(err, &rerr) {
			s.logger.WithTrace(ctx).Error("Transition failed", "documentId", documentId, "to", to, "error", err)
		}
		return result, err
	}
	s.logger.WithTrace(ctx).Debug("Document transitioned", "documentId", documentId, "to", to)
	return result, nil
}

func (s *Store) DeleteDocument(ctx context.Context, projectId, documentId string) error {
	return s.db.WithContext(ctx).
		Where("project_id = ? AND id = ?", projectId, documentId).
		Delete(&documentRow{}).Error
}

func (s *Store) DeleteProjectDocuments(ctx context.Context, projectId string) error {
	return s.db.WithContext(ctx).Where("project_id = ?", projectId).Delete(&documentRow{}).Error
}
