package sqlStore

import (
	"time"

	"github.com/akolanti/GoRAG/internal/domain/commonModels"
)

type projectRow struct {
	Id        string `gorm:"type:varchar(128);primaryKey"`
	Name      string `gorm:"type:varchar(255)"`
	CreatedAt time.Time
}

func (projectRow) TableName() string { return "projects" }

type documentRow struct {
	ProjectId     string `gorm:"type:varchar(128);primaryKey"`
	Id            string `gorm:"type:varchar(128);primaryKey"`
	Name          string `gorm:"type:varchar(512)"`
	StorageRef    string `gorm:"type:text"`
	ContentType   string `gorm:"type:varchar(16)"`
	Status        string `gorm:"type:varchar(16);not null;index"`
	FailureCode   string `gorm:"type:varchar(64)"`
	FailureReason string `gorm:"type:text"`
	ChunkCount    int
	Attempts      int
	UploadedAt    time.Time `gorm:"index"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
	IndexedAt     time.Time
}

func (documentRow) TableName() string { return "documents" }

type sessionRow struct {
	Id           string `gorm:"type:varchar(128);primaryKey"`
	ProjectId    string `gorm:"type:varchar(128);not null;index"`
	UserId       string `gorm:"type:varchar(128)"`
	CreatedAt    time.Time
	LastActivity time.Time
}

func (sessionRow) TableName() string { return "chat_sessions" }

type messageRow struct {
	SessionId string                `gorm:"type:varchar(128);primaryKey"`
	Seq       int64                 `gorm:"primaryKey;autoIncrement:false"`
	Id        string                `gorm:"type:varchar(128)"`
	Role      string                `gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content   string                `gorm:"type:text;not null"`
	Sources   []commonModels.Source `gorm:"serializer:json"`
	CreatedAt time.Time
}

func (messageRow) TableName() string { return "chat_messages" }

func toDocumentRow(d commonModels.Document) documentRow {
	return documentRow{
		ProjectId:     d.ProjectId,
		Id:            d.Id,
		Name:          d.Name,
		StorageRef:    d.StorageRef,
		ContentType:   string(d.ContentType),
		Status:        string(d.Status),
		FailureCode:   d.FailureCode,
		FailureReason: d.FailureReason,
		ChunkCount:    d.ChunkCount,
		Attempts:      d.Attempts,
		UploadedAt:    d.UploadedAt,
		UpdatedAt:     d.UpdatedAt,
		IndexedAt:     d.IndexedAt,
	}
}

func (r documentRow) toDocument() commonModels.Document {
	return commonModels.Document{
		Id:            r.Id,
		ProjectId:     r.ProjectId,
		Name:          r.Name,
		StorageRef:    r.StorageRef,
		ContentType:   commonModels.DocType(r.ContentType),
		Status:        commonModels.DocStatus(r.Status),
		FailureCode:   r.FailureCode,
		FailureReason: r.FailureReason,
		ChunkCount:    r.ChunkCount,
		Attempts:      r.Attempts,
		UploadedAt:    r.UploadedAt,
		UpdatedAt:     r.UpdatedAt,
		IndexedAt:     r.IndexedAt,
	}
}

func (r sessionRow) toSession() commonModels.ChatSession {
	return commonModels.ChatSession{
		Id:           r.Id,
		ProjectId:    r.ProjectId,
		UserId:       r.UserId,
		CreatedAt:    r.CreatedAt,
		LastActivity: r.LastActivity,
	}
}

func (r messageRow) toMessage() commonModels.ChatMessage {
	return commonModels.ChatMessage{
		Id:        r.Id,
		SessionId: r.SessionId,
		Seq:       r.Seq,
		Role:      commonModels.Role(r.Role),
		Content:   r.Content,
		Sources:   r.Sources,
		CreatedAt: r.CreatedAt,
	}
}
