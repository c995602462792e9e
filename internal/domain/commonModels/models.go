package commonModels

import "time"

type Project struct {
	Id        string    `json:"project_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Document struct {
	Id            string    `json:"document_id"`
	ProjectId     string    `json:"project_id"`
	Name          string    `json:"doc_name"`
	StorageRef    string    `json:"storage_reference"`
	ContentType   DocType   `json:"content_type,omitempty"`
	Status        DocStatus `json:"status"`
	FailureCode   string    `json:"failure_code,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	ChunkCount    int       `json:"chunk_count"`
	Attempts      int       `json:"attempts"`
	UploadedAt    time.Time `json:"uploaded_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	IndexedAt     time.Time `json:"indexed_at,omitempty"`
}

// DocChunk lives only in the vector index. Generation groups the chunks of one ingestion run.
type DocChunk struct {
	Id             string    `json:"chunk_id"`
	DocumentId     string    `json:"source_doc_id"`
	ProjectId      string    `json:"project_id"`
	Ordinal        int       `json:"chunk_order"`
	Text           string    `json:"content"`
	PageNum        int       `json:"page_num"`
	Generation     string    `json:"generation"`
	EmbeddingModel string    `json:"embedding_model"`
	Vector         []float32 `json:"-"`
}

type DocType string

var PDF DocType = "PDF"
var DOCX DocType = "DOCX"
var TXT DocType = "TXT"
var ERR DocType = "ERROR"

type ChatSession struct {
	Id           string    `json:"session_id"`
	ProjectId    string    `json:"project_id"`
	UserId       string    `json:"user_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Id        string    `json:"message_id"`
	SessionId string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Source is a citation: one document page that contributed context to an answer.
type Source struct {
	DocumentId string `json:"document_id"`
	Page       int    `json:"page"`
}
