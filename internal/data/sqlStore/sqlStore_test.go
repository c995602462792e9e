package sqlStore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// testStore runs against a real Postgres; every test gets fresh ids so runs do not collide.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run postgres store tests")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)
	s, err := New(db)
	require.NoError(t, err)
	return s
}

func TestStore_ProjectsAndDocuments(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	projectId := "p-" + uuid.NewString()
	t.Cleanup(func() {
		_ = s.DeleteProjectDocuments(ctx, projectId)
		_ = s.DeleteProject(ctx, projectId)
	})

	require.NoError(t, s.CreateProject(ctx, commonModels.Project{Id: projectId, Name: "handbook", CreatedAt: time.Now()}))
	err := s.CreateProject(ctx, commonModels.Project{Id: projectId})
	assert.Equal(t, ragErrors.CodeInvalidRequest, ragErrors.CodeOf(err))

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.CreateDocument(ctx, commonModels.Document{Id: "b", ProjectId: projectId, Status: commonModels.StatusUploaded, UploadedAt: base.Add(time.Second)}))
	require.NoError(t, s.CreateDocument(ctx, commonModels.Document{Id: "a", ProjectId: projectId, Status: commonModels.StatusUploaded, UploadedAt: base}))

	docs, err := s.ListDocuments(ctx, projectId)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].Id)

	_, found, err := s.GetDocument(ctx, "other-"+projectId, "a")
	require.NoError(t, err)
	assert.False(t, found)

	doc, err := s.Transition(ctx, projectId, "a",
		[]commonModels.DocStatus{commonModels.StatusUploaded}, commonModels.StatusProcessing,
		func(d *commonModels.Document) { d.Attempts++ })
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Attempts)

	_, err = s.Transition(ctx, projectId, "a",
		[]commonModels.DocStatus{commonModels.StatusUploaded}, commonModels.StatusProcessing, nil)
	assert.Equal(t, ragErrors.CodeInvalidTransition, ragErrors.CodeOf(err))

	_, err = s.Transition(ctx, projectId, "a",
		[]commonModels.DocStatus{commonModels.StatusProcessing}, commonModels.StatusIndexed, nil)
	require.NoError(t, err)
	n, err := s.CountIndexed(ctx, projectId)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_ChatSeq(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	projectId := "p-" + uuid.NewString()
	sessionId := uuid.NewString()
	t.Cleanup(func() { _ = s.DeleteProjectSessions(ctx, projectId) })

	require.NoError(t, s.CreateSession(ctx, commonModels.ChatSession{Id: sessionId, ProjectId: projectId, CreatedAt: time.Now()}))

	for i := 0; i < 3; i++ {
		_, err := s.AppendMessages(ctx, sessionId, time.Now(),
			commonModels.ChatMessage{Role: commonModels.RoleUser, Content: "q"},
			commonModels.ChatMessage{Role: commonModels.RoleAssistant, Content: "a", Sources: []commonModels.Source{{DocumentId: "d", Page: 1}}})
		require.NoError(t, err)
	}

	last, err := s.ListMessages(ctx, sessionId, 3)
	require.NoError(t, err)
	require.Len(t, last, 3)
	assert.Equal(t, []int64{4, 5, 6}, []int64{last[0].Seq, last[1].Seq, last[2].Seq})
	assert.Equal(t, []commonModels.Source{{DocumentId: "d", Page: 1}}, last[2].Sources)

	_, err = s.AppendMessages(ctx, "missing-"+sessionId, time.Now(), commonModels.ChatMessage{Role: commonModels.RoleUser})
	assert.Equal(t, ragErrors.CodeSessionNotFound, ragErrors.CodeOf(err))

	require.NoError(t, s.DeleteProjectSessions(ctx, projectId))
	_, found, err := s.GetSession(ctx, sessionId)
	require.NoError(t, err)
	assert.False(t, found)
}
