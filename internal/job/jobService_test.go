package job

import (
	"context"
	"testing"

	"github.com/akolanti/GoRAG/internal/data/store"
	"github.com/akolanti/GoRAG/internal/domain/jobModel"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/pkg/logger_i"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger_i.Init(false)
	m.Run()
}

func newService(buffer int, perWorker int64) *Service {
	return InitJobService(ServiceConfig{
		JobChannel:        make(chan jobModel.Job, buffer),
		DispatcherChannel: make(chan bool, 1),
		JobStore:          store.InitInMemoryJobStore(),
		RequestsPerWorker: perWorker,
	})
}

func TestEnqueue_SavesBeforeQueueing(t *testing.T) {
	s := newService(1, 10)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, jobModel.Job{Id: "j1", JobType: jobModel.JobTypeQuery}))

	stored, ok := s.Lookup(ctx, "j1")
	require.True(t, ok)
	assert.Equal(t, jobModel.JobStatusQueued, stored.Status)

	queued := <-s.JobChannel
	assert.Equal(t, "j1", queued.Id)
	assert.Equal(t, jobModel.JobStatusQueued, queued.Status)
}

func TestEnqueue_FullQueueGivesUpWithContext(t *testing.T) {
	s := newService(1, 10)
	require.NoError(t, s.Enqueue(context.Background(), jobModel.Job{Id: "first"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Enqueue(ctx, jobModel.Job{Id: "second"})

	require.Error(t, err)
	assert.Equal(t, ragErrors.CodeCanceled, ragErrors.CodeOf(err))
	_, ok := s.Lookup(context.Background(), "second")
	assert.False(t, ok, "a dropped job must not stay visible")
}

func TestEnqueue_SignalsDispatcher(t *testing.T) {
	s := newService(4, 2)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, jobModel.Job{Id: "a"}))
	assert.Empty(t, s.DispatcherChannel)

	require.NoError(t, s.Enqueue(ctx, jobModel.Job{Id: "b"}))
	assert.Len(t, s.DispatcherChannel, 1)

	// a pending signal is not doubled
	require.NoError(t, s.Enqueue(ctx, jobModel.Job{Id: "c"}))
	require.NoError(t, s.Enqueue(ctx, jobModel.Job{Id: "d"}))
	assert.Len(t, s.DispatcherChannel, 1)
}
