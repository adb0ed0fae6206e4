package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccforever/forever/pkg/config"
	"github.com/ccforever/forever/pkg/embedder"
	embmock "github.com/ccforever/forever/pkg/embedder/adapters/mock"
	apperrors "github.com/ccforever/forever/pkg/errors"
	storemock "github.com/ccforever/forever/pkg/store/adapters/mock"
)

const transcript = "Human: What is the capital of France?\n" +
	"Assistant: The capital of France is Paris.\n" +
	"\n" +
	"Human: How do goroutines differ from threads?\n" +
	"Assistant: Goroutines are multiplexed onto OS threads by the runtime.\n"

func newTestService(t *testing.T) (*Service, *storemock.MockStore) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Source = "test"
	st := storemock.NewMockStore()
	svc, err := NewService(embedder.New(embmock.New()), st, cfg)
	require.NoError(t, err)
	return svc, st
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, storemock.NewMockStore(), config.DefaultConfig())
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = NewService(embedder.New(embmock.New()), nil, config.DefaultConfig())
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = NewService(embedder.New(embmock.New()), storemock.NewMockStore(), nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestStoreChunksContent(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	result, err := svc.Store(ctx, transcript, "", nil, true)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ChunksStored)
	assert.NotEmpty(t, result.Timestamp)

	records := st.Records()
	require.Len(t, records, 2)
	assert.Equal(t, result.Timestamp+"-0", records[0].ID)
	assert.Equal(t, result.Timestamp+"-1", records[1].ID)
	assert.Equal(t, DefaultProject, records[0].Project)
	assert.Equal(t, DefaultTags, records[0].Tags)
	assert.Equal(t, "What is the capital of France?", records[0].Question)
	assert.True(t, strings.HasPrefix(records[0].Text, "Human: "))
}

func TestStoreWithoutChunking(t *testing.T) {
	svc, st := newTestService(t)

	content := "Free-form note about deployment runbooks."
	result, err := svc.Store(context.Background(), content, "ops", []string{"runbook", "manual-index"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunksStored)

	records := st.Records()
	require.Len(t, records, 1)
	assert.Equal(t, content, records[0].Text)
	assert.Equal(t, content, records[0].Question)
	assert.Equal(t, "ops", records[0].Project)
	assert.Equal(t, "runbook,manual-index", records[0].Tags)
}

func TestStoreRejectsEmptyContent(t *testing.T) {
	svc, _ := newTestService(t)

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := svc.Store(context.Background(), content, "", nil, true)
		assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "content %q", content)
	}
}

func TestStoreContentLengthBoundary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, strings.Repeat("a", MaxContentLength+1), "", nil, false)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = svc.Store(ctx, strings.Repeat("a", MaxContentLength), "", nil, false)
	assert.NoError(t, err)
}

func TestStoreRejectsContentWithNoPairs(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Store(context.Background(), "just some prose with no speakers", "", nil, true)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	assert.Contains(t, err.Error(), "no question/answer pairs")
}

func TestRetrieveRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, transcript, "", nil, true)
	require.NoError(t, err)

	result, err := svc.Retrieve(ctx, "Human: What is the capital of France?\nAssistant: The capital of France is Paris.", 5, 0, "")
	require.NoError(t, err)
	require.NotEmpty(t, result.Results)
	assert.Equal(t, "What is the capital of France?", result.Results[0].Question)
	assert.InDelta(t, 1.0, result.Results[0].Score, 1e-3)
	assert.Equal(t, len(result.Results), result.TotalFound)
}

func TestRetrieveThresholdMonotonicity(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, transcript, "", nil, true)
	require.NoError(t, err)

	loose, err := svc.Retrieve(ctx, "capital of France", 10, 0.1, "")
	require.NoError(t, err)
	strict, err := svc.Retrieve(ctx, "capital of France", 10, 0.5, "")
	require.NoError(t, err)

	looseIDs := make(map[string]bool)
	for _, r := range loose.Results {
		looseIDs[r.ID] = true
	}
	for _, r := range strict.Results {
		assert.True(t, looseIDs[r.ID], "strict result %s missing from loose results", r.ID)
	}
}

func TestRetrieveProjectFilter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, "Human: alpha question\nAssistant: alpha answer", "alpha", nil, true)
	require.NoError(t, err)
	_, err = svc.Store(ctx, "Human: beta question\nAssistant: beta answer", "beta", nil, true)
	require.NoError(t, err)

	result, err := svc.Retrieve(ctx, "question", 10, 0, "alpha")
	require.NoError(t, err)
	for _, r := range result.Results {
		assert.Equal(t, "alpha", r.Project)
	}
}

func TestRetrieveValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Retrieve(ctx, "", 5, 0.3, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = svc.Retrieve(ctx, strings.Repeat("q", MaxQueryLength+1), 5, 0.3, "")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestRetrieveClampsParameters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, transcript, "", nil, true)
	require.NoError(t, err)

	// Out-of-range inputs are clamped rather than rejected.
	result, err := svc.Retrieve(ctx, "anything", -3, -2.5, "")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.Results), 1)

	result, err = svc.Retrieve(ctx, "anything", 500, 1.7, "")
	require.NoError(t, err)
	for _, r := range result.Results {
		assert.GreaterOrEqual(t, r.Score, 1.0)
	}
}

func TestRetrieveEmptyStore(t *testing.T) {
	svc, _ := newTestService(t)

	result, err := svc.Retrieve(context.Background(), "anything at all", 5, 0.3, "")
	require.NoError(t, err)
	assert.Empty(t, result.Results)
	assert.Equal(t, 0, result.TotalFound)
}

func TestDeleteRequiresCriteria(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Delete(context.Background(), DeleteCriteria{})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestDeletePrecedenceAllWins(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, transcript, "x", nil, true)
	require.NoError(t, err)
	_, err = svc.Store(ctx, "Human: other?\nAssistant: other.", "y", nil, true)
	require.NoError(t, err)

	result, err := svc.Delete(ctx, DeleteCriteria{All: true, Project: "x"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.DeletedCount)
	assert.Equal(t, "all", result.Criteria)
	assert.Empty(t, st.Records())
}

func TestDeleteByIDDecrementsCount(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	stored, err := svc.Store(ctx, transcript, "", nil, true)
	require.NoError(t, err)
	require.Len(t, st.Records(), 2)

	result, err := svc.Delete(ctx, DeleteCriteria{IDs: []string{stored.Timestamp + "-0"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeletedCount)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalChunks)
}

func TestDeleteByProjectBeatsBefore(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, transcript, "x", nil, true)
	require.NoError(t, err)

	result, err := svc.Delete(ctx, DeleteCriteria{Project: "x", Before: "2999-01-01T00:00:00.000000Z"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.DeletedCount)
	assert.Equal(t, "project=x", result.Criteria)
}

func TestStatsReportsConfiguration(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalChunks)
	assert.Equal(t, config.DefaultModel, stats.Model)
	assert.Equal(t, "test", stats.ConfigSource)
	assert.NotEmpty(t, stats.DataDir)

	_, err = svc.Store(ctx, transcript, "", nil, true)
	require.NoError(t, err)

	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalChunks)
}
