package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/twinrag/internal/failure"
	"github.com/scrypster/twinrag/internal/graph"
	"github.com/scrypster/twinrag/internal/memory"
	"github.com/scrypster/twinrag/internal/retrieval"
	"github.com/scrypster/twinrag/pkg/types"
)

type mockReindexer struct{ mock.Mock }

func (m *mockReindexer) Reindex(ctx context.Context, sourceID string) (int, error) {
	args := m.Called(ctx, sourceID)
	return args.Int(0), args.Error(1)
}

type mockGraphExtractor struct{ mock.Mock }

func (m *mockGraphExtractor) ExtractSource(ctx context.Context, twinID, sourceID string) (*graph.Result, error) {
	args := m.Called(ctx, twinID, sourceID)
	res, _ := args.Get(0).(*graph.Result)
	return res, args.Error(1)
}

type mockLearner struct{ mock.Mock }

func (m *mockLearner) LearnFromTranscript(ctx context.Context, twinID, sessionID string, turns []types.Turn) (*memory.FinalizeReport, error) {
	args := m.Called(ctx, twinID, sessionID, turns)
	rep, _ := args.Get(0).(*memory.FinalizeReport)
	return rep, args.Error(1)
}

type mockChecker struct{ mock.Mock }

func (m *mockChecker) Check(ctx context.Context, twinID string) (*retrieval.Verdict, error) {
	args := m.Called(ctx, twinID)
	v, _ := args.Get(0).(*retrieval.Verdict)
	return v, args.Error(1)
}

func (m *mockChecker) RunVerification(ctx context.Context, twinID string, queries []string) (*types.VerificationRun, error) {
	args := m.Called(ctx, twinID, queries)
	run, _ := args.Get(0).(*types.VerificationRun)
	return run, args.Error(1)
}

func TestIndexingHandler(t *testing.T) {
	ctx := context.Background()
	ix := &mockReindexer{}
	ix.On("Reindex", mock.Anything, "src-1").Return(3, nil).Once()
	ix.On("Reindex", mock.Anything, "src-2").Return(0, errors.New("embedding provider status 503")).Once()
	h := IndexingHandler(ix)

	require.NoError(t, h(ctx, &types.TrainingJob{ID: "j1", SourceID: "src-1"}))

	err := h(ctx, &types.TrainingJob{ID: "j2", SourceID: "src-2"})
	assert.Equal(t, failure.Transient, failure.ClassOf(err))

	err = h(ctx, &types.TrainingJob{ID: "j3"})
	assert.Equal(t, failure.Terminal, failure.ClassOf(err))
	ix.AssertExpectations(t)
}

func TestGraphExtractionHandler(t *testing.T) {
	ctx := context.Background()
	ex := &mockGraphExtractor{}
	ex.On("ExtractSource", mock.Anything, "twin-1", "src-1").
		Return(&graph.Result{SourceID: "src-1", Nodes: 4, Edges: 2}, nil).Once()
	ex.On("ExtractSource", mock.Anything, "twin-1", "src-2").
		Return(nil, failure.Terminalf("graph", "response violates schema")).Once()
	h := GraphExtractionHandler(ex)

	require.NoError(t, h(ctx, &types.TrainingJob{TwinID: "twin-1", SourceID: "src-1"}))
	err := h(ctx, &types.TrainingJob{TwinID: "twin-1", SourceID: "src-2"})
	assert.True(t, failure.Is(err, failure.Terminal))
	ex.AssertExpectations(t)
}

func TestFeedbackLearningHandler(t *testing.T) {
	ctx := context.Background()
	turns := []types.Turn{{Role: "user", Text: "I never work on Sundays."}}
	learner := &mockLearner{}
	learner.On("LearnFromTranscript", mock.Anything, "twin-1", "sess-9", turns).
		Return(&memory.FinalizeReport{ProposedCount: 1}, nil).Once()
	h := FeedbackLearningHandler(learner)

	payload := `{"session_id":"sess-9","turns":[{"role":"user","text":"I never work on Sundays."}]}`
	require.NoError(t, h(ctx, &types.TrainingJob{TwinID: "twin-1", Payload: payload}))

	err := h(ctx, &types.TrainingJob{TwinID: "twin-1", Payload: "{not json"})
	assert.True(t, failure.Is(err, failure.Terminal))
	learner.AssertExpectations(t)
}

func TestHealthCheckHandler(t *testing.T) {
	ctx := context.Background()
	checker := &mockChecker{}
	checker.On("RunVerification", mock.Anything, "twin-1", []string{"what do you bake?"}).
		Return(&types.VerificationRun{Passed: true}, nil).Once()
	checker.On("Check", mock.Anything, "twin-1").
		Return(&retrieval.Verdict{TwinID: "twin-1", Ready: false, Reasons: []string{"no indexed chunks"}}, nil).Twice()
	h := HealthCheckHandler(checker)

	require.NoError(t, h(ctx, &types.TrainingJob{TwinID: "twin-1"}))
	require.NoError(t, h(ctx, &types.TrainingJob{TwinID: "twin-1", Payload: `{"queries":["what do you bake?"]}`}))
	checker.AssertExpectations(t)

	err := h(ctx, &types.TrainingJob{TwinID: "twin-1", Payload: "[1,"})
	assert.True(t, failure.Is(err, failure.Terminal))
}
