package qdrant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/infrastructure/config"
)

func TestNodeFilter(t *testing.T) {
	tests := []struct {
		name        string
		exclude     []string
		wantMustNot int
	}{
		{name: "no exclusions", exclude: nil, wantMustNot: 1},
		{name: "with exclusions", exclude: []string{"a", "b"}, wantMustNot: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := nodeFilter("story-1", tt.exclude)

			require.Len(t, f.Must, 2)
			assert.Equal(t, payloadKind, f.Must[0].GetField().GetKey())
			assert.Equal(t, kindNode, f.Must[0].GetField().GetMatch().GetKeyword())
			assert.Equal(t, "story-1", f.Must[1].GetField().GetMatch().GetKeyword())

			require.Len(t, f.MustNot, tt.wantMustNot)
			assert.Equal(t, string(entities.NodeTypeRoot), f.MustNot[0].GetField().GetMatch().GetKeyword())
			if len(tt.exclude) > 0 {
				ids := f.MustNot[1].GetHasId().GetHasId()
				require.Len(t, ids, len(tt.exclude))
				assert.Equal(t, "a", ids[0].GetUuid())
			}
		})
	}
}

func TestEntityFilter(t *testing.T) {
	f := entityFilter("story-1")

	require.Len(t, f.Must, 2)
	assert.Equal(t, kindEntity, f.Must[0].GetField().GetMatch().GetKeyword())
	assert.Equal(t, payloadStoryID, f.Must[1].GetField().GetKey())
	assert.Empty(t, f.MustNot)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "unavailable",
			err:  fmt.Errorf("searching points: %w", status.Error(codes.Unavailable, "connection refused")),
			want: errs.ErrServiceUnavailable,
		},
		{
			name: "deadline status",
			err:  fmt.Errorf("searching points: %w", status.Error(codes.DeadlineExceeded, "slow")),
			want: errs.ErrServiceTimeout,
		},
		{
			name: "context deadline",
			err:  fmt.Errorf("searching points: %w", context.DeadlineExceeded),
			want: errs.ErrServiceTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.Equal(t, ServiceName, errs.ServiceOf(got))
		})
	}

	t.Run("other errors pass through", func(t *testing.T) {
		in := fmt.Errorf("searching points: %w", status.Error(codes.InvalidArgument, "bad vector"))
		got := classify(in)
		assert.Same(t, in, got)

		plain := errors.New("boom")
		assert.Same(t, plain, classify(plain))
	})
}

// TestRepository_Integration runs against a live Qdrant when INTEGRATION_TEST=1.
func TestRepository_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "1" {
		t.Skip("set INTEGRATION_TEST=1 to run against a live Qdrant")
	}

	cfg := config.Default().Qdrant
	cfg.Collection = "storyforge_test"
	repo, err := NewRepository(cfg)
	require.NoError(t, err)
	defer repo.Close()

	ctx := context.Background()
	_ = repo.DeleteCollection(ctx)
	require.NoError(t, repo.EnsureCollection(ctx, 3))
	defer repo.DeleteCollection(ctx) //nolint:errcheck

	parent := "00000000-0000-0000-0000-000000000001"
	nodes := []entities.Node{
		{ID: parent, StoryID: "s1", NodeType: entities.NodeTypeRoot, Embedding: []float32{1, 0, 0}},
		{ID: "00000000-0000-0000-0000-000000000002", StoryID: "s1", ParentID: &parent, NodeType: entities.NodeTypeScene, Embedding: []float32{1, 0, 0}},
		{ID: "00000000-0000-0000-0000-000000000003", StoryID: "s1", ParentID: &parent, NodeType: entities.NodeTypeScene, Embedding: []float32{0, 1, 0}},
		{ID: "00000000-0000-0000-0000-000000000004", StoryID: "s2", ParentID: &parent, NodeType: entities.NodeTypeScene, Embedding: []float32{1, 0, 0}},
	}
	for _, n := range nodes {
		require.NoError(t, repo.IndexNode(ctx, n))
	}

	ids, err := repo.SearchNodes(ctx, "s1", []float32{1, 0, 0}, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{nodes[1].ID, nodes[2].ID}, ids)

	ids, err = repo.SearchNodes(ctx, "s1", []float32{1, 0, 0}, []string{nodes[1].ID}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{nodes[2].ID}, ids)

	require.NoError(t, repo.Delete(ctx, nodes[2].ID))
	ids, err = repo.SearchNodes(ctx, "s1", []float32{0, 1, 0}, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{nodes[1].ID}, ids)

}
