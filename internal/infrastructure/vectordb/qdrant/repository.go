// Package qdrant provides a VectorIndex implementation using Qdrant.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ersonp/storyforge/internal/domain/entities"
	"github.com/ersonp/storyforge/internal/domain/errs"
	"github.com/ersonp/storyforge/internal/infrastructure/config"
)

// ServiceName tags errors raised by this adapter.
const ServiceName = "qdrant"

// Payload keys and kinds. Nodes and entities share one collection and are
// told apart by the kind payload.
const (
	payloadKind     = "kind"
	payloadStoryID  = "story_id"
	payloadNodeType = "node_type"
	payloadName     = "name"

	kindNode   = "node"
	kindEntity = "entity"
)

// requestTimeout bounds every RPC that arrives without its own deadline.
const requestTimeout = 10 * time.Second

// Repository implements ports.VectorIndex and ports.CollectionManager using Qdrant.
type Repository struct {
	client     pb.CollectionsClient
	points     pb.PointsClient
	collection string
	conn       *grpc.ClientConn
}

// NewRepository creates a new Qdrant repository.
func NewRepository(cfg config.QdrantConfig) (*Repository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	return &Repository{
		client:     pb.NewCollectionsClient(conn),
		points:     pb.NewPointsClient(conn),
		collection: cfg.Collection,
		conn:       conn,
	}, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Close closes the gRPC connection.
func (r *Repository) Close() error {
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// EnsureCollection creates the collection and its payload indexes if they don't exist.
func (r *Repository) EnsureCollection(ctx context.Context, vectorSize uint64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.client.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collection,
	})
	if err == nil {
		return nil
	}

	_, err = r.client.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return classify(fmt.Errorf("creating collection: %w", err))
	}

	for _, key := range []string{payloadKind, payloadStoryID, payloadNodeType} {
		_, err := r.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: r.collection,
			FieldName:      key,
			FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return classify(fmt.Errorf("creating %s index: %w", key, err))
		}
	}

	return nil
}

// DeleteCollection removes the collection and all its points.
func (r *Repository) DeleteCollection(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.client.Delete(ctx, &pb.DeleteCollection{
		CollectionName: r.collection,
	})
	if err != nil {
		return classify(fmt.Errorf("deleting collection: %w", err))
	}
	return nil
}

// IndexNode stores or replaces a scene's embedding.
func (r *Repository) IndexNode(ctx context.Context, node entities.Node) error {
	if len(node.Embedding) == 0 {
		return nil
	}
	return r.upsert(ctx, node.ID, node.Embedding, map[string]*pb.Value{
		payloadKind:     stringValue(kindNode),
		payloadStoryID:  stringValue(node.StoryID),
		payloadNodeType: stringValue(string(node.NodeType)),
	})
}

// IndexEntity stores or replaces an entity's embedding.
func (r *Repository) IndexEntity(ctx context.Context, entity entities.Entity) error {
	if len(entity.Embedding) == 0 {
		return nil
	}
	return r.upsert(ctx, entity.ID, entity.Embedding, map[string]*pb.Value{
		payloadKind:    stringValue(kindEntity),
		payloadStoryID: stringValue(entity.StoryID),
		payloadName:    stringValue(entity.Name),
	})
}

func (r *Repository) upsert(ctx context.Context, id string, vector []float32, payload map[string]*pb.Value) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	point := &pb.PointStruct{
		Id: pointID(id),
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{
				Vector: &pb.Vector{
					Data: vector,
				},
			},
		},
		Payload: payload,
	}

	_, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Wait:           pb.PtrOf(true),
		Points:         []*pb.PointStruct{point},
	})
	if err != nil {
		return classify(fmt.Errorf("upserting point: %w", err))
	}
	return nil
}

// SearchNodes returns the closest non-root scenes of a story, skipping exclude.
func (r *Repository) SearchNodes(ctx context.Context, storyID string, embedding []float32, exclude []string, limit int) ([]string, error) {
	return r.search(ctx, nodeFilter(storyID, exclude), embedding, limit)
}

// SearchEntities returns the closest World Bible entities of a story.
func (r *Repository) SearchEntities(ctx context.Context, storyID string, embedding []float32, limit int) ([]string, error) {
	return r.search(ctx, entityFilter(storyID), embedding, limit)
}

func (r *Repository) search(ctx context.Context, filter *pb.Filter, embedding []float32, limit int) ([]string, error) {
	if limit <= 0 || len(embedding) == 0 {
		return []string{}, nil
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         embedding,
		Limit:          uint64(limit),
		Filter:         filter,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: false},
		},
	})
	if err != nil {
		return nil, classify(fmt.Errorf("searching points: %w", err))
	}

	ids := make([]string, 0, len(resp.Result))
	for _, p := range resp.Result {
		if id := p.GetId().GetUuid(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Delete removes a point by its ID.
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: r.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{pointID(id)},
				},
			},
		},
	})
	if err != nil {
		return classify(fmt.Errorf("deleting point: %w", err))
	}
	return nil
}

// nodeFilter matches the story's scenes, never the root, minus exclude.
func nodeFilter(storyID string, exclude []string) *pb.Filter {
	filter := &pb.Filter{
		Must: []*pb.Condition{
			keywordCondition(payloadKind, kindNode),
			keywordCondition(payloadStoryID, storyID),
		},
		MustNot: []*pb.Condition{
			keywordCondition(payloadNodeType, string(entities.NodeTypeRoot)),
		},
	}
	if len(exclude) > 0 {
		ids := make([]*pb.PointId, 0, len(exclude))
		for _, id := range exclude {
			ids = append(ids, pointID(id))
		}
		filter.MustNot = append(filter.MustNot, &pb.Condition{
			ConditionOneOf: &pb.Condition_HasId{
				HasId: &pb.HasIdCondition{HasId: ids},
			},
		})
	}
	return filter
}

func entityFilter(storyID string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{
			keywordCondition(payloadKind, kindEntity),
			keywordCondition(payloadStoryID, storyID),
		},
	}
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{
						Keyword: value,
					},
				},
			},
		},
	}
}

func pointID(id string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, requestTimeout)
}

// classify maps gRPC transport failures onto the domain error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Timeout(ServiceName, requestTimeout, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable:
		return errs.Unavailable(ServiceName, err)
	case codes.DeadlineExceeded:
		return errs.Timeout(ServiceName, requestTimeout, err)
	default:
		return err
	}
}
