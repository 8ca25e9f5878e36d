package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
	"github.com/VisionVault/visionvault-mvp/pkg/fn"
	"github.com/VisionVault/visionvault-mvp/pkg/resilience"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// payload keys stored alongside each point.
const (
	keyVideoID    = "video_id"
	keyChunkIndex = "chunk_index"
	keyStart      = "start"
	keyEnd        = "end"
	keyTranscript = "transcript"
	keyCaption    = "caption"
	keyThumbnail  = "thumbnail_file"
)

// pointsAPI is the slice of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// collectionsAPI is the slice of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantStore is the remote backend. All network calls go through a
// bounded retry with exponential backoff and a circuit breaker; when the
// budget is exhausted the error unwraps to domain.ErrBackendUnavailable.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	modelID     string
	dim         int
	retry       fn.RetryOpts
	breaker     *resilience.Breaker
}

// QdrantConfig holds connection parameters for the remote backend.
type QdrantConfig struct {
	Addr           string // gRPC address, e.g. localhost:6334
	APIKey         string // optional, sent as api-key metadata
	CollectionBase string // namespace prefix, e.g. visionvault_chunks
}

// NewQdrant connects to Qdrant and binds the store to the collection
// derived from (modelID, dim).
func NewQdrant(cfg QdrantConfig, modelID string, dim int) (*QdrantStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("vectorstore: qdrant address is required")
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: dial qdrant %s: %w", cfg.Addr, err)
	}
	s := newQdrantWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), cfg.CollectionBase, modelID, dim)
	s.conn = conn
	return s, nil
}

// newQdrantWithClients wires a store over explicit clients, for tests.
func newQdrantWithClients(points pointsAPI, collections collectionsAPI, base, modelID string, dim int) *QdrantStore {
	return &QdrantStore{
		points:      points,
		collections: collections,
		collection:  CollectionName(base, modelID, dim),
		modelID:     modelID,
		dim:         dim,
		retry:       fn.DefaultRetry,
		breaker:     resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// Close closes the underlying gRPC connection.
func (s *QdrantStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Collection returns the bound collection name.
func (s *QdrantStore) Collection() string { return s.collection }

// EnsureCollection creates the bound collection if it doesn't exist.
// A dimension change derives a different name, so an existing collection
// is never written with mismatched vectors.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vectorstore: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vectorstore: create collection %s: %w", s.collection, err)
	}

	// Payload index on video_id speeds up the per-video filter.
	fieldType := pb.FieldType_FieldTypeKeyword
	if _, err := s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      keyVideoID,
		FieldType:      &fieldType,
	}); err != nil {
		return fmt.Errorf("vectorstore: index %s.%s: %w", s.collection, keyVideoID, err)
	}
	return nil
}

// Upsert stores chunk embeddings as points with deterministic ids.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []domain.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	if err := checkDims(chunks, s.dim); err != nil {
		return nil, fmt.Errorf("vectorstore: upsert: %w", err)
	}

	ids := make([]string, len(chunks))
	points := make([]*pb.PointStruct, len(chunks))
	for i, c := range chunks {
		ids[i] = PointID(c.VideoID, c.Index)
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: ids[i]}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: c.Embedding}},
			},
			Payload: map[string]*pb.Value{
				keyVideoID:    {Kind: &pb.Value_StringValue{StringValue: c.VideoID}},
				keyChunkIndex: {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.Index)}},
				keyStart:      {Kind: &pb.Value_DoubleValue{DoubleValue: c.Start}},
				keyEnd:        {Kind: &pb.Value_DoubleValue{DoubleValue: c.End}},
				keyTranscript: {Kind: &pb.Value_StringValue{StringValue: c.Transcript}},
				keyCaption:    {Kind: &pb.Value_StringValue{StringValue: c.Caption}},
				keyThumbnail:  {Kind: &pb.Value_StringValue{StringValue: c.ThumbnailFile}},
			},
		}
	}

	wait := true
	err := s.call(ctx, func(ctx context.Context) error {
		_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: s.collection,
			Wait:           &wait,
			Points:         points,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: upsert %d points: %w", len(points), unavailable(err))
	}
	return ids, nil
}

// Search performs k-NN similarity search scoped to one video.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int, videoID string) ([]domain.Candidate, error) {
	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Filter: &pb.Filter{
			Must: []*pb.Condition{fieldMatch(keyVideoID, videoID)},
		},
	}

	var resp *pb.SearchResponse
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = s.points.Search(ctx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", unavailable(err))
	}

	out := make([]domain.Candidate, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		out[i] = candidateFromPoint(r)
	}
	return out, nil
}

// Health checks reachability with a fast collection listing.
func (s *QdrantStore) Health(ctx context.Context) (Status, error) {
	st := Status{Backend: "qdrant", Collection: s.collection, ModelID: s.modelID, Dimension: s.dim}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := s.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		st.Detail = err.Error()
		return st, fmt.Errorf("vectorstore: health: %w", unavailable(err))
	}
	st.OK = true
	return st, nil
}

// call runs op through the circuit breaker inside the retry loop. An open
// breaker still counts against the attempt budget, so callers fail fast
// once the backend has been down for a while.
func (s *QdrantStore) call(ctx context.Context, op func(context.Context) error) error {
	return fn.RetryErr(ctx, s.retry, func(ctx context.Context) error {
		return s.breaker.Call(ctx, op)
	})
}

func unavailable(err error) error {
	return errors.Join(domain.ErrBackendUnavailable, err)
}

func candidateFromPoint(r *pb.ScoredPoint) domain.Candidate {
	p := r.GetPayload()
	c := domain.Candidate{Score: float64(r.GetScore())}
	c.VideoID = p[keyVideoID].GetStringValue()
	c.Index = int(p[keyChunkIndex].GetIntegerValue())
	c.Start = p[keyStart].GetDoubleValue()
	c.End = p[keyEnd].GetDoubleValue()
	c.Transcript = p[keyTranscript].GetStringValue()
	c.Caption = p[keyCaption].GetStringValue()
	c.ThumbnailFile = p[keyThumbnail].GetStringValue()
	return c
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
