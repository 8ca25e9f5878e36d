package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
	"github.com/VisionVault/visionvault-mvp/pkg/fn"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// --- Mocks ---

type mockPoints struct {
	upsertCalls int
	upsertErr   error
	lastUpsert  *pb.UpsertPoints

	searchCalls int
	searchResp  *pb.SearchResponse
	searchErr   error
	lastSearch  *pb.SearchPoints

	indexErr error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertCalls++
	m.lastUpsert = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchCalls++
	m.lastSearch = in
	return m.searchResp, m.searchErr
}

func (m *mockPoints) CreateFieldIndex(_ context.Context, _ *pb.CreateFieldIndexCollection, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	return &pb.PointsOperationResponse{}, m.indexErr
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	createErr error
	created   []string
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = append(m.created, in.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}

func newTestStore(points *mockPoints, cols *mockCollections) *QdrantStore {
	s := newQdrantWithClients(points, cols, "vv", "test-model", 3)
	s.retry = fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}
	return s
}

// --- Tests ---

func TestQdrant_EnsureCollection_Creates(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{}}
	s := newTestStore(&mockPoints{}, cols)

	if err := s.EnsureCollection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(cols.created) != 1 || cols.created[0] != s.Collection() {
		t.Fatalf("created = %v, want [%s]", cols.created, s.Collection())
	}
}

func TestQdrant_EnsureCollection_AlreadyExists(t *testing.T) {
	name := CollectionName("vv", "test-model", 3)
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: name}},
		},
	}
	s := newTestStore(&mockPoints{}, cols)

	if err := s.EnsureCollection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(cols.created) != 0 {
		t.Fatalf("recreated existing collection: %v", cols.created)
	}
}

func TestQdrant_Upsert_DimensionMismatchRejectedBeforeNetwork(t *testing.T) {
	points := &mockPoints{}
	s := newTestStore(points, &mockCollections{})

	bad := []domain.Chunk{{VideoID: "vid1", Index: 0, Start: 0, End: 1, Transcript: "x", Embedding: []float32{1, 2}}}
	_, err := s.Upsert(context.Background(), bad)
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}
	if points.upsertCalls != 0 {
		t.Fatal("rejected upsert still reached the backend")
	}
}

func TestQdrant_Upsert_DeterministicIDs(t *testing.T) {
	points := &mockPoints{}
	s := newTestStore(points, &mockCollections{})

	chunks := testChunks("vid1")
	ids, err := s.Upsert(context.Background(), chunks)
	if err != nil {
		t.Fatal(err)
	}
	ids2, err := s.Upsert(context.Background(), chunks)
	if err != nil {
		t.Fatal(err)
	}
	for i := range ids {
		if ids[i] != ids2[i] {
			t.Fatalf("id %d changed across ingests: %s vs %s", i, ids[i], ids2[i])
		}
	}
	if got := points.lastUpsert.GetPoints()[0].GetId().GetUuid(); got != ids[0] {
		t.Fatalf("point id = %s, want %s", got, ids[0])
	}
}

func TestQdrant_Upsert_UnavailableAfterRetries(t *testing.T) {
	points := &mockPoints{upsertErr: errors.New("connection refused")}
	s := newTestStore(points, &mockCollections{})

	_, err := s.Upsert(context.Background(), testChunks("vid1"))
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("want ErrBackendUnavailable, got %v", err)
	}
	if points.upsertCalls != 3 {
		t.Fatalf("upsert attempts = %d, want 3", points.upsertCalls)
	}
}

func TestQdrant_Search_FiltersAndMapsPayload(t *testing.T) {
	points := &mockPoints{
		searchResp: &pb.SearchResponse{
			Result: []*pb.ScoredPoint{
				{
					Score: 0.92,
					Payload: map[string]*pb.Value{
						"video_id":       {Kind: &pb.Value_StringValue{StringValue: "vid1"}},
						"chunk_index":    {Kind: &pb.Value_IntegerValue{IntegerValue: 4}},
						"start":          {Kind: &pb.Value_DoubleValue{DoubleValue: 33.5}},
						"end":            {Kind: &pb.Value_DoubleValue{DoubleValue: 41.0}},
						"transcript":     {Kind: &pb.Value_StringValue{StringValue: "tighten the bolts"}},
						"caption":        {Kind: &pb.Value_StringValue{StringValue: "a wrench on a bolt"}},
						"thumbnail_file": {Kind: &pb.Value_StringValue{StringValue: "frame_000033.jpg"}},
					},
				},
			},
		},
	}
	s := newTestStore(points, &mockCollections{})

	got, err := s.Search(context.Background(), []float32{1, 0, 0}, 80, "vid1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candidates", len(got))
	}
	c := got[0]
	if c.VideoID != "vid1" || c.Index != 4 || c.Start != 33.5 || c.End != 41.0 ||
		c.Transcript != "tighten the bolts" || c.Caption != "a wrench on a bolt" ||
		c.ThumbnailFile != "frame_000033.jpg" || c.Score != float64(float32(0.92)) {
		t.Fatalf("candidate = %+v", c)
	}

	// The request must carry the video filter and the over-fetch limit.
	if points.lastSearch.GetLimit() != 80 {
		t.Fatalf("limit = %d", points.lastSearch.GetLimit())
	}
	cond := points.lastSearch.GetFilter().GetMust()[0].GetField()
	if cond.GetKey() != "video_id" || cond.GetMatch().GetKeyword() != "vid1" {
		t.Fatalf("filter = %+v", cond)
	}
}

func TestQdrant_Search_UnavailableAfterRetries(t *testing.T) {
	points := &mockPoints{searchErr: errors.New("deadline exceeded")}
	s := newTestStore(points, &mockCollections{})

	_, err := s.Search(context.Background(), []float32{1, 0, 0}, 10, "vid1")
	if !errors.Is(err, domain.ErrBackendUnavailable) {
		t.Fatalf("want ErrBackendUnavailable, got %v", err)
	}
}

func TestQdrant_Health(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{}}
	s := newTestStore(&mockPoints{}, cols)

	st, err := s.Health(context.Background())
	if err != nil || !st.OK {
		t.Fatalf("health = %+v, %v", st, err)
	}
	if st.Backend != "qdrant" || st.ModelID != "test-model" || st.Dimension != 3 {
		t.Fatalf("status = %+v", st)
	}

	cols.listErr = errors.New("unreachable")
	st, err = s.Health(context.Background())
	if !errors.Is(err, domain.ErrBackendUnavailable) || st.OK {
		t.Fatalf("unhealthy = %+v, %v", st, err)
	}
}
