package vecstore

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/SolaceWell/solace-mvp/engine/domain"
)

// --- mocks ---

type mockPoints struct {
	upsertReq  *pb.UpsertPoints
	upsertResp *pb.PointsOperationResponse
	upsertErr  error
	deleteReq  *pb.DeletePoints
	deleteResp *pb.PointsOperationResponse
	deleteErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
	scrollReq  *pb.ScrollPoints
	scrollResp *pb.ScrollResponse
	scrollErr  error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = in
	return m.upsertResp, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleteReq = in
	return m.deleteResp, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}
func (m *mockPoints) Scroll(_ context.Context, in *pb.ScrollPoints, _ ...grpc.CallOption) (*pb.ScrollResponse, error) {
	m.scrollReq = in
	return m.scrollResp, m.scrollErr
}

type mockCollections struct {
	listResp   *pb.ListCollectionsResponse
	listErr    error
	created    []string
	createResp *pb.CollectionOperationResponse
	createErr  error
	deleteResp *pb.CollectionOperationResponse
	deleteErr  error
	getResp    *pb.GetCollectionInfoResponse
	getErr     error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = append(m.created, in.GetCollectionName())
	return m.createResp, m.createErr
}
func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}
func (m *mockCollections) Get(_ context.Context, _ *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	return m.getResp, m.getErr
}

type mockHealth struct {
	resp *pb.HealthCheckReply
	err  error
}

func (m *mockHealth) HealthCheck(_ context.Context, _ *pb.HealthCheckRequest, _ ...grpc.CallOption) (*pb.HealthCheckReply, error) {
	return m.resp, m.err
}

func testStore(pts *mockPoints, cols *mockCollections, h *mockHealth) *Store {
	if pts == nil {
		pts = &mockPoints{}
	}
	if cols == nil {
		cols = &mockCollections{}
	}
	if h == nil {
		h = &mockHealth{}
	}
	return NewWithClients(pts, cols, h)
}

// --- tests ---

func TestCloseWithoutConn(t *testing.T) {
	s := testStore(nil, nil, nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEnsureCollectionsCreatesMissing(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "problems"}},
		},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	s := testStore(nil, cols, nil)

	err := s.EnsureCollections(context.Background(), 384, "problems", "assessments", "suggestions")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols.created) != 2 {
		t.Fatalf("expected 2 creates, got %v", cols.created)
	}
	if cols.created[0] != "assessments" || cols.created[1] != "suggestions" {
		t.Errorf("wrong collections created: %v", cols.created)
	}
}

func TestEnsureCollectionsIdempotent(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "problems"}, {Name: "assessments"}},
		},
	}
	s := testStore(nil, cols, nil)

	if err := s.EnsureCollections(context.Background(), 384, "problems", "assessments"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols.created) != 0 {
		t.Fatalf("expected no creates, got %v", cols.created)
	}
}

func TestEnsureCollectionsListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc fail")}
	s := testStore(nil, cols, nil)

	err := s.EnsureCollections(context.Background(), 384, "problems")
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, domain.ErrVectorUnavailable) {
		t.Errorf("error should wrap ErrVectorUnavailable: %v", err)
	}
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	pts := &mockPoints{}
	s := testStore(pts, nil, nil)
	if err := s.Upsert(context.Background(), "problems", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.upsertReq != nil {
		t.Fatal("no RPC should be issued for empty batch")
	}
}

func TestUpsertEncodesPayload(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{}}
	s := testStore(pts, nil, nil)

	records := []Record{{
		ID:     "a1111111-1111-1111-1111-111111111111",
		Vector: []float32{1, 0, 0, 0},
		Payload: map[string]any{
			"text":     "trouble sleeping",
			"score":    float32(7.5),
			"step":     3,
			"active":   true,
			"clusters": []string{"sleep", "stress"},
		},
	}}
	if err := s.Upsert(context.Background(), "problems", records); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := pts.upsertReq
	if got.GetCollectionName() != "problems" || len(got.GetPoints()) != 1 {
		t.Fatalf("bad upsert request: %+v", got)
	}
	payload := got.GetPoints()[0].GetPayload()
	if payload["text"].GetStringValue() != "trouble sleeping" {
		t.Error("string payload lost")
	}
	if payload["step"].GetIntegerValue() != 3 {
		t.Error("int payload lost")
	}
	if payload["score"].GetDoubleValue() != 7.5 {
		t.Error("float payload lost")
	}
	if !payload["active"].GetBoolValue() {
		t.Error("bool payload lost")
	}
	list := payload["clusters"].GetListValue().GetValues()
	if len(list) != 2 || list[0].GetStringValue() != "sleep" {
		t.Error("list payload lost")
	}
}

func TestUpsertError(t *testing.T) {
	pts := &mockPoints{upsertErr: errors.New("fail")}
	s := testStore(pts, nil, nil)

	err := s.Upsert(context.Background(), "problems", []Record{{ID: "x", Vector: []float32{1}}})
	if !errors.Is(err, domain.ErrVectorUnavailable) {
		t.Fatalf("expected ErrVectorUnavailable, got %v", err)
	}
}

func TestSearchBuildsRequest(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	s := testStore(pts, nil, nil)

	_, err := s.Search(context.Background(), "assessments", []float32{1, 0}, SearchOpts{
		Limit:          10,
		ScoreThreshold: 0.6,
		Filter:         map[string]string{"sub_category_id": "sc-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := pts.searchReq
	if req.GetCollectionName() != "assessments" {
		t.Errorf("wrong collection: %s", req.GetCollectionName())
	}
	if req.GetLimit() != 10 {
		t.Errorf("wrong limit: %d", req.GetLimit())
	}
	if req.GetScoreThreshold() != 0.6 {
		t.Errorf("wrong threshold: %v", req.GetScoreThreshold())
	}
	must := req.GetFilter().GetMust()
	if len(must) != 1 || must[0].GetField().GetKey() != "sub_category_id" {
		t.Errorf("wrong filter: %v", must)
	}
	if must[0].GetField().GetMatch().GetKeyword() != "sc-1" {
		t.Errorf("wrong filter value")
	}
}

func TestSearchZeroThresholdOmitted(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	s := testStore(pts, nil, nil)

	if _, err := s.Search(context.Background(), "problems", []float32{1}, SearchOpts{Limit: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.searchReq.ScoreThreshold != nil {
		t.Fatal("zero threshold should not be sent")
	}
	if pts.searchReq.GetFilter() != nil {
		t.Fatal("no filter expected")
	}
}

func TestSearchDefaultLimit(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	s := testStore(pts, nil, nil)

	if _, err := s.Search(context.Background(), "problems", []float32{1}, SearchOpts{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.searchReq.GetLimit() != DefaultLimit {
		t.Fatalf("expected default limit, got %d", pts.searchReq.GetLimit())
	}
}

func TestSearchFilterAny(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	s := testStore(pts, nil, nil)

	_, err := s.Search(context.Background(), "suggestions", []float32{1}, SearchOpts{
		FilterAny: map[string][]string{"stage": {"early", "mid"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	must := pts.searchReq.GetFilter().GetMust()
	if len(must) != 1 {
		t.Fatalf("expected 1 condition, got %d", len(must))
	}
	kws := must[0].GetField().GetMatch().GetKeywords().GetStrings()
	if len(kws) != 2 || kws[0] != "early" {
		t.Errorf("wrong keywords: %v", kws)
	}
}

func TestSearchDecodesResults(t *testing.T) {
	pts := &mockPoints{
		searchResp: &pb.SearchResponse{
			Result: []*pb.ScoredPoint{{
				Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}},
				Score: 0.91,
				Payload: map[string]*pb.Value{
					"text":  {Kind: &pb.Value_StringValue{StringValue: "how often do you feel anxious"}},
					"step":  {Kind: &pb.Value_IntegerValue{IntegerValue: 2}},
					"score": {Kind: &pb.Value_DoubleValue{DoubleValue: 0.5}},
					"flag":  {Kind: &pb.Value_BoolValue{BoolValue: true}},
					"clusters": {Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: []*pb.Value{
						{Kind: &pb.Value_StringValue{StringValue: "anxiety"}},
					}}}},
				},
			}},
		},
	}
	s := testStore(pts, nil, nil)

	results, err := s.Search(context.Background(), "assessments", []float32{1}, SearchOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.ID != "p1" || r.Score != 0.91 {
		t.Error("wrong id/score")
	}
	if r.Payload["text"] != "how often do you feel anxious" {
		t.Error("string decode failed")
	}
	if r.Payload["step"] != int64(2) {
		t.Error("int decode failed")
	}
	if r.Payload["score"] != 0.5 {
		t.Error("double decode failed")
	}
	if r.Payload["flag"] != true {
		t.Error("bool decode failed")
	}
	clusters, ok := r.Payload["clusters"].([]string)
	if !ok || len(clusters) != 1 || clusters[0] != "anxiety" {
		t.Errorf("list decode failed: %v", r.Payload["clusters"])
	}
}

func TestSearchEmptyResultsNotError(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	s := testStore(pts, nil, nil)

	results, err := s.Search(context.Background(), "problems", []float32{1}, SearchOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected 0, got %d", len(results))
	}
}

func TestSearchErrorWrapsUnavailable(t *testing.T) {
	pts := &mockPoints{searchErr: errors.New("connection refused")}
	s := testStore(pts, nil, nil)

	_, err := s.Search(context.Background(), "problems", []float32{1}, SearchOpts{})
	if !errors.Is(err, domain.ErrVectorUnavailable) {
		t.Fatalf("expected ErrVectorUnavailable, got %v", err)
	}
}

func TestDeleteByIDs(t *testing.T) {
	pts := &mockPoints{deleteResp: &pb.PointsOperationResponse{}}
	s := testStore(pts, nil, nil)

	if err := s.DeleteByIDs(context.Background(), "problems", []string{"a", "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := pts.deleteReq.GetPoints().GetPoints().GetIds()
	if len(ids) != 2 || ids[0].GetUuid() != "a" {
		t.Errorf("wrong ids: %v", ids)
	}

	// Empty slice is a no-op.
	pts.deleteReq = nil
	if err := s.DeleteByIDs(context.Background(), "problems", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pts.deleteReq != nil {
		t.Fatal("no RPC expected for empty ids")
	}
}

func TestDeleteByField(t *testing.T) {
	pts := &mockPoints{deleteResp: &pb.PointsOperationResponse{}}
	s := testStore(pts, nil, nil)

	if err := s.DeleteByField(context.Background(), "assessments", "batch_id", "b-7"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	filter := pts.deleteReq.GetPoints().GetFilter()
	if filter.GetMust()[0].GetField().GetKey() != "batch_id" {
		t.Error("wrong delete filter")
	}
}

func TestScroll(t *testing.T) {
	pts := &mockPoints{
		scrollResp: &pb.ScrollResponse{
			Result: []*pb.RetrievedPoint{{
				Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p1"}},
				Payload: map[string]*pb.Value{
					"text": {Kind: &pb.Value_StringValue{StringValue: "q"}},
				},
			}},
			NextPageOffset: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: "p2"}},
		},
	}
	s := testStore(pts, nil, nil)

	records, next, err := s.Scroll(context.Background(), "assessments", 100, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].ID != "p1" {
		t.Fatalf("wrong records: %v", records)
	}
	if next.GetUuid() != "p2" {
		t.Error("next offset lost")
	}
	if pts.scrollReq.GetWithVectors().GetEnable() != true {
		t.Error("scroll must request vectors")
	}
}

func TestInfo(t *testing.T) {
	count := uint64(1234)
	cols := &mockCollections{
		getResp: &pb.GetCollectionInfoResponse{
			Result: &pb.CollectionInfo{
				Status:      pb.CollectionStatus_Green,
				PointsCount: &count,
			},
		},
	}
	s := testStore(nil, cols, nil)

	info, err := s.Info(context.Background(), "problems")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Points != 1234 || info.Name != "problems" {
		t.Errorf("wrong info: %+v", info)
	}
	if info.Status != "Green" {
		t.Errorf("wrong status: %s", info.Status)
	}
}

func TestHealthCheckReportsIdentity(t *testing.T) {
	h := &mockHealth{resp: &pb.HealthCheckReply{Title: "qdrant", Version: "1.12.0"}}
	s := testStore(nil, nil, h)

	got, err := s.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != "qdrant" || got.Version != "1.12.0" {
		t.Errorf("wrong health: %+v", got)
	}
}

func TestHealthCheckError(t *testing.T) {
	h := &mockHealth{err: errors.New("down")}
	s := testStore(nil, nil, h)

	_, err := s.HealthCheck(context.Background())
	if !errors.Is(err, domain.ErrVectorUnavailable) {
		t.Fatalf("expected ErrVectorUnavailable, got %v", err)
	}
}

func TestDropCollection(t *testing.T) {
	cols := &mockCollections{deleteResp: &pb.CollectionOperationResponse{Result: true}}
	s := testStore(nil, cols, nil)
	if err := s.DropCollection(context.Background(), "problems"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cols.deleteErr = errors.New("fail")
	if err := s.DropCollection(context.Background(), "problems"); err == nil {
		t.Fatal("expected error")
	}
}

func TestFieldMatchConditions(t *testing.T) {
	cond := fieldMatch("domain", "anxiety")
	if cond.GetField().GetKey() != "domain" || cond.GetField().GetMatch().GetKeyword() != "anxiety" {
		t.Error("fieldMatch built wrong condition")
	}

	any := fieldMatchAny("stage", []string{"early", "late"})
	if len(any.GetField().GetMatch().GetKeywords().GetStrings()) != 2 {
		t.Error("fieldMatchAny built wrong condition")
	}
}
