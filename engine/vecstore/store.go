// Package vecstore is the sole owner of all Qdrant operations. Every
// collection the engine reads or writes goes through a Store.
package vecstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/SolaceWell/solace-mvp/engine/domain"
)

// PointsAPI is the subset of the Qdrant points service the Store uses.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
}

// CollectionsAPI is the subset of the Qdrant collections service the Store uses.
type CollectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
}

// HealthAPI is the Qdrant root service health probe.
type HealthAPI interface {
	HealthCheck(ctx context.Context, in *pb.HealthCheckRequest, opts ...grpc.CallOption) (*pb.HealthCheckReply, error)
}

// Store talks to one Qdrant instance holding the engine's collections.
type Store struct {
	conn        *grpc.ClientConn
	points      PointsAPI
	collections CollectionsAPI
	health      HealthAPI
}

// New dials Qdrant at the given gRPC address.
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vecstore: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		health:      pb.NewQdrantClient(conn),
	}, nil
}

// NewWithClients builds a Store over injected service clients. Used in tests.
func NewWithClients(points PointsAPI, collections CollectionsAPI, health HealthAPI) *Store {
	return &Store{points: points, collections: collections, health: health}
}

// Close closes the underlying gRPC connection, if the Store owns one.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// unavailable tags err as a vector backend failure so callers can map it
// with errors.Is(err, domain.ErrVectorUnavailable).
func unavailable(op string, err error) error {
	return fmt.Errorf("vecstore: %s: %w: %w", op, domain.ErrVectorUnavailable, err)
}

// EnsureCollections creates any of the named collections that do not exist
// yet, sized for cosine similarity over dim-dimensional vectors. Existing
// collections are left untouched, so the call is safe to repeat on startup.
func (s *Store) EnsureCollections(ctx context.Context, dim int, names ...string) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return unavailable("list collections", err)
	}
	existing := make(map[string]bool, len(list.GetCollections()))
	for _, c := range list.GetCollections() {
		existing[c.GetName()] = true
	}

	for _, name := range names {
		if existing[name] {
			continue
		}
		_, err := s.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: name,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(dim),
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			return unavailable(fmt.Sprintf("create collection %s", name), err)
		}
	}
	return nil
}

// DropCollection deletes a collection and all its points.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil {
		return unavailable(fmt.Sprintf("drop collection %s", name), err)
	}
	return nil
}

// Info returns point count and status for a collection.
func (s *Store) Info(ctx context.Context, name string) (CollectionInfo, error) {
	resp, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		return CollectionInfo{}, unavailable(fmt.Sprintf("collection info %s", name), err)
	}
	return CollectionInfo{
		Name:   name,
		Points: resp.GetResult().GetPointsCount(),
		Status: resp.GetResult().GetStatus().String(),
	}, nil
}

// HealthCheck probes the Qdrant root service.
func (s *Store) HealthCheck(ctx context.Context) (Health, error) {
	resp, err := s.health.HealthCheck(ctx, &pb.HealthCheckRequest{})
	if err != nil {
		return Health{}, unavailable("health check", err)
	}
	return Health{Title: resp.GetTitle(), Version: resp.GetVersion()}, nil
}

// Upsert stores records into a collection, waiting for the write to land.
func (s *Store) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Vector},
				},
			},
			Payload: encodePayload(r.Payload),
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return unavailable(fmt.Sprintf("upsert %d points into %s", len(records), collection), err)
	}
	return nil
}

// DeleteByIDs removes specific points from a collection.
func (s *Store) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
	}

	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return unavailable(fmt.Sprintf("delete %d points from %s", len(ids), collection), err)
	}
	return nil
}

// DeleteByField removes all points whose field equals value. Used when a
// seed source is re-imported.
func (s *Store) DeleteByField(ctx context.Context, collection, field, value string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{fieldMatch(field, value)},
				},
			},
		},
	})
	if err != nil {
		return unavailable(fmt.Sprintf("delete by %s from %s", field, collection), err)
	}
	return nil
}

// Search performs k-NN similarity search over a collection. An empty result
// set is not an error.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, opts SearchOpts) ([]Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Filter:         buildFilter(opts),
	}
	if opts.ScoreThreshold > 0 {
		threshold := opts.ScoreThreshold
		req.ScoreThreshold = &threshold
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, unavailable(fmt.Sprintf("search %s", collection), err)
	}

	results := make([]Result, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		results[i] = Result{
			ID:      r.GetId().GetUuid(),
			Score:   r.GetScore(),
			Payload: decodePayload(r.GetPayload()),
		}
	}
	return results, nil
}

// Scroll pages through a collection returning records with their vectors.
// Pass the returned offset to continue; a nil offset means the end.
func (s *Store) Scroll(ctx context.Context, collection string, limit int, offset *pb.PointId) ([]Record, *pb.PointId, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	lim := uint32(limit)

	resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: collection,
		Limit:          &lim,
		Offset:         offset,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, nil, unavailable(fmt.Sprintf("scroll %s", collection), err)
	}

	records := make([]Record, len(resp.GetResult()))
	for i, p := range resp.GetResult() {
		records[i] = Record{
			ID:      p.GetId().GetUuid(),
			Vector:  p.GetVectors().GetVector().GetData(),
			Payload: decodePayload(p.GetPayload()),
		}
	}
	return records, resp.GetNextPageOffset(), nil
}
