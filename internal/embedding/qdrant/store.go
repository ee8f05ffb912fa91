// Package qdrant serves precomputed vectors from a Qdrant collection.
//
// Points are addressed by a name-based UUID derived from the entity kind and
// record id, so the same record always maps to the same point.
package qdrant

import (
	"context"
	"errors"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/rotisserie/eris"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/spigell/allocator/internal/embedding"
)

const (
	payloadEntity = "entity"
	payloadID     = "record_id"
)

// Config selects the Qdrant collection to read from.
type Config struct {
	Addr       string `mapstructure:"addr"`
	Collection string `mapstructure:"collection"`
	WriteBack  bool   `mapstructure:"write-back"`
}

type pointsClient interface {
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// Store is an embedding.Lookup backed by Qdrant points.
type Store struct {
	conn       *grpc.ClientConn
	points     pointsClient
	collection string
}

// New dials Qdrant at the given gRPC address.
func New(addr, collection string) (*Store, error) {
	if addr == "" || collection == "" {
		return nil, eris.New("qdrant address and collection are required")
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, eris.Wrapf(err, "dial qdrant %s", addr)
	}
	return &Store{conn: conn, points: pb.NewPointsClient(conn), collection: collection}, nil
}

// NewWithClient wraps an existing points client.
func NewWithClient(points pointsClient, collection string) *Store {
	return &Store{points: points, collection: collection}
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Store) Name() string { return "qdrant" }

// PointID returns the point id under which the record's vector is stored.
func PointID(entity, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(entity+"/"+id)).String()
}

func (s *Store) Vector(ctx context.Context, entity, id, _ string) ([]float64, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(entity, id)}}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "qdrant get %s %s", entity, id)
	}

	for _, p := range resp.GetResult() {
		data := p.GetVectors().GetVector().GetData()
		if len(data) == 0 {
			continue
		}
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	}
	return nil, embedding.ErrNotFound
}

// Put stores a vector for the record.
func (s *Store) Put(ctx context.Context, entity, id string, vector []float64) error {
	data := make([]float32, len(vector))
	for i, v := range vector {
		data[i] = float32(v)
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(entity, id)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: data}},
			},
			Payload: map[string]*pb.Value{
				payloadEntity: {Kind: &pb.Value_StringValue{StringValue: entity}},
				payloadID:     {Kind: &pb.Value_StringValue{StringValue: id}},
			},
		}},
	})
	if err != nil {
		return eris.Wrapf(err, "qdrant upsert %s %s", entity, id)
	}
	return nil
}

// Cache reads from the store first and writes vectors computed by Source
// back to it.
type Cache struct {
	Store  *Store
	Source embedding.Lookup
}

func (c Cache) Name() string { return "qdrant+" + c.Source.Name() }

func (c Cache) Vector(ctx context.Context, entity, id, text string) ([]float64, error) {
	v, err := c.Store.Vector(ctx, entity, id, text)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, embedding.ErrNotFound) {
		return nil, err
	}

	v, err = c.Source.Vector(ctx, entity, id, text)
	if err != nil {
		return nil, err
	}
	if err := c.Store.Put(ctx, entity, id, v); err != nil {
		return nil, err
	}
	return v, nil
}
