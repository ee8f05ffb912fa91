package qdrant

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/spigell/allocator/internal/embedding"
)

type mockPoints struct {
	getReq    *pb.GetPoints
	getResp   *pb.GetResponse
	getErr    error
	upserts   []*pb.UpsertPoints
	upsertErr error
}

func (m *mockPoints) Get(_ context.Context, in *pb.GetPoints, _ ...grpc.CallOption) (*pb.GetResponse, error) {
	m.getReq = in
	return m.getResp, m.getErr
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserts = append(m.upserts, in)
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func pointWith(data ...float32) *pb.RetrievedPoint {
	return &pb.RetrievedPoint{
		Vectors: &pb.VectorsOutput{
			VectorsOptions: &pb.VectorsOutput_Vector{Vector: &pb.VectorOutput{Data: data}},
		},
	}
}

func TestPointIDIsStable(t *testing.T) {
	a := PointID("candidate", "C1")
	assert.Equal(t, a, PointID("candidate", "C1"))
	assert.NotEqual(t, a, PointID("opportunity", "C1"))
	assert.Len(t, a, 36)
}

func TestVectorReadsPoint(t *testing.T) {
	points := &mockPoints{getResp: &pb.GetResponse{Result: []*pb.RetrievedPoint{pointWith(0.5, 0.25)}}}
	s := NewWithClient(points, "profiles")

	v, err := s.Vector(context.Background(), "candidate", "C1", "")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.25}, v)

	assert.Equal(t, "profiles", points.getReq.GetCollectionName())
	require.Len(t, points.getReq.GetIds(), 1)
	assert.Equal(t, PointID("candidate", "C1"), points.getReq.GetIds()[0].GetUuid())
	assert.True(t, points.getReq.GetWithVectors().GetEnable())
}

func TestVectorMissingPoint(t *testing.T) {
	s := NewWithClient(&mockPoints{getResp: &pb.GetResponse{}}, "profiles")
	_, err := s.Vector(context.Background(), "candidate", "C9", "")
	assert.ErrorIs(t, err, embedding.ErrNotFound)
}

func TestVectorTransportError(t *testing.T) {
	boom := errors.New("unavailable")
	s := NewWithClient(&mockPoints{getErr: boom}, "profiles")
	_, err := s.Vector(context.Background(), "candidate", "C1", "")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, embedding.ErrNotFound)
}

func TestCacheWritesBackComputedVectors(t *testing.T) {
	points := &mockPoints{getResp: &pb.GetResponse{}}
	source := embedding.Static{{Entity: "opportunity", ID: "O1"}: {1, 0}}
	cache := Cache{Store: NewWithClient(points, "profiles"), Source: source}

	v, err := cache.Vector(context.Background(), "opportunity", "O1", "")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, v)
	assert.Equal(t, "qdrant+static", cache.Name())

	require.Len(t, points.upserts, 1)
	point := points.upserts[0].GetPoints()[0]
	assert.Equal(t, PointID("opportunity", "O1"), point.GetId().GetUuid())
	assert.Equal(t, []float32{1, 0}, point.GetVectors().GetVector().GetData())
	assert.Equal(t, "O1", point.GetPayload()[payloadID].GetStringValue())

	_, err = cache.Vector(context.Background(), "candidate", "C1", "")
	assert.ErrorIs(t, err, embedding.ErrNotFound)
	assert.Len(t, points.upserts, 1)
}

func TestNewRequiresCollection(t *testing.T) {
	_, err := New("localhost:6334", "")
	assert.Error(t, err)
}
