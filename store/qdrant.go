package store

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"resumerag/types"
)

const (
	namespaceKey = "namespace"
	recordIDKey  = "record_id"
	scrollPage   = 256
)

// pointNamespace seeds the deterministic point UUIDs.
var pointNamespace = uuid.MustParse("6f1c3b7e-2f9a-4d8e-9c43-5b0e7a1d2c90")

// QdrantIndex keeps every namespace in one collection, separated by an
// indexed "namespace" payload field.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

func NewQdrantIndex(host string, port int, collection string) (*QdrantIndex, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

func (q *QdrantIndex) EnsureIndex(ctx context.Context, dimension int) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return &types.IndexError{Op: "list", Err: err}
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	log.Printf("[QDRANT] creating collection %s (dimension %d, cosine)", q.collection, dimension)
	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: uint64(dimension), Distance: pb.Distance_Cosine},
		}},
	})
	if err != nil {
		return &types.IndexError{Op: "create", Err: err}
	}

	wait := true
	_, err = q.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: q.collection,
		Wait:           &wait,
		FieldName:      namespaceKey,
		FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return &types.IndexError{Op: "create", Err: err}
	}
	return nil
}

// pointID maps a record id to a stable UUID, Qdrant only accepts UUIDs or integers.
func pointID(namespace, id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(namespace+"/"+id)).String()
}

func (q *QdrantIndex) Upsert(ctx context.Context, namespace string, records []types.Record) error {
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Metadata)+2)
		for k, v := range r.Metadata {
			payload[k] = toValue(v)
		}
		payload[namespaceKey] = toValue(namespace)
		payload[recordIDKey] = toValue(r.ID)

		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(namespace, r.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Vector}}},
			Payload: payload,
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return &types.IndexError{Op: "upsert", Namespace: namespace, Err: err}
	}
	return nil
}

func (q *QdrantIndex) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]types.Match, error) {
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         namespaceFilter(namespace),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, &types.IndexError{Op: "query", Namespace: namespace, Err: err}
	}

	matches := make([]types.Match, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		meta := make(map[string]any, len(pt.GetPayload()))
		for k, v := range pt.GetPayload() {
			if k == namespaceKey || k == recordIDKey {
				continue
			}
			meta[k] = fromValue(v)
		}
		matches = append(matches, types.Match{
			ID:        pt.GetPayload()[recordIDKey].GetStringValue(),
			Namespace: namespace,
			Score:     float64(pt.GetScore()),
			Metadata:  meta,
		})
	}
	return matches, nil
}

func (q *QdrantIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Filter{
			Filter: namespaceFilter(namespace),
		}},
	})
	if err != nil {
		return &types.IndexError{Op: "delete", Namespace: namespace, Err: err}
	}
	return nil
}

// DescribeStats scrolls the namespace field of every point.
func (q *QdrantIndex) DescribeStats(ctx context.Context) (types.IndexStats, error) {
	stats := types.IndexStats{Dimension: types.Dimension, Namespaces: make(map[string]int)}

	limit := uint32(scrollPage)
	var offset *pb.PointId
	for {
		resp, err := q.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: q.collection,
			Offset:         offset,
			Limit:          &limit,
			WithPayload: &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Include{
				Include: &pb.PayloadIncludeSelector{Fields: []string{namespaceKey}},
			}},
		})
		if err != nil {
			return types.IndexStats{}, &types.IndexError{Op: "stats", Err: err}
		}
		for _, pt := range resp.GetResult() {
			if ns := pt.GetPayload()[namespaceKey].GetStringValue(); ns != "" {
				stats.Namespaces[ns]++
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return stats, nil
		}
	}
}

func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

func namespaceFilter(namespace string) *pb.Filter {
	return &pb.Filter{Must: []*pb.Condition{{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   namespaceKey,
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: namespace}},
		}},
	}}}
}

func toValue(v any) *pb.Value {
	switch t := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: t}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: t}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: t}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: t}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(t)}}
	}
}

func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	default:
		return nil
	}
}
