package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/vectorstore"
)

const (
	// idKey holds the caller's record id; Qdrant only accepts UUIDs and
	// integers as point ids.
	idKey      = "_id"
	contentKey = "_content"
)

var _ vectorstore.Store = (*QdrantStore)(nil)

// Config describes the Qdrant connection and collection.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	VectorSize uint64
}

// QdrantStore implements vectorstore.Store using Qdrant.
type QdrantStore struct {
	client         *qdrant.Client
	collectionName string
	vectorSize     uint64
}

// New creates a new QdrantStore and creates the collection if it does not
// exist.
func New(ctx context.Context, cfg Config) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create client: %w", errdefs.ErrStorage, err)
	}

	store := &QdrantStore{
		client:         client,
		collectionName: cfg.Collection,
		vectorSize:     cfg.VectorSize,
	}

	if err := store.initCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return store, nil
}

func (s *QdrantStore) initCollection(ctx context.Context) error {
	// Check if collection exists
	exists, err := s.client.CollectionExists(ctx, s.collectionName)
	if err != nil {
		return fmt.Errorf("%w: failed to check collection existence: %w", errdefs.ErrStorage, err)
	}

	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.vectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("%w: failed to create collection: %w", errdefs.ErrStorage, err)
		}
	}
	return nil
}

// PointID maps a record id to a stable UUID.
func PointID(id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
}

// Add upserts records.
func (s *QdrantStore) Add(ctx context.Context, ids []string, vectors [][]float32, texts []string, metadatas []map[string]any) error {
	if err := vectorstore.CheckAdd(ids, vectors, texts, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(ids))
	for i, id := range ids {
		// Metadata is flattened to primitives, which NewValueMap accepts.
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(id)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(Payload(id, texts[i], metadatas[i])),
		}
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert failed: %w", errdefs.ErrStorage, err)
	}
	return nil
}

// Payload builds the point payload for a record.
func Payload(id, text string, md map[string]any) map[string]any {
	payload := make(map[string]any, len(md)+2)
	for k, v := range md {
		payload[k] = v
	}
	payload[idKey] = id
	payload[contentKey] = text
	return payload
}

// Query returns up to n records nearest to vector.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, n int, filter vectorstore.Filter) (*vectorstore.QueryResult, error) {
	res := vectorstore.NewQueryResult()
	if n <= 0 {
		return res, nil
	}

	limit := uint64(n)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Filter:         Conditions(filter),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query failed: %w", errdefs.ErrStorage, err)
	}

	for _, hit := range hits {
		id, content, md := FromPayload(hit.Payload)
		res.Append(id, content, md, 1-float64(hit.Score))
	}
	return res, nil
}

// Get returns every record matching filter.
func (s *QdrantStore) Get(ctx context.Context, filter vectorstore.Filter) (*vectorstore.QueryResult, error) {
	exact := true
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collectionName,
		Filter:         Conditions(filter),
		Exact:          &exact,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: count failed: %w", errdefs.ErrStorage, err)
	}

	res := vectorstore.NewQueryResult()
	res.Distances = nil
	if count == 0 {
		return res, nil
	}

	limit := uint32(count)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collectionName,
		Filter:         Conditions(filter),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scroll failed: %w", errdefs.ErrStorage, err)
	}

	for _, p := range points {
		id, content, md := FromPayload(p.Payload)
		res.IDs[0] = append(res.IDs[0], id)
		res.Documents[0] = append(res.Documents[0], content)
		res.Metadatas[0] = append(res.Metadatas[0], md)
	}
	return res, nil
}

// Delete removes ids.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(PointID(id))
	}

	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("%w: delete failed: %w", errdefs.ErrStorage, err)
	}
	return nil
}

// Update replaces a single record.
func (s *QdrantStore) Update(ctx context.Context, id string, vector []float32, text string, md map[string]any) error {
	return s.Add(ctx, []string{id}, [][]float32{vector}, []string{text}, []map[string]any{md})
}

// Count returns the number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collectionName,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count failed: %w", errdefs.ErrStorage, err)
	}
	return int(n), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// Conditions converts an equality filter into a Qdrant filter.
func Conditions(filter vectorstore.Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		switch val := v.(type) {
		case int:
			must = append(must, qdrant.NewMatchInt(k, int64(val)))
		case int64:
			must = append(must, qdrant.NewMatchInt(k, val))
		case bool:
			must = append(must, qdrant.NewMatchBool(k, val))
		default:
			must = append(must, qdrant.NewMatch(k, fmt.Sprint(val)))
		}
	}
	return &qdrant.Filter{Must: must}
}

// FromPayload splits a point payload into id, content and metadata.
func FromPayload(payload map[string]*qdrant.Value) (id, content string, md map[string]any) {
	md = make(map[string]any, len(payload))
	for k, v := range payload {
		switch k {
		case idKey:
			id = v.GetStringValue()
		case contentKey:
			content = v.GetStringValue()
		default:
			md[k] = valueOf(v)
		}
	}
	return id, content, md
}

func valueOf(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}
