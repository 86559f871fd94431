package vectordb

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/ihavespoons/mci/internal/logutil"
)

const qdrantScrollPage = 256

// QdrantStore implements Store on a Qdrant collection over gRPC. The
// collection is created on first upsert, once the vector size is known.
type QdrantStore struct {
	client     *qdrant.Client
	collection string

	mu     sync.Mutex
	exists bool
}

// NewQdrantStore connects to Qdrant. urlStr names the gRPC endpoint, e.g.
// "http://localhost:6334"; an https scheme enables TLS.
func NewQdrantStore(ctx context.Context, urlStr, collection string) (*QdrantStore, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if parsedURL.Port() != "" {
		port, err = strconv.Atoi(parsedURL.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid Qdrant port %q: %w", parsedURL.Port(), err)
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		UseTLS: parsedURL.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	logutil.FromContext(ctx).Debug("qdrant client", "host", host, "port", port, "collection", collection)
	return &QdrantStore{client: client, collection: collection}, nil
}

// Ping runs a health check against the server
func (s *QdrantStore) Ping(ctx context.Context) bool {
	_, err := s.client.HealthCheck(ctx)
	return err == nil
}

func (s *QdrantStore) collectionExists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exists {
		return true, nil
	}
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	s.exists = exists
	return exists, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context, vectorSize int) error {
	exists, err := s.collectionExists(ctx)
	if err != nil || exists {
		return err
	}

	logutil.FromContext(ctx).Info("creating collection", "collection", s.collection, "vector_size", vectorSize)
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	s.mu.Lock()
	s.exists = true
	s.mu.Unlock()
	return nil
}

func pathFilter(path string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("path", path)},
	}
}

// GetOneByPath returns the payload of any point whose path matches
func (s *QdrantStore) GetOneByPath(ctx context.Context, path string) (Metadata, error) {
	exists, err := s.collectionExists(ctx)
	if err != nil || !exists {
		return nil, err
	}

	limit := uint32(1)
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         pathFilter(path),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll points: %w", err)
	}
	if len(points) == 0 {
		return nil, nil
	}
	return convertPayloadToMap(points[0].Payload), nil
}

// DeleteByPath deletes every point whose path matches
func (s *QdrantStore) DeleteByPath(ctx context.Context, path string) error {
	exists, err := s.collectionExists(ctx)
	if err != nil || !exists {
		return err
	}

	wait := true
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(pathFilter(path)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points for %s: %w", path, err)
	}
	return nil
}

// Upsert writes points, creating the collection from the first vector's size
func (s *QdrantStore) Upsert(ctx context.Context, ids, documents []string, embeddings [][]float32, metadatas []Metadata) error {
	if err := checkLengths(ids, documents, embeddings, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, len(embeddings[0])); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(ids))
	for i, id := range ids {
		payload := make(map[string]any, len(metadatas[i])+1)
		for k, v := range metadatas[i] {
			payload[k] = v
		}
		payload["document"] = documents[i]

		values, err := qdrant.TryValueMap(payload)
		if err != nil {
			return fmt.Errorf("invalid payload for %s: %w", id, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(id)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: values,
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Paths scrolls the whole collection and returns the distinct paths
func (s *QdrantStore) Paths(ctx context.Context) ([]string, error) {
	exists, err := s.collectionExists(ctx)
	if err != nil || !exists {
		return nil, err
	}

	seen := make(map[string]bool)
	var paths []string
	var offset *qdrant.PointId
	for {
		limit := uint32(qdrantScrollPage)
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude("path"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points: %w", err)
		}

		// the offset point is returned again as the first item of the next page
		if offset != nil && len(points) > 0 && points[0].GetId().GetUuid() == offset.GetUuid() {
			points = points[1:]
		}
		for _, p := range points {
			path := p.GetPayload()["path"].GetStringValue()
			if path != "" && !seen[path] {
				seen[path] = true
				paths = append(paths, path)
			}
		}
		if len(points) < qdrantScrollPage-1 {
			return paths, nil
		}
		offset = points[len(points)-1].GetId()
	}
}

// Close closes the gRPC connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// pointID maps a record id onto a Qdrant UUID. Hex uuids parse directly;
// any other id is hashed into a name-based uuid.
func pointID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

// convertPayloadToMap converts a Qdrant payload to Metadata
func convertPayloadToMap(payload map[string]*qdrant.Value) Metadata {
	result := make(Metadata, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		result[k] = convertValue(v)
	}
	return result
}

// convertValue converts a Qdrant Value to a Go value
func convertValue(v *qdrant.Value) any {
	switch val := v.Kind.(type) {
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_ListValue:
		list := make([]any, len(val.ListValue.Values))
		for i, item := range val.ListValue.Values {
			list[i] = convertValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		return map[string]any(convertPayloadToMap(val.StructValue.Fields))
	default:
		return nil
	}
}

var (
	_ Store      = (*QdrantStore)(nil)
	_ PathLister = (*QdrantStore)(nil)
)
