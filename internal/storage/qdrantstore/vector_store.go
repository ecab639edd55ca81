// Package qdrantstore provides a storage.VectorStore backed by a Qdrant server.
// Each namespace maps to its own collection, so twins never share an index.
package qdrantstore

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"github.com/scrypster/twinrag/internal/storage"
)

const (
	vectorField = "text"
	upsertBatch = 100
)

// Config holds connection settings for the Qdrant gRPC endpoint.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// CollectionPrefix is prepended to every namespace (default "twin_").
	CollectionPrefix string
}

// VectorStore implements storage.VectorStore on Qdrant.
type VectorStore struct {
	client *qdrant.Client
	prefix string

	mu    sync.Mutex
	known map[string]bool // collections verified to exist
}

var _ storage.VectorStore = (*VectorStore)(nil)

// NewVectorStore connects to Qdrant.
func NewVectorStore(cfg Config) (*VectorStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to connect: %w", err)
	}
	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = "twin_"
	}
	log.Printf("qdrant: connected to %s:%d", cfg.Host, cfg.Port)
	return &VectorStore{client: client, prefix: prefix, known: make(map[string]bool)}, nil
}

// collection returns the collection name of a namespace.
func (v *VectorStore) collection(namespace string) string {
	return v.prefix + strings.NewReplacer("-", "_", ":", "_", "/", "_").Replace(namespace)
}

// ensureCollection creates the namespace collection on first write.
func (v *VectorStore) ensureCollection(ctx context.Context, name string, dimension int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.known[name] {
		return nil
	}

	exists, err := v.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection %s: %w", name, err)
	}
	if !exists {
		err = v.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
				vectorField: {
					Size:     uint64(dimension),
					Distance: qdrant.Distance_Cosine,
				},
			}),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to create collection %s: %w", name, err)
		}
		log.Printf("qdrant: created collection %s (dimension %d)", name, dimension)
	}
	v.known[name] = true
	return nil
}

// exists reports whether the namespace collection exists without creating it.
func (v *VectorStore) exists(ctx context.Context, name string) (bool, error) {
	v.mu.Lock()
	known := v.known[name]
	v.mu.Unlock()
	if known {
		return true, nil
	}
	ok, err := v.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("qdrant: failed to check collection %s: %w", name, err)
	}
	return ok, nil
}

// Upsert writes entries; chunk ids are UUIDs and double as point ids.
func (v *VectorStore) Upsert(ctx context.Context, namespace string, entries []storage.VectorEntry) error {
	if namespace == "" {
		return fmt.Errorf("%w: namespace is required", storage.ErrInvalidInput)
	}
	if len(entries) == 0 {
		return nil
	}
	name := v.collection(namespace)
	if err := v.ensureCollection(ctx, name, len(entries[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, e := range entries {
		if e.ChunkID == "" || len(e.Vector) == 0 {
			return fmt.Errorf("%w: chunk ID and vector are required", storage.ErrInvalidInput)
		}
		points = append(points, &qdrant.PointStruct{
			Id: qdrant.NewID(e.ChunkID),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				vectorField: qdrant.NewVectorDense(e.Vector),
			}),
			Payload: map[string]*qdrant.Value{
				"chunk_id":  qdrant.NewValueString(e.ChunkID),
				"source_id": qdrant.NewValueString(e.SourceID),
			},
		})
	}

	for i := 0; i < len(points); i += upsertBatch {
		end := i + upsertBatch
		if end > len(points) {
			end = len(points)
		}
		_, err := v.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         points[i:end],
		})
		if err != nil {
			return fmt.Errorf("qdrant: upsert failed (batch %d-%d): %w", i, end, err)
		}
	}
	return nil
}

// Query searches the namespace collection. A namespace that was never
// written has no collection and yields no matches.
func (v *VectorStore) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]storage.VectorMatch, error) {
	if topK <= 0 {
		return nil, nil
	}
	name := v.collection(namespace)
	ok, err := v.exists(ctx, name)
	if err != nil || !ok {
		return nil, err
	}

	results, err := v.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQueryDense(vector),
		Using:          qdrant.PtrOf(vectorField),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: query failed: %w", err)
	}

	matches := make([]storage.VectorMatch, 0, len(results))
	for _, r := range results {
		m := storage.VectorMatch{ChunkID: r.GetId().GetUuid(), Score: float64(r.GetScore())}
		if payload := r.GetPayload(); payload != nil {
			if val, ok := payload["chunk_id"]; ok {
				m.ChunkID = val.GetStringValue()
			}
			if val, ok := payload["source_id"]; ok {
				m.SourceID = val.GetStringValue()
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// DeleteBySource removes the points of a source by payload filter.
func (v *VectorStore) DeleteBySource(ctx context.Context, namespace, sourceID string) error {
	name := v.collection(namespace)
	ok, err := v.exists(ctx, name)
	if err != nil || !ok {
		return err
	}
	_, err = v.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("source_id", sourceID)},
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to delete source %s: %w", sourceID, err)
	}
	return nil
}

// Count returns the exact number of points in the namespace.
func (v *VectorStore) Count(ctx context.Context, namespace string) (int, error) {
	name := v.collection(namespace)
	ok, err := v.exists(ctx, name)
	if err != nil || !ok {
		return 0, err
	}
	n, err := v.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: name,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return int(n), nil
}

// Close closes the gRPC connection.
func (v *VectorStore) Close() error {
	return v.client.Close()
}
