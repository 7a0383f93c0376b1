// Package qdrant implements the vector store port against the Qdrant REST
// API. Every point carries one named dense vector and one named sparse
// vector, so a single collection serves both retrieval modes.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lectern-ai/lectern-core/internal/core/domain"
	"github.com/lectern-ai/lectern-core/internal/core/ports/driven"
)

// Named vectors inside every stored point.
const (
	denseVectorName  = "dense"
	sparseVectorName = "sparse"
)

// Payload fields that get a keyword index when the collection is created,
// because every query filters on them.
var indexedPayloadFields = []string{"org_id", "course_id", "document_id"}

// Config holds the Qdrant connection settings.
type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// DefaultConfig returns the settings used against a standalone Qdrant.
func DefaultConfig(url string) Config {
	return Config{
		URL:        url,
		Collection: "lectern_chunks",
		Timeout:    30 * time.Second,
	}
}

// VectorStore is a REST client scoped to one Qdrant collection.
type VectorStore struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

var _ driven.VectorStore = (*VectorStore)(nil)

// NewVectorStore creates the client. It does not touch the network; call
// EnsureCollection or HealthCheck to verify connectivity.
func NewVectorStore(cfg Config) *VectorStore {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "lectern_chunks"
	}
	return &VectorStore{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// EnsureCollection creates the collection with the named dense and sparse
// vectors if it does not exist yet, and indexes the tenant filter fields.
// An existing collection is left untouched.
func (s *VectorStore) EnsureCollection(ctx context.Context, denseDimensions int) error {
	if denseDimensions <= 0 {
		return fmt.Errorf("dense dimensions must be positive, got %d: %w", denseDimensions, domain.ErrValidation)
	}

	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			denseVectorName: map[string]interface{}{
				"size":     denseDimensions,
				"distance": "Cosine",
			},
		},
		"sparse_vectors": map[string]interface{}{
			sparseVectorName: map[string]interface{}{},
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionPath(""), body, nil); err != nil {
		return fmt.Errorf("failed to create collection %s: %w", s.collection, err)
	}

	for _, field := range indexedPayloadFields {
		index := map[string]interface{}{
			"field_name":   field,
			"field_schema": "keyword",
		}
		if err := s.do(ctx, http.MethodPut, s.collectionPath("/index?wait=true"), index, nil); err != nil {
			return fmt.Errorf("failed to index payload field %s: %w", field, err)
		}
	}
	return nil
}

// Upsert writes the points and waits for the store to commit the batch.
// Points without sparse terms are stored with the dense vector only.
func (s *VectorStore) Upsert(ctx context.Context, points []*domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	upserted := make([]map[string]interface{}, 0, len(points))
	for _, p := range points {
		vectors := map[string]interface{}{
			denseVectorName: p.Dense,
		}
		if !p.Sparse.IsZero() {
			vectors[sparseVectorName] = map[string]interface{}{
				"indices": p.Sparse.Indices,
				"values":  p.Sparse.Values,
			}
		}
		upserted = append(upserted, map[string]interface{}{
			"id":      p.ID,
			"vector":  vectors,
			"payload": p.Payload,
		})
	}

	body := map[string]interface{}{"points": upserted}
	if err := s.do(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), body, nil); err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(points), err)
	}
	return nil
}

// QueryDense returns the top-limit points by cosine similarity over the
// named dense vector.
func (s *VectorStore) QueryDense(ctx context.Context, vector []float32, filter driven.VectorFilter, limit int) ([]*domain.ScoredPoint, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d: %w", limit, domain.ErrValidation)
	}
	body := map[string]interface{}{
		"query":        vector,
		"using":        denseVectorName,
		"limit":        limit,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		body["filter"] = f
	}
	hits, err := s.query(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("failed to query dense vectors: %w", err)
	}
	return hits, nil
}

// QuerySparse returns the top-limit points by dot product over the named
// sparse vector. Scores follow the BM25 weights baked into the stored terms.
func (s *VectorStore) QuerySparse(ctx context.Context, vector domain.SparseVector, filter driven.VectorFilter, limit int) ([]*domain.ScoredPoint, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d: %w", limit, domain.ErrValidation)
	}
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"indices": vector.Indices,
			"values":  vector.Values,
		},
		"using":        sparseVectorName,
		"limit":        limit,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		body["filter"] = f
	}
	hits, err := s.query(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("failed to query sparse vectors: %w", err)
	}
	return hits, nil
}

type queryResponse struct {
	Result struct {
		Points []struct {
			ID      string              `json:"id"`
			Score   float64             `json:"score"`
			Payload domain.ChunkPayload `json:"payload"`
		} `json:"points"`
	} `json:"result"`
}

func (s *VectorStore) query(ctx context.Context, body map[string]interface{}) ([]*domain.ScoredPoint, error) {
	var resp queryResponse
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/query"), body, &resp); err != nil {
		return nil, err
	}
	hits := make([]*domain.ScoredPoint, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		hits = append(hits, &domain.ScoredPoint{
			ID:      p.ID,
			Score:   p.Score,
			Payload: p.Payload,
		})
	}
	return hits, nil
}

type scrollResponse struct {
	Result struct {
		Points []struct {
			ID     string `json:"id"`
			Vector struct {
				Dense  []float32           `json:"dense"`
				Sparse domain.SparseVector `json:"sparse"`
			} `json:"vector"`
			Payload domain.ChunkPayload `json:"payload"`
		} `json:"points"`
		NextPageOffset interface{} `json:"next_page_offset"`
	} `json:"result"`
}

// ScrollByDocument pages through a document's points with vectors included.
// Pass the returned next token as offset to continue; an empty next means
// the scroll is exhausted.
func (s *VectorStore) ScrollByDocument(ctx context.Context, documentID string, limit int, offset string) ([]*domain.VectorPoint, string, error) {
	if documentID == "" {
		return nil, "", fmt.Errorf("document id is required: %w", domain.ErrValidation)
	}
	if limit <= 0 {
		return nil, "", fmt.Errorf("limit must be positive, got %d: %w", limit, domain.ErrValidation)
	}

	body := map[string]interface{}{
		"filter":       buildFilter(driven.VectorFilter{DocumentID: documentID}),
		"limit":        limit,
		"with_payload": true,
		"with_vector":  true,
	}
	if offset != "" {
		body["offset"] = offset
	}

	var resp scrollResponse
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/scroll"), body, &resp); err != nil {
		return nil, "", fmt.Errorf("failed to scroll points of document %s: %w", documentID, err)
	}

	points := make([]*domain.VectorPoint, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		points = append(points, &domain.VectorPoint{
			ID:      p.ID,
			Dense:   p.Vector.Dense,
			Sparse:  p.Vector.Sparse,
			Payload: p.Payload,
		})
	}
	return points, nextOffset(resp.Result.NextPageOffset), nil
}

// nextOffset renders the next_page_offset field, which is a point ID or
// null. Point IDs are UUID strings here, but numeric IDs decode too.
func nextOffset(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	default:
		return ""
	}
}

// DeleteByDocument removes every point whose payload references the
// document and waits for the deletion to commit.
func (s *VectorStore) DeleteByDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("document id is required: %w", domain.ErrValidation)
	}
	body := map[string]interface{}{
		"filter": buildFilter(driven.VectorFilter{DocumentID: documentID}),
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), body, nil); err != nil {
		return fmt.Errorf("failed to delete points of document %s: %w", documentID, err)
	}
	return nil
}

type countResponse struct {
	Result struct {
		Count int `json:"count"`
	} `json:"result"`
}

// CountByDocument returns the exact number of points stored for a document.
func (s *VectorStore) CountByDocument(ctx context.Context, documentID string) (int, error) {
	if documentID == "" {
		return 0, fmt.Errorf("document id is required: %w", domain.ErrValidation)
	}
	body := map[string]interface{}{
		"filter": buildFilter(driven.VectorFilter{DocumentID: documentID}),
		"exact":  true,
	}
	var resp countResponse
	if err := s.do(ctx, http.MethodPost, s.collectionPath("/points/count"), body, &resp); err != nil {
		return 0, fmt.Errorf("failed to count points of document %s: %w", documentID, err)
	}
	return resp.Result.Count, nil
}

// HealthCheck probes the instance liveness endpoint.
func (s *VectorStore) HealthCheck(ctx context.Context) error {
	if err := s.do(ctx, http.MethodGet, "/healthz", nil, nil); err != nil {
		return fmt.Errorf("vector store health check failed: %w", err)
	}
	return nil
}

// buildFilter translates the port filter into Qdrant must clauses keyed by
// the payload field names. A zero filter yields nil so the request omits
// the filter object entirely.
func buildFilter(filter driven.VectorFilter) map[string]interface{} {
	match := func(field string, value interface{}) map[string]interface{} {
		return map[string]interface{}{
			"key":   field,
			"match": map[string]interface{}{"value": value},
		}
	}

	var must []map[string]interface{}
	if filter.OrgID != "" {
		must = append(must, match("org_id", filter.OrgID))
	}
	if filter.CourseID != "" {
		must = append(must, match("course_id", filter.CourseID))
	}
	if filter.DocumentID != "" {
		must = append(must, match("document_id", filter.DocumentID))
	}
	if filter.HasCode != nil {
		must = append(must, match("has_code", *filter.HasCode))
	}
	if filter.HasFormulas != nil {
		must = append(must, match("has_formulas", *filter.HasFormulas))
	}
	if filter.HasTables != nil {
		must = append(must, match("has_tables", *filter.HasTables))
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]interface{}{"must": must}
}

func (s *VectorStore) collectionPath(suffix string) string {
	return "/collections/" + s.collection + suffix
}

// collectionExists treats 404 as a clean miss instead of an error.
func (s *VectorStore) collectionExists(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+s.collectionPath(""), nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: GET %s: %v", domain.ErrExternal, s.collectionPath(""), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, statusError(http.MethodGet, s.collectionPath(""), resp)
	}
}

// do sends one JSON request and decodes the response into out when out is
// non-nil. Transport failures and 5xx responses wrap the retryable error
// classes; other 4xx responses are permanent.
func (s *VectorStore) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s: %v", domain.ErrTimeout, method, path, err)
		}
		return fmt.Errorf("%w: %s %s: %v", domain.ErrExternal, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(method, path, resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: failed to decode %s %s response: %v", domain.ErrExternal, method, path, err)
		}
	}
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(body))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: qdrant returned status %d for %s %s: %s", domain.ErrExternal, resp.StatusCode, method, path, msg)
	}
	return fmt.Errorf("qdrant returned status %d for %s %s: %s", resp.StatusCode, method, path, msg)
}
