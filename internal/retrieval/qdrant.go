package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/sanitize"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var qdrantTracer = otel.Tracer("coachd.retrieval.qdrant")

// ErrUnavailable wraps transient qdrant failures.
var ErrUnavailable = errors.New("retrieval: vector store unavailable")

const (
	defaultQdrantPort     = 6334
	defaultMaxMessageSize = 50 * 1024 * 1024
	payloadText           = "text"
)

// QdrantConfig configures a qdrant connection.
type QdrantConfig struct {
	Host       string
	Port       int
	UseTLS     bool
	Collection string

	// VectorSize is the embedding dimension used when the collection has to
	// be created.
	VectorSize uint64
}

// QdrantRetriever retrieves from a qdrant collection over gRPC.
type QdrantRetriever struct {
	client     *qdrant.Client
	embedder   Embedder
	collection string
	vectorSize uint64
}

// NewQdrantRetriever connects to qdrant. The collection is created lazily on
// the first Index call.
func NewQdrantRetriever(cfg QdrantConfig, embedder Embedder) (*QdrantRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("qdrant: embedder is required")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = defaultQdrantPort
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	cfg.Collection = sanitize.Collection(cfg.Collection)

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(defaultMaxMessageSize),
				grpc.MaxCallSendMsgSize(defaultMaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &QdrantRetriever{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		vectorSize: cfg.VectorSize,
	}, nil
}

// Close closes the gRPC connection.
func (r *QdrantRetriever) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *QdrantRetriever) ensureCollection(ctx context.Context, size uint64) error {
	exists, err := r.client.CollectionExists(ctx, r.collection)
	if err != nil {
		return classify(err)
	}
	if exists {
		return nil
	}
	if r.vectorSize > 0 {
		size = r.vectorSize
	}
	err = r.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     size,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", r.collection, classify(err))
	}
	return nil
}

// Index implements Indexer.
func (r *QdrantRetriever) Index(ctx context.Context, docs []Document) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantRetriever.Index")
	defer span.End()
	span.SetAttributes(attribute.Int("documents", len(docs)))

	if len(docs) == 0 {
		return ErrNoDocuments
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vectors, err := r.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("embedding documents: %w", err)
	}
	if len(vectors) != len(docs) || len(vectors[0]) == 0 {
		return fmt.Errorf("%w: %d documents, %d vectors", ErrEmbeddingMismatch, len(docs), len(vectors))
	}

	if err := r.ensureCollection(ctx, uint64(len(vectors[0]))); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		id := d.ID
		if _, err := uuid.Parse(id); err != nil {
			// qdrant point ids must be UUIDs or integers.
			id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(d.ID+"|"+d.Text)).String()
		}

		payload := make(map[string]any, len(d.Metadata)+3)
		for k, v := range d.Metadata {
			payload[k] = v
		}
		payload[payloadText] = d.Text
		payload[metaSource] = d.Source
		payload[metaCategory] = d.Category

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err = r.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: r.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		err = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	logging.FromContext(ctx).Debug(ctx, "indexed knowledge",
		zap.String("collection", r.collection),
		zap.Int("documents", len(docs)),
	)
	return nil
}

// Retrieve implements Retriever.
func (r *QdrantRetriever) Retrieve(ctx context.Context, query, category string, k int) ([]Chunk, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantRetriever.Retrieve")
	defer span.End()

	k = normalizeK(k)
	span.SetAttributes(
		attribute.String("category", category),
		attribute.Int("k", k),
	)

	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	req := &qdrant.QueryPoints{
		CollectionName: r.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if category != "" {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeyword(metaCategory, category)},
		}
	}

	points, err := r.client.Query(ctx, req)
	if err != nil {
		if status.Code(err) == grpccodes.NotFound {
			// Nothing indexed yet.
			return nil, nil
		}
		err = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", r.collection, err)
	}

	chunks := make([]Chunk, 0, len(points))
	for _, p := range points {
		chunks = append(chunks, Chunk{
			Text:      payloadString(p.GetPayload(), payloadText),
			Source:    payloadString(p.GetPayload(), metaSource),
			Category:  payloadString(p.GetPayload(), metaCategory),
			Relevance: float64(p.GetScore()),
		})
	}

	span.SetAttributes(attribute.Int("results_count", len(chunks)))
	span.SetStatus(codes.Ok, "success")
	return chunks, nil
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

// classify marks transient gRPC failures with ErrUnavailable.
func classify(err error) error {
	switch status.Code(err) {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	default:
		return err
	}
}

var (
	_ Retriever = (*QdrantRetriever)(nil)
	_ Indexer   = (*QdrantRetriever)(nil)
)
