package qdrantDB

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/metrics"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
	"github.com/akolanti/GoRAG/pkg/logger_i"
	"github.com/qdrant/go-client/qdrant"
)

const (
	keyNamespace  = "namespace"
	keyDocument   = "source_doc_id"
	keyChunkId    = "chunk_id"
	keyOrdinal    = "chunk_order"
	keyPage       = "page_num"
	keyContent    = "content"
	keyGeneration = "generation"
	keyModel      = "embedding_model"
)

var logger *logger_i.Logger
var quadrantInstance *qdrant.Client
var once sync.Once

// ClientHolder is the Qdrant backed vectorDB.Index. All chunks share one collection and are
// partitioned by the namespace payload key.
type ClientHolder struct {
	QObj        *qdrant.Client
	collection  string
	dimension   uint64
	generations vectorDB.GenerationRegistry
}

// GetQuadrantClient connects once per process, ensures the collection exists with the expected
// dimension and returns nil when Qdrant is unusable.
func GetQuadrantClient(ctx context.Context, cfg config.QdrantSettings, dimension int, generations vectorDB.GenerationRegistry) *ClientHolder {
	once.Do(func() {
		logger = logger_i.NewLogger("Qdrant")
		res := newClient(ctx, cfg, uint64(dimension))
		if res != nil {
			quadrantInstance = res
			go closeQdrant(ctx, quadrantInstance)
		}
	})

	if quadrantInstance == nil {
		return nil
	}
	return &ClientHolder{
		QObj:        quadrantInstance,
		collection:  cfg.Collection,
		dimension:   uint64(dimension),
		generations: generations,
	}
}

func newClient(ctx context.Context, cfg config.QdrantSettings, dimension uint64) *qdrant.Client {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		APIKey:   cfg.APIKey,
		UseTLS:   cfg.UseTLS,
		PoolSize: uint(cfg.PoolSize),
	})
	if err != nil {
		logger.Error("could not instantiate", "error", err)
		return nil
	}

	initCtx, cancel := context.WithTimeout(ctx, config.QdrantConnectionTimeout)
	defer cancel()
	if err = ensureCollection(initCtx, client, cfg.Collection, dimension); err != nil {
		logger.Error("could not prepare collection", "collectionName", cfg.Collection, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

func closeQdrant(ctx context.Context, qi *qdrant.Client) {
	<-ctx.Done()
	logger.Info("Shutting down Qdrant")
	err := qi.Close()
	if err != nil {
		logger.Error("could not close Qdrant", "error", err)
	}
	logger.Info("Closed Qdrant")
}

// ensureCollection creates the collection and payload indexes, or verifies the dimension of an existing one.
func ensureCollection(ctx context.Context, client *qdrant.Client, collectionName string, dimension uint64) error {
	if collectionName == "" {
		return errors.New("empty collection name")
	}

	exists, err := client.CollectionExists(ctx, collectionName)
	if err != nil {
		return err
	}
	if exists {
		info, err := client.GetCollectionInfo(ctx, collectionName)
		if err != nil {
			return err
		}
		got := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if got != dimension {
			return ragErrors.E(ragErrors.CodeEmbeddingModelMismatch, "qdrantDB.ensureCollection",
				fmt.Errorf("collection %s has dimension %d, embeddings have %d", collectionName, got, dimension))
		}
		return nil
	}

	err = client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return err
	}

	for _, field := range []string{keyNamespace, keyDocument, keyGeneration} {
		_, err = client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collectionName,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", field, err)
		}
	}
	return nil
}

func (db *ClientHolder) Upsert(ctx context.Context, ns vectorDB.Namespace, chunks []commonModels.DocChunk) error {
	const op = "qdrantDB.Upsert"
	if err := ns.Validate(); err != nil {
		return ragErrors.E(ragErrors.CodeInternal, op, err)
	}
	if err := vectorDB.CheckOwnership(ns, chunks); err != nil {
		return ragErrors.E(ragErrors.CodeIntegrityViolation, op, err)
	}
	if len(chunks) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		if uint64(len(chunk.Vector)) != db.dimension {
			return ragErrors.E(ragErrors.CodeIntegrityViolation, op,
				fmt.Errorf("chunk %d has dimension %d, collection has %d", chunk.Ordinal, len(chunk.Vector), db.dimension))
		}
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(chunk.Id),
			Vectors: qdrant.NewVectors(chunk.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				keyNamespace:  ns.String(),
				keyDocument:   chunk.DocumentId,
				keyChunkId:    chunk.Id,
				keyOrdinal:    chunk.Ordinal,
				keyPage:       chunk.PageNum,
				keyContent:    chunk.Text,
				keyGeneration: chunk.Generation,
				keyModel:      chunk.EmbeddingModel,
			}),
		}
	}

	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("vector_upsert", time.Since(start)) }()

	_, err := db.QObj.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: db.collection,
		Points:         qdrantPoints,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return ragErrors.E(ragErrors.CodeIndexFailed, op, err)
	}
	return nil
}

func (db *ClientHolder) DeleteByDocument(ctx context.Context, ns vectorDB.Namespace, documentId string) error {
	const op = "qdrantDB.DeleteByDocument"
	if err := ns.Validate(); err != nil {
		return ragErrors.E(ragErrors.CodeInternal, op, err)
	}
	if err := db.generations.Remove(ctx, ns, documentId); err != nil {
		return ragErrors.E(ragErrors.CodeIndexFailed, op, err)
	}
	return db.deleteWhere(ctx, op, &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatch(keyNamespace, ns.String()),
		qdrant.NewMatch(keyDocument, documentId),
	}})
}

// ReplaceDocument writes the new generation, publishes it in the registry, then removes
// every other generation of the document. Queries filter on the registry, so readers
// never observe a mix of generations.
func (db *ClientHolder) ReplaceDocument(ctx context.Context, ns vectorDB.Namespace, documentId string, chunks []commonModels.DocChunk) error {
	const op = "qdrantDB.ReplaceDocument"
	if len(chunks) == 0 {
		return db.DeleteByDocument(ctx, ns, documentId)
	}

	generation := chunks[0].Generation
	for _, c := range chunks {
		if c.DocumentId != documentId || c.Generation != generation || generation == "" {
			return ragErrors.E(ragErrors.CodeIntegrityViolation, op,
				fmt.Errorf("chunk %s does not belong to document %s generation %q", c.Id, documentId, generation))
		}
	}

	if err := db.Upsert(ctx, ns, chunks); err != nil {
		return err
	}
	if err := db.generations.SetActive(ctx, ns, documentId, generation); err != nil {
		return ragErrors.E(ragErrors.CodeIndexFailed, op, err)
	}

	// older generations are invisible from here on; a failed cleanup leaves points no query returns
	err := db.deleteWhere(ctx, op, &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(keyNamespace, ns.String()),
			qdrant.NewMatch(keyDocument, documentId),
		},
		MustNot: []*qdrant.Condition{qdrant.NewMatch(keyGeneration, generation)},
	})
	if err != nil {
		logger.WithTrace(ctx).Warn("could not remove stale generations", "documentId", documentId, "error", err)
	}
	return nil
}

func (db *ClientHolder) Query(ctx context.Context, ns vectorDB.Namespace, vector []float32, topK int, filter *vectorDB.Filter) ([]vectorDB.Match, error) {
	const op = "qdrantDB.Query"
	if err := ns.Validate(); err != nil {
		return nil, ragErrors.E(ragErrors.CodeInternal, op, err)
	}
	if topK <= 0 {
		return nil, nil
	}
	log := logger.WithTrace(ctx)

	must := []*qdrant.Condition{qdrant.NewMatch(keyNamespace, ns.String())}
	if filter != nil && len(filter.DocumentIds) > 0 {
		must = append(must, qdrant.NewMatchKeywords(keyDocument, filter.DocumentIds...))
	}

	// A swap publishes the new generation and then deletes the old one. When the registry reads
	// taken before and after the search disagree, the hits may belong to neither, so search again.
	for round := 1; round <= config.QdrantStableReadRounds; round++ {
		before, err := db.generations.ActiveAll(ctx, ns)
		if err != nil {
			return nil, ragErrors.E(ragErrors.CodeIndexFailed, op, err)
		}

		start := time.Now()
		result, err := db.QObj.Query(ctx, &qdrant.QueryPoints{
			CollectionName: db.collection,
			Query:          qdrant.NewQuery(vector...),
			Filter:         &qdrant.Filter{Must: must},
			Limit:          qdrant.PtrOf(uint64(topK * config.QdrantOverfetchFactor)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		metrics.CaptureExecutionMetrics("vector_search", time.Since(start))
		if err != nil {
			log.Error("Error querying Qdrant", "error", err)
			return nil, ragErrors.E(ragErrors.CodeIndexFailed, op, err)
		}

		after, err := db.generations.ActiveAll(ctx, ns)
		if err != nil {
			return nil, ragErrors.E(ragErrors.CodeIndexFailed, op, err)
		}
		if changed := changedDocuments(before, after, filter); len(changed) > 0 {
			log.Debug("Generation changed during query", "round", round, "documents", changed)
			continue
		}

		matches, foreign := toMatches(ns, result, after, filter)
		if foreign > 0 {
			log.Error("query returned points outside the namespace", "namespace", ns.String(),
				"count", foreign, "operator_attention", true)
		}
		if len(matches) > topK {
			matches = matches[:topK]
		}
		return matches, nil
	}
	return nil, ragErrors.Ef(ragErrors.CodeIndexFailed, op, nil, "The project's documents are being re-indexed, try again")
}

// changedDocuments lists the documents allowed by filter whose active generation differs
// between two registry reads.
func changedDocuments(before, after map[string]string, filter *vectorDB.Filter) []string {
	var changed []string
	for doc, gen := range before {
		if filter.Allows(doc) && after[doc] != gen {
			changed = append(changed, doc)
		}
	}
	for doc := range after {
		if _, seen := before[doc]; !seen && filter.Allows(doc) {
			changed = append(changed, doc)
		}
	}
	return changed
}

func (db *ClientHolder) PurgeNamespace(ctx context.Context, ns vectorDB.Namespace) error {
	const op = "qdrantDB.PurgeNamespace"
	if err := ns.Validate(); err != nil {
		return ragErrors.E(ragErrors.CodeInternal, op, err)
	}
	if err := db.deleteWhere(ctx, op, &qdrant.Filter{Must: []*qdrant.Condition{
		qdrant.NewMatch(keyNamespace, ns.String()),
	}}); err != nil {
		return err
	}
	if err := db.generations.Purge(ctx, ns); err != nil {
		return ragErrors.E(ragErrors.CodeIndexFailed, op, err)
	}
	return nil
}

func (db *ClientHolder) deleteWhere(ctx context.Context, op string, filter *qdrant.Filter) error {
	start := time.Now()
	defer func() { metrics.CaptureExecutionMetrics("vector_delete", time.Since(start)) }()

	_, err := db.QObj.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: db.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return ragErrors.E(ragErrors.CodeIndexFailed, op, err)
	}
	return nil
}

// toMatches converts hits, dropping points from other namespaces (counted in foreign),
// points outside the filter and every generation the registry does not name as active.
// Points of a document without a registry entry are unpublished or left over from a delete.
func toMatches(ns vectorDB.Namespace, hits []*qdrant.ScoredPoint, active map[string]string, filter *vectorDB.Filter) (matches []vectorDB.Match, foreign int) {
	for _, hit := range hits {
		p := hit.GetPayload()
		if p[keyNamespace].GetStringValue() != ns.String() {
			foreign++
			continue
		}
		docId := p[keyDocument].GetStringValue()
		if !filter.Allows(docId) {
			continue
		}
		gen := p[keyGeneration].GetStringValue()
		if want, ok := active[docId]; !ok || want != gen {
			continue
		}

		chunkId := hit.GetId().GetUuid()
		if chunkId == "" {
			chunkId = p[keyChunkId].GetStringValue()
		}
		matches = append(matches, vectorDB.Match{
			ChunkId: chunkId,
			Score:   hit.GetScore(),
			Chunk: commonModels.DocChunk{
				Id:             chunkId,
				DocumentId:     docId,
				ProjectId:      ns.Project(),
				Ordinal:        int(p[keyOrdinal].GetIntegerValue()),
				Text:           p[keyContent].GetStringValue(),
				PageNum:        int(p[keyPage].GetIntegerValue()),
				Generation:     gen,
				EmbeddingModel: p[keyModel].GetStringValue(),
			},
		})
	}
	vectorDB.SortMatches(matches)
	return matches, foreign
}
