// Package memory provides optional semantic recall over past exchanges,
// backed by a local chromem vector store with embeddings from the model
// router.
package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/philippgille/chromem-go"

	"github.com/soratobu/jeeves/internal/config"
	jerrors "github.com/soratobu/jeeves/internal/errors"
	"github.com/soratobu/jeeves/internal/logger"
	"github.com/soratobu/jeeves/internal/model"
)

const collectionName = "exchanges"

// Manager embeds exchanges and recalls the closest past ones for a new
// input. It satisfies the executor's Recaller interface.
type Manager struct {
	db             *chromem.DB
	router         model.ModelRouter
	embeddingModel string
	topK           int
	minSimilarity  float32
}

func NewManager(cfg config.MemoryConfig, router model.ModelRouter, embeddingModel string) (*Manager, error) {
	embeddingModel = strings.TrimSpace(embeddingModel)
	if embeddingModel == "" {
		embeddingModel = config.DefaultModelEmbedding
	}

	var db *chromem.DB
	var err error
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, jerrors.Wrap(err, "open memory db")
		}
	} else {
		db = chromem.NewDB()
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = config.DefaultMemoryTopK
	}

	return &Manager{
		db:             db,
		router:         router,
		embeddingModel: embeddingModel,
		topK:           topK,
		minSimilarity:  cfg.MinSimilarity,
	}, nil
}

// Recall returns past exchanges semantically close to input, best first.
func (m *Manager) Recall(ctx context.Context, input string) ([]string, error) {
	embedding, err := m.router.RouteEmbedding(ctx, m.embeddingModel, input)
	if err != nil {
		return nil, jerrors.Wrap(err, "embed query")
	}

	col := m.db.GetCollection(collectionName, nil)
	if col == nil {
		return nil, nil
	}

	n := m.topK
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	docs, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, jerrors.Wrap(err, "query memory")
	}

	var facts []string
	for _, doc := range docs {
		if doc.Similarity < m.minSimilarity {
			continue
		}
		facts = append(facts, doc.Content)
	}

	logger.FromContext(ctx).Debug("Memory recalled", "count", len(facts))
	return facts, nil
}

// Remember stores one user/assistant exchange for future recall.
func (m *Manager) Remember(ctx context.Context, sessionID, input, output string) error {
	content := fmt.Sprintf("User: %s\nAssistant: %s", input, output)

	embedding, err := m.router.RouteEmbedding(ctx, m.embeddingModel, content)
	if err != nil {
		return jerrors.Wrap(err, "embed exchange")
	}

	col, err := m.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return jerrors.Wrap(err, "open memory collection")
	}

	return col.AddDocuments(ctx, []chromem.Document{{
		ID:        ulid.Make().String(),
		Metadata:  map[string]string{"session_id": sessionID},
		Embedding: embedding,
		Content:   content,
	}}, 1)
}
