// ABOUTME: Knowledge-base retrieval over per-chatbot vector collections
// ABOUTME: Embeds documents via an OpenAI-compatible endpoint into chromem-go

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/sashabaranov/go-openai"
)

// Embedder is the slice of the OpenAI client used for embeddings.
// *openai.Client satisfies it.
type Embedder interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Index holds one vector collection per chatbot, so retrieval is always
// scoped to the bot that owns the conversation.
type Index struct {
	db       *chromem.DB
	embedder Embedder
	model    string
	logger   *slog.Logger

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewIndex creates an index. persistPath of "" keeps everything in
// memory; otherwise collections are persisted under that directory.
func NewIndex(embedder Embedder, model, persistPath string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var db *chromem.DB
	if persistPath == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("opening vector store at %s: %w", persistPath, err)
		}
	}
	return &Index{
		db:          db,
		embedder:    embedder,
		model:       model,
		logger:      logger.With("component", "retrieval"),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (ix *Index) embedding() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		resp, err := ix.embedder.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: []string{text},
			Model: openai.EmbeddingModel(ix.model),
		})
		if err != nil {
			return nil, fmt.Errorf("embedding text: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("embedding service returned no vectors")
		}
		return resp.Data[0].Embedding, nil
	}
}

func (ix *Index) collection(chatbotID string) (*chromem.Collection, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if c, ok := ix.collections[chatbotID]; ok {
		return c, nil
	}
	c, err := ix.db.GetOrCreateCollection("kb-"+chatbotID, nil, ix.embedding())
	if err != nil {
		return nil, fmt.Errorf("opening collection for chatbot %s: %w", chatbotID, err)
	}
	ix.collections[chatbotID] = c
	return c, nil
}

// Add embeds one document into the chatbot's collection.
func (ix *Index) Add(ctx context.Context, chatbotID, docID, content string) error {
	if content == "" {
		return fmt.Errorf("empty document")
	}
	c, err := ix.collection(chatbotID)
	if err != nil {
		return err
	}
	return c.AddDocuments(ctx, []chromem.Document{
		{ID: docID, Content: content},
	}, runtime.NumCPU())
}

// SimilarChunks returns up to k documents from the chatbot's collection
// ranked by similarity to query. An empty collection yields no chunks
// rather than an error.
func (ix *Index) SimilarChunks(ctx context.Context, chatbotID, query string, k int) ([]string, error) {
	c, err := ix.collection(chatbotID)
	if err != nil {
		return nil, err
	}
	count := c.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}
	results, err := c.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection for chatbot %s: %w", chatbotID, err)
	}
	chunks := make([]string, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, r.Content)
	}
	return chunks, nil
}
