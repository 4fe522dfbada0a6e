package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"

	"gwi.com/cited-answers/internal/citation"
	"gwi.com/cited-answers/internal/store"
)

const (
	NumRelevantDocuments = 3   // Number of documents passed to the model as citable sources
	SimilarityThreshold  = 0.7 // Minimum similarity score to consider a document relevant
	HistoryWindow        = 6   // Prior messages replayed to the model
)

type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Completer interface {
	GetChatCompletion(ctx context.Context, promptHistory []*genai.Content) (string, error)
}

// DocumentSource is the part of the store the RAG service reads documents from.
type DocumentSource interface {
	GetAllDocuments() ([]store.Document, error)
}

type RAGService struct {
	docs      DocumentSource
	embedder  Embedder
	completer Completer
	logger    *zap.Logger

	mu        sync.RWMutex
	documents []store.Document // In-memory cache of documents and their embeddings
}

func NewRAGService(docs DocumentSource, embedder Embedder, completer Completer, logger *zap.Logger) (*RAGService, error) {
	s := &RAGService{
		docs:      docs,
		embedder:  embedder,
		completer: completer,
		logger:    logger,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload refreshes the document cache from the store.
func (s *RAGService) Reload() error {
	documents, err := s.docs.GetAllDocuments()
	if err != nil {
		return fmt.Errorf("failed to load documents for RAG service: %w", err)
	}
	if len(documents) == 0 {
		s.logger.Warn("RAG service has no documents; answers will carry no citations until documents are ingested")
	} else {
		s.logger.Info("RAG service loaded documents", zap.Int("documents", len(documents)))
	}

	s.mu.Lock()
	s.documents = documents
	s.mu.Unlock()
	return nil
}

type ScoredDocument struct {
	Document   store.Document
	Similarity float32
}

// Retrieve returns up to NumRelevantDocuments documents above the similarity threshold,
// most similar first.
func (s *RAGService) Retrieve(ctx context.Context, query string) ([]ScoredDocument, error) {
	s.mu.RLock()
	documents := s.documents
	s.mu.RUnlock()

	if len(documents) == 0 {
		return nil, nil
	}

	queryEmbedding, err := s.embedder.GetEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get query embedding: %w", err)
	}

	scored := make([]ScoredDocument, 0, len(documents))
	for _, doc := range documents {
		if len(doc.Embedding) == 0 {
			s.logger.Debug("Skipping document without embedding", zap.Int64("document_id", doc.ID))
			continue
		}
		similarity, err := cosineSimilarity(queryEmbedding, doc.Embedding)
		if err != nil {
			s.logger.Debug("Skipping document", zap.Int64("document_id", doc.ID), zap.Error(err))
			continue
		}
		if similarity >= SimilarityThreshold {
			scored = append(scored, ScoredDocument{Document: doc, Similarity: similarity})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > NumRelevantDocuments {
		scored = scored[:NumRelevantDocuments]
	}
	return scored, nil
}

// GeneratedAnswer is model output with [docN] markers and the citation list they index.
type GeneratedAnswer struct {
	Content   string
	Citations []*citation.RawCitation
}

// GenerateResponse answers query given the prior conversation. Retrieval failures
// degrade to an uncited answer.
func (s *RAGService) GenerateResponse(ctx context.Context, history []store.Message, query string) (*GeneratedAnswer, error) {
	sources, err := s.Retrieve(ctx, query)
	if err != nil {
		s.logger.Warn("Failed to retrieve documents, proceeding without them", zap.Error(err))
		sources = nil
	}

	var prompt []*genai.Content
	for _, msg := range history {
		role := "user"
		if msg.Role == store.RoleAssistant {
			role = roleModel
		}
		prompt = append(prompt, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	prompt = append(prompt, &genai.Content{
		Role:  "user",
		Parts: []genai.Part{genai.Text(BuildPrompt(sources, query))},
	})

	content, err := s.completer.GetChatCompletion(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to get LLM completion: %w", err)
	}

	citations := make([]*citation.RawCitation, 0, len(sources))
	for i, src := range sources {
		citations = append(citations, &citation.RawCitation{
			Index:   i + 1,
			ID:      strconv.FormatInt(src.Document.ID, 10),
			Title:   src.Document.Title,
			URL:     src.Document.URL,
			Content: src.Document.Content,
		})
	}
	return &GeneratedAnswer{Content: content, Citations: citations}, nil
}

// BuildPrompt numbers the sources [doc1]..[docN] in the order their citations are stored.
func BuildPrompt(sources []ScoredDocument, query string) string {
	if len(sources) == 0 {
		return fmt.Sprintf("No documents were found for this question, so do not use any citation markers. Please answer: %s", query)
	}

	var sb strings.Builder
	sb.WriteString("Answer using the following documents. Cite them with their markers.\n\n--- DOCUMENTS START ---\n")
	for i, src := range sources {
		fmt.Fprintf(&sb, "[doc%d] %s (%s)\n%s\n\n", i+1, src.Document.Title, src.Document.URL, src.Document.Content)
	}
	sb.WriteString("--- DOCUMENTS END ---\n\nQuestion: ")
	sb.WriteString(query)
	return sb.String()
}

func cosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension")
	}

	var dot, sum1, sum2 float32
	for i := range vec1 {
		dot += vec1[i] * vec2[i]
		sum1 += vec1[i] * vec1[i]
		sum2 += vec2[i] * vec2[i]
	}
	if sum1 == 0 || sum2 == 0 {
		return 0, nil
	}
	return dot / float32(math.Sqrt(float64(sum1))*math.Sqrt(float64(sum2))), nil
}
