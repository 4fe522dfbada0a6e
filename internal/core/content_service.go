package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"gwi.com/cited-answers/internal/metrics"
	"gwi.com/cited-answers/internal/resolver"
	"gwi.com/cited-answers/internal/store"
)

var ErrContentNotFound = errors.New("citation content not found")

const (
	searchTimeout   = 10 * time.Second
	maxSearchBodyMB = 4
)

// DocumentLookup is the part of the store citation content is read from.
type DocumentLookup interface {
	GetDocumentByURL(url string) (*store.Document, error)
}

// ContentService returns the full text behind a citation url. Documents ingested
// locally are served from the store; other urls under the search endpoint are fetched
// with the search key.
type ContentService struct {
	docs     DocumentLookup
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger

	group singleflight.Group
}

func NewContentService(docs DocumentLookup, searchEndpoint, searchAPIKey string, logger *zap.Logger) *ContentService {
	return &ContentService{
		docs:     docs,
		endpoint: strings.TrimRight(searchEndpoint, "/"),
		apiKey:   searchAPIKey,
		client:   &http.Client{Timeout: searchTimeout},
		logger:   logger,
	}
}

// FetchContent implements resolver.Fetcher. Concurrent lookups of the same url share
// one request. The shared request is detached from any single caller's cancellation and
// bounded by the search timeout; each caller stops waiting when its own ctx is done.
func (s *ContentService) FetchContent(ctx context.Context, url, title string) (resolver.Content, error) {
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(url, func() (interface{}, error) {
		return s.lookup(shared, url)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return resolver.Content{}, ctx.Err()
	}
	if res.Err != nil {
		return resolver.Content{}, res.Err
	}
	doc := res.Val.(resolver.Content)
	if title != "" {
		doc.Title = title
	}
	return doc, nil
}

func (s *ContentService) lookup(ctx context.Context, url string) (resolver.Content, error) {
	doc, err := s.docs.GetDocumentByURL(url)
	if err != nil {
		return resolver.Content{}, fmt.Errorf("failed to look up document: %w", err)
	}
	if doc != nil {
		metrics.ContentLookups.WithLabelValues("store").Inc()
		return resolver.Content{Content: doc.Content, Title: doc.Title}, nil
	}

	if s.endpoint == "" || !strings.HasPrefix(url, s.endpoint+"/") {
		metrics.ContentLookups.WithLabelValues("miss").Inc()
		return resolver.Content{}, ErrContentNotFound
	}

	content, err := s.fetchFromSearch(ctx, url)
	if err != nil {
		metrics.ContentLookups.WithLabelValues("error").Inc()
		return resolver.Content{}, err
	}
	metrics.ContentLookups.WithLabelValues("search").Inc()
	return resolver.Content{Content: content}, nil
}

func (s *ContentService) fetchFromSearch(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrContentNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search service returned status %d", resp.StatusCode)
	}

	var payload struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSearchBodyMB<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode search response: %w", err)
	}
	s.logger.Debug("Fetched citation content from search", zap.String("url", url), zap.Int("bytes", len(payload.Content)))
	return payload.Content, nil
}
