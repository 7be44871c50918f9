package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"delphiscope/internal/model"
)

// MetadataFetcher resolves a market's config URI to its metadata document.
// Fetch failures are non-fatal to market creation; callers log and continue.
type MetadataFetcher interface {
	Fetch(ctx context.Context, configURI string) (*model.MarketMetadata, error)
}

// HTTPMetadataFetcher fetches metadata over HTTP, rewriting ipfs:// URIs to a
// gateway URL.
type HTTPMetadataFetcher struct {
	client  *http.Client
	gateway string
}

func NewHTTPMetadataFetcher(gateway string, timeout time.Duration) *HTTPMetadataFetcher {
	if gateway == "" {
		gateway = "https://ipfs.io/ipfs/"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPMetadataFetcher{
		client:  &http.Client{Timeout: timeout},
		gateway: gateway,
	}
}

// metadataDoc tolerates the field aliases seen in published configs.
type metadataDoc struct {
	Title       string              `json:"title"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Category    string              `json:"category"`
	EndTime     string              `json:"endTime"`
	Models      []model.MarketModel `json:"models"`
	Options     []model.MarketModel `json:"options"`
}

func (f *HTTPMetadataFetcher) Fetch(ctx context.Context, configURI string) (*model.MarketMetadata, error) {
	url := configURI
	if strings.HasPrefix(configURI, "ipfs://") {
		url = f.gateway + strings.TrimPrefix(configURI, "ipfs://")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch metadata: status %d", resp.StatusCode)
	}

	var doc metadataDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}

	meta := &model.MarketMetadata{
		Title:       doc.Title,
		Description: doc.Description,
		Category:    doc.Category,
		Models:      doc.Models,
	}
	if meta.Title == "" {
		meta.Title = doc.Name
	}
	if len(meta.Models) == 0 {
		meta.Models = doc.Options
	}
	if doc.EndTime != "" {
		if endTime, err := time.Parse(time.RFC3339, doc.EndTime); err == nil {
			utc := endTime.UTC()
			meta.EndTime = &utc
		}
	}

	return meta, nil
}
