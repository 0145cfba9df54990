package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	"github.com/m3rciful/relaybot/core/telegram/netutil"
)

// Columns maps CSV header names to product fields.
type Columns struct {
	ID    string
	Title string
	Price string
	URL   string
	Photo string
}

// CSVSource downloads a CSV export (for example a published spreadsheet).
type CSVSource struct {
	URL     string
	Columns Columns
	Client  *http.Client
}

// Fetch implements Source.
func (s *CSVSource) Fetch(ctx context.Context) ([]Product, error) {
	client := s.Client
	if client == nil {
		client = netutil.NewRetryClient(netutil.ClientOptions{})
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, errStatus(resp.Status, resp.StatusCode)
	}
	return ParseCSV(resp.Body, s.Columns)
}

// FileSource reads a local .csv, .yaml or .yml file.
type FileSource struct {
	Path    string
	Columns Columns
}

// Fetch implements Source.
func (s *FileSource) Fetch(_ context.Context) ([]Product, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", s.Path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".yaml", ".yml":
		var products []Product
		if err := yaml.NewDecoder(f).Decode(&products); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("catalog: decode %s: %w", s.Path, err)
		}
		return products, nil
	default:
		return ParseCSV(f, s.Columns)
	}
}

// ParseCSV reads a header row followed by product rows. Only the id column
// is required; rows with an empty id are skipped.
func ParseCSV(r io.Reader, cols Columns) ([]Product, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	idCol, ok := index[cols.ID]
	if !ok {
		return nil, fmt.Errorf("catalog: id column %q not found", cols.ID)
	}
	field := func(rec []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var products []Product
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: read row: %w", err)
		}
		if idCol >= len(rec) || strings.TrimSpace(rec[idCol]) == "" {
			continue
		}
		products = append(products, Product{
			ID:    strings.TrimSpace(rec[idCol]),
			Title: field(rec, cols.Title),
			Price: field(rec, cols.Price),
			URL:   field(rec, cols.URL),
			Photo: field(rec, cols.Photo),
		})
	}
	return products, nil
}

// Open builds the cache described by cfg. It returns nil when no source is
// configured; a nil *Cache finds nothing.
func Open(cfg coreconfig.CatalogConfig, client *http.Client) (*Cache, error) {
	cols := Columns(cfg.Columns)
	switch cfg.Source {
	case "":
		return nil, nil
	case coreconfig.CatalogCSVURL:
		return NewCache(cfg.Source, &CSVSource{URL: cfg.URL, Columns: cols, Client: client}, cfg.RefreshInterval), nil
	case coreconfig.CatalogFile:
		return NewCache(cfg.Source, &FileSource{Path: cfg.Path, Columns: cols}, cfg.RefreshInterval), nil
	}
	return nil, fmt.Errorf("catalog: unsupported source %q", cfg.Source)
}
