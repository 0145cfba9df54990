// Package catalog keeps a periodically refreshed, read-only snapshot of the
// product list used by the /start card and operator annotations.
package catalog

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"github.com/m3rciful/relaybot/core/logger"
)

// ErrEmptyRefresh is returned when a source yields no products while the
// cache already holds some.
var ErrEmptyRefresh = errors.New("catalog: refresh returned no products")

// Product is one catalog row.
type Product struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Price string `yaml:"price"`
	URL   string `yaml:"url"`
	Photo string `yaml:"photo"`
}

// Source loads the full product list.
type Source interface {
	Fetch(ctx context.Context) ([]Product, error)
}

type snapshot struct {
	byID     map[string]Product
	digest   string
	loadedAt time.Time
}

// Cache serves lookups from the last good snapshot. A failed refresh keeps
// the previous snapshot in place.
type Cache struct {
	source   Source
	name     string
	interval time.Duration
	snap     atomic.Pointer[snapshot]
}

// NewCache builds an empty cache over src. name is used in logs only.
func NewCache(name string, src Source, interval time.Duration) *Cache {
	if interval <= 0 {
		interval = time.Hour
	}
	c := &Cache{source: src, name: name, interval: interval}
	c.snap.Store(&snapshot{byID: map[string]Product{}})
	return c
}

// Lookup returns the product with the given id. A nil cache finds nothing.
func (c *Cache) Lookup(id string) (Product, bool) {
	if c == nil {
		return Product{}, false
	}
	p, ok := c.snap.Load().byID[normalizeID(id)]
	return p, ok
}

// Len returns the number of products in the current snapshot.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.snap.Load().byID)
}

// LoadedAt returns when the current snapshot was fetched; zero before the
// first successful refresh.
func (c *Cache) LoadedAt() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.snap.Load().loadedAt
}

// Digest identifies the snapshot content; it is empty before the first
// successful refresh and only changes when a product does.
func (c *Cache) Digest() string {
	if c == nil {
		return ""
	}
	return c.snap.Load().digest
}

// digest hashes the products in id order so that row order in the source
// does not matter.
func digest(byID map[string]Product) string {
	h := blake3.New()
	for _, id := range slices.Sorted(maps.Keys(byID)) {
		p := byID[id]
		for _, f := range []string{p.ID, p.Title, p.Price, p.URL, p.Photo} {
			_, _ = h.Write([]byte(f))
			_, _ = h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// Refresh fetches the source once and swaps the snapshot on success.
func (c *Cache) Refresh(ctx context.Context) error {
	start := time.Now()
	products, err := c.source.Fetch(ctx)
	if err == nil && len(products) == 0 && c.Len() > 0 {
		err = ErrEmptyRefresh
	}
	if err != nil {
		logger.Error(ctx, "catalog", "catalog.refresh",
			slog.String("status", "fail"),
			slog.String("source", c.name),
			slog.Int("products", c.Len()),
			slog.String("err", err.Error()),
		)
		return err
	}

	byID := make(map[string]Product, len(products))
	for _, p := range products {
		id := normalizeID(p.ID)
		if id == "" {
			continue
		}
		p.ID = id
		byID[id] = p
	}
	next := &snapshot{byID: byID, digest: digest(byID), loadedAt: time.Now()}
	changed := next.digest != c.Digest()
	c.snap.Store(next)
	logger.Info(ctx, "catalog", "catalog.refresh",
		slog.String("status", "ok"),
		slog.String("cache", "refresh"),
		slog.String("source", c.name),
		slog.Int("products", len(byID)),
		slog.String("digest", next.digest),
		slog.Bool("changed", changed),
		slog.Int64("duration_ms", logger.RoundMS(time.Since(start)).Milliseconds()),
	)
	return nil
}

// Run refreshes immediately and then on every interval until ctx is done.
func (c *Cache) Run(ctx context.Context) {
	_ = c.Refresh(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}

func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	// spreadsheet exports render integer ids of numeric columns as "123.0"
	if head, tail, ok := strings.Cut(id, "."); ok && strings.Trim(tail, "0") == "" && head != "" {
		return head
	}
	return id
}

func errStatus(resp string, code int) error {
	return fmt.Errorf("catalog: unexpected response %s (%d)", resp, code)
}
