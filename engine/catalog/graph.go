package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/wessley-pricing/engine/domain"
	"github.com/WessleyAI/wessley-pricing/pkg/repo"
)

// ItemLabel is the node label of inventory items.
const ItemLabel = "InventoryItem"

// GraphCatalog reads inventory items from Neo4j.
type GraphCatalog struct {
	repo repo.Repository[domain.ItemQuery, string]
	now  func() time.Time
}

// NewGraphCatalog creates a catalog over driver. database may be empty.
func NewGraphCatalog(driver neo4j.DriverWithContext, database string) *GraphCatalog {
	return newGraphCatalog(repo.NewNeo4jRepo[domain.ItemQuery, string](driver, ItemLabel, itemProps, itemFromRecord,
		repo.WithDatabase[domain.ItemQuery, string](database)))
}

func newGraphCatalog(r repo.Repository[domain.ItemQuery, string]) *GraphCatalog {
	return &GraphCatalog{repo: r, now: time.Now}
}

// Connect opens a Neo4j driver and verifies connectivity.
func Connect(ctx context.Context, uri, user, password string) (neo4j.DriverWithContext, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return driver, nil
}

func (g *GraphCatalog) Item(ctx context.Context, id string) (domain.ItemQuery, error) {
	it, err := g.repo.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return it, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
	}
	return it, err
}

func (g *GraphCatalog) Items(ctx context.Context, opts ListOpts) ([]domain.ItemQuery, error) {
	filter := map[string]any{}
	if opts.Make != "" {
		filter["make"] = domain.Vehicle{Make: opts.Make}.Canonical().Make
	}
	if opts.Category != "" {
		filter["category"] = opts.Category
	}
	return g.repo.List(ctx, repo.ListOpts{Offset: opts.Offset, Limit: opts.Limit, Filter: filter, OrderBy: "id"})
}

func (g *GraphCatalog) SyncPrice(ctx context.Context, id string, a domain.MarketAnalysis) error {
	price, _ := a.RecommendedPrice.Float64()
	err := g.repo.Patch(ctx, id, map[string]any{
		"recommendedPrice": price,
		"priceConfidence":  int64(a.Confidence),
		"priceSyncedAt":    g.now().UTC().Format(time.RFC3339),
	})
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
	}
	return err
}

// Upsert writes an item node, for seeding.
func (g *GraphCatalog) Upsert(ctx context.Context, it domain.ItemQuery) error {
	_, err := g.repo.Upsert(ctx, it)
	return err
}

func itemProps(it domain.ItemQuery) map[string]any {
	v := it.Vehicle.Canonical()
	return map[string]any{
		"id":         it.ItemID,
		"name":       it.Name,
		"category":   it.Category,
		"year":       int64(v.Year),
		"make":       v.Make,
		"model":      v.Model,
		"trim":       v.Trim,
		"engine":     v.Engine,
		"drivetrain": v.Drivetrain,
	}
}

func itemFromRecord(rec *neo4j.Record) (domain.ItemQuery, error) {
	if len(rec.Values) == 0 {
		return domain.ItemQuery{}, errors.New("empty record")
	}
	var props map[string]any
	switch n := rec.Values[0].(type) {
	case neo4j.Node:
		props = n.Props
	case map[string]any:
		props = n
	default:
		return domain.ItemQuery{}, fmt.Errorf("unexpected %T in item record", rec.Values[0])
	}
	str := func(k string) string { s, _ := props[k].(string); return s }
	year, _ := props["year"].(int64)
	return domain.ItemQuery{
		ItemID:   str("id"),
		Name:     str("name"),
		Category: str("category"),
		Vehicle: domain.Vehicle{
			Year:       int(year),
			Make:       str("make"),
			Model:      str("model"),
			Trim:       str("trim"),
			Engine:     str("engine"),
			Drivetrain: str("drivetrain"),
		},
	}, nil
}
