package papersearch

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Multi fans a query out to several metadata sources concurrently and
// merges their results in source order, collapsing DOI duplicates. A
// failing source is logged and skipped as long as at least one source
// answered.
type Multi struct {
	sources []Client
	log     zerolog.Logger
}

func NewMulti(log zerolog.Logger, sources ...Client) *Multi {
	return &Multi{sources: sources, log: log}
}

func (m *Multi) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 20
	}

	per := make([][]Result, len(m.sources))
	errs := make([]error, len(m.sources))
	var g errgroup.Group
	for i, src := range m.sources {
		i, src := i, src
		g.Go(func() error {
			per[i], errs[i] = src.Search(ctx, query, limit)
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]struct{})
	out := make([]Result, 0, limit)
	answered := false
	for i, results := range per {
		if errs[i] != nil {
			m.log.Warn().Err(errs[i]).Int("source", i).Str("query", query).Msg("metadata source failed")
			continue
		}
		answered = true
		for _, r := range results {
			if r.DOI != "" {
				key := strings.ToLower(r.DOI)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
			}
			out = append(out, r)
		}
	}
	if !answered {
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
