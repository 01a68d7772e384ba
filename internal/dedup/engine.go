// Package dedup collapses overlapping coverage across newsletter sources
// with a two-phase map-reduce over an LLM: one clustering call groups items
// describing the same story, then one merge call per multi-member cluster
// produces a single representative.
//
// The engine is fail-safe rather than fail-fast: a flaky LLM can only cost
// missed deduplication, never items. Every input item is represented in the
// output exactly once, directly or through a merge.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/digestd/internal/llm"
)

// MergedSourceType is the source_type stamped on merged records.
const MergedSourceType = "digest"

// Item is one structured article entering or leaving deduplication.
type Item struct {
	Date       string `json:"date"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Link       string `json:"link"`
	SourceType string `json:"source_type"`
}

// Engine runs the map-reduce deduplication.
type Engine struct {
	client llm.Client
	logger *slog.Logger
}

// NewEngine creates an Engine backed by the given LLM client.
func NewEngine(client llm.Client) *Engine {
	return &Engine{client: client, logger: slog.Default()}
}

// Deduplicate returns the input with duplicate coverage merged. Output length
// never exceeds input length; order follows cluster-processing order. With
// zero or one item the input comes back untouched and no LLM call is made.
// If the clustering call itself fails, the input is returned verbatim.
func (e *Engine) Deduplicate(ctx context.Context, items []Item) []Item {
	if len(items) <= 1 {
		return items
	}

	clusters, err := e.cluster(ctx, items)
	if err != nil {
		e.logger.Warn("clustering call failed, skipping deduplication", "error", err)
		return items
	}

	out := make([]Item, 0, len(items))
	for _, cluster := range clusters {
		if len(cluster) == 1 {
			// Singletons pass through unchanged, no merge call.
			out = append(out, items[cluster[0]])
			continue
		}
		members := make([]Item, len(cluster))
		for i, idx := range cluster {
			members[i] = items[idx]
		}
		out = append(out, e.merge(ctx, members))
	}
	return out
}

// cluster issues the single map-phase call and parses its response into
// index clusters covering every input exactly once. Only a failed call is an
// error; unusable output degrades to all-singleton clusters.
func (e *Engine) cluster(ctx context.Context, items []Item) ([][]int, error) {
	raw, err := e.client.Complete(ctx, buildClusterPrompt(items), true)
	if err != nil {
		return nil, err
	}
	return e.parseClusters(raw, len(items)), nil
}

func (e *Engine) parseClusters(raw string, n int) [][]int {
	covered := make([]bool, n)
	var out [][]int

	var resp struct {
		Clusters []json.RawMessage `json:"clusters"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &resp); err != nil {
		e.logger.Warn("unparsable clustering response, treating every item as singleton", "error", err)
	} else {
		for _, rawCluster := range resp.Clusters {
			var ids []string
			if err := json.Unmarshal(rawCluster, &ids); err != nil {
				e.logger.Warn("dropping invalid cluster", "cluster", string(rawCluster), "error", err)
				continue
			}
			var cluster []int
			for _, id := range ids {
				idx, ok := parseItemID(id, n)
				if !ok {
					e.logger.Warn("dropping unknown item id in cluster", "id", id)
					continue
				}
				if covered[idx] {
					// An id may appear in one cluster only; later mentions lose.
					continue
				}
				covered[idx] = true
				cluster = append(cluster, idx)
			}
			if len(cluster) > 0 {
				out = append(out, cluster)
			}
		}
	}

	// Safety net: every item the response left uncovered becomes its own
	// singleton cluster, so incomplete output never drops items.
	for i, done := range covered {
		if !done {
			out = append(out, []int{i})
		}
	}
	return out
}

// parseItemID maps a synthetic "item_N" id back to its input index.
func parseItemID(id string, n int) (int, bool) {
	var idx int
	if _, err := fmt.Sscanf(id, "item_%d", &idx); err != nil {
		return 0, false
	}
	if idx < 0 || idx >= n {
		return 0, false
	}
	return idx, true
}

// merge issues one reduce-phase call for a multi-member cluster. Any failure
// (call error, bad JSON, missing title) falls back to the cluster's first
// member verbatim. Fields absent from a valid response are back-filled from
// the first member.
func (e *Engine) merge(ctx context.Context, members []Item) Item {
	first := members[0]

	raw, err := e.client.Complete(ctx, buildMergePrompt(members), true)
	if err != nil {
		e.logger.Warn("merge call failed, keeping first cluster member", "error", err)
		return first
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &fields); err != nil {
		e.logger.Warn("unparsable merge response, keeping first cluster member", "error", err)
		return first
	}

	title := strings.TrimSpace(stringField(fields, "title"))
	if title == "" {
		e.logger.Warn("merge response missing title, keeping first cluster member")
		return first
	}

	merged := Item{
		Title:      title,
		Summary:    strings.TrimSpace(stringField(fields, "summary")),
		Link:       strings.TrimSpace(stringField(fields, "link")),
		Date:       strings.TrimSpace(stringField(fields, "date")),
		SourceType: MergedSourceType,
	}
	if merged.Summary == "" {
		merged.Summary = first.Summary
	}
	if merged.Link == "" {
		merged.Link = first.Link
	}
	if merged.Date == "" {
		merged.Date = first.Date
	}
	return merged
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
