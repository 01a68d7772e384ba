package dedup

import (
	"fmt"
	"strings"
)

const clusterInstructions = `You are a news deduplication engine. Below is a numbered list of articles gathered from several newsletters. Group together the articles that cover the same underlying story.

Your output must be ONLY a single valid JSON object of the form:
{"clusters": [["item_0", "item_3"], ["item_1"], ...]}

Rules:
- Every id you output must come from the list below.
- Two articles belong in one cluster only when they describe the same event or announcement, not merely the same broad topic.
- Articles with no duplicate go in a cluster by themselves.`

func buildClusterPrompt(items []Item) string {
	var sb strings.Builder
	sb.WriteString(clusterInstructions)
	sb.WriteString("\n\n[Articles]\n")
	for i, it := range items {
		// Lightweight projection: id plus title/summary text only.
		text := it.Title
		if it.Summary != "" {
			text += " — " + it.Summary
		}
		fmt.Fprintf(&sb, "item_%d: %s\n", i, text)
	}
	return sb.String()
}

const mergeInstructions = `You are a news merging engine. The articles below all cover the same story, reported by different newsletters. Produce ONE merged article.

Your output must be ONLY a single valid JSON object with these fields:
- "title": a combined headline (required)
- "summary": a short summary combining the coverage
- "link": the most authoritative link among the inputs
- "date": the earliest date among the inputs`

func buildMergePrompt(members []Item) string {
	var sb strings.Builder
	sb.WriteString(mergeInstructions)
	sb.WriteString("\n\n[Articles]\n")
	for i, it := range members {
		fmt.Fprintf(&sb, "%d. title: %s\n   date: %s\n   summary: %s\n   link: %s\n", i+1, it.Title, it.Date, it.Summary, it.Link)
	}
	return sb.String()
}
