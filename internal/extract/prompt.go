package extract

import "fmt"

// defaultPrompt is used for senders without a configured override.
const defaultPrompt = `You are a newsletter parsing engine. The input below is the plain-text rendering of a single newsletter email. Identify every distinct article or story it covers.

Your output must be ONLY a single valid JSON array. Each element is an object with these fields:
- "title": the article headline (required)
- "date": publication date if mentioned, any format, else ""
- "summary": one or two sentences describing the article
- "link": the article URL if present, else ""

Do not include any other text, prose, or markdown. Do not invent articles that are not in the input. Skip sponsorship blurbs, unsubscribe footers and job ads.`

// ResolvePrompt returns the sender-specific extraction prompt when one is
// configured, else the default.
func ResolvePrompt(overrides map[string]string, sender string) string {
	if p, ok := overrides[sender]; ok && p != "" {
		return p
	}
	return defaultPrompt
}

// BuildPrompt appends the newsletter content to the instruction prompt.
func BuildPrompt(instructions, content string) string {
	return fmt.Sprintf("%s\n\n[Newsletter content]\n%s", instructions, content)
}
