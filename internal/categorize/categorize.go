// Package categorize assigns spending categories to transactions with
// Gemini. The model sees only descriptions and amount signs, returns strict
// JSON, and is constrained to a fixed taxonomy; anything off-taxonomy is
// mapped to Uncategorized.
package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/finfolio-app/finfolio/internal/model"
)

// DefaultModelName is the Gemini model used for categorization.
const DefaultModelName = "gemini-2.0-flash"

// DefaultTaxonomy is used when no custom category list is configured.
var DefaultTaxonomy = []string{
	"Income",
	"Housing",
	"Groceries",
	"Dining",
	"Transportation",
	"Utilities",
	"Healthcare",
	"Entertainment",
	"Shopping",
	"Travel",
	"Fees",
	"Transfers",
	"Uncategorized",
}

// Gemini categorizes transactions through the GenAI API.
type Gemini struct {
	client   *genai.Client
	model    string
	taxonomy []string
	log      zerolog.Logger
}

// NewGemini creates a categorizer. The API key is taken from the environment
// by the genai client (GEMINI_API_KEY / GOOGLE_API_KEY). An empty taxonomy
// falls back to DefaultTaxonomy; an empty modelName to DefaultModelName.
func NewGemini(ctx context.Context, modelName string, taxonomy []string, log zerolog.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("categorize: create genai client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultModelName
	}
	if len(taxonomy) == 0 {
		taxonomy = DefaultTaxonomy
	}
	return &Gemini{client: client, model: modelName, taxonomy: taxonomy, log: log}, nil
}

type modelAssignment struct {
	Index    int    `json:"index"`
	Category string `json:"category"`
}

// Categorize assigns a category to each transaction in place. Transactions
// that already carry a non-default category keep it.
func (g *Gemini) Categorize(ctx context.Context, txns []*model.Transaction) error {
	indexes := make([]int, 0, len(txns))
	for i, t := range txns {
		if t.Category == "" || t.Category == "Income" || t.Category == "Expense" {
			indexes = append(indexes, i)
		}
	}
	if len(indexes) == 0 {
		return nil
	}

	prompt := g.buildPrompt(txns, indexes)
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return fmt.Errorf("categorize: generate content: %w", err)
	}
	rawText := resp.Text()
	if rawText == "" {
		return fmt.Errorf("categorize: empty response from model")
	}

	var assignments []modelAssignment
	clean := cleanModelJSON(rawText)
	if err := json.Unmarshal([]byte(clean), &assignments); err != nil {
		return fmt.Errorf("categorize: unmarshal JSON: %w\nraw response: %s", err, rawText)
	}

	allowed := make(map[string]bool, len(g.taxonomy))
	for _, c := range g.taxonomy {
		allowed[c] = true
	}
	assigned := 0
	for _, a := range assignments {
		if a.Index < 0 || a.Index >= len(txns) {
			continue
		}
		category := a.Category
		if !allowed[category] {
			g.log.Warn().Str("category", category).Msg("model returned off-taxonomy category")
			category = "Uncategorized"
		}
		txns[a.Index].Category = category
		assigned++
	}

	g.log.Info().Int("requested", len(indexes)).Int("assigned", assigned).Msg("transactions categorized")
	return nil
}

func (g *Gemini) buildPrompt(txns []*model.Transaction, indexes []int) string {
	var b strings.Builder
	b.WriteString("You are a transaction categorizer for personal and small-business finances.\n\n")
	b.WriteString("Task:\n")
	b.WriteString("- Assign a category to EVERY transaction listed below.\n")
	b.WriteString("- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n")
	b.WriteString("- Output a JSON array of objects: {\"index\": number, \"category\": string}.\n\n")

	b.WriteString("Use ONLY the following categories (case-sensitive):\n")
	for _, c := range g.taxonomy {
		b.WriteString("  - " + c + "\n")
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- Positive amounts are money IN, negative amounts money OUT.\n")
	b.WriteString("- If you are unsure, use \"Uncategorized\".\n")
	b.WriteString("- Return ONLY valid raw JSON.\n")
	b.WriteString("- Do NOT wrap the response in code fences.\n")
	b.WriteString("- Output must begin with \"[\" and end with \"]\".\n\n")

	b.WriteString("Transactions:\n")
	for _, i := range indexes {
		t := txns[i]
		direction := "out"
		if t.Amount.Sign() >= 0 {
			direction = "in"
		}
		fmt.Fprintf(&b, "%d. %q (money %s)\n", i, t.Description, direction)
	}
	return b.String()
}

// cleanModelJSON strips Markdown fences and surrounding junk when the model
// ignores the raw-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	// Keep only from the first '[' to the last ']' if junk remains.
	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
