// Package categorize suggests a category label for a transaction description
// using a generative model.
package categorize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dvloznov/pocketpilot/internal/domain"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// DefaultModelName is used when no model is configured.
const DefaultModelName = "gemini-2.5-flash"

// Model generates a text completion for a prompt.
type Model interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenAIModel calls Gemini through the genai SDK. Credentials come from the
// environment (GOOGLE_API_KEY or application default credentials).
type GenAIModel struct {
	client *genai.Client
	name   string
}

// NewGenAIModel creates a model client for name.
func NewGenAIModel(ctx context.Context, name string) (*GenAIModel, error) {
	if name == "" {
		name = DefaultModelName
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGenAIModel: create genai client: %w", err)
	}
	return &GenAIModel{client: client, name: name}, nil
}

// Generate implements Model.
func (m *GenAIModel) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := m.client.Models.GenerateContent(ctx, m.name, contents, nil)
	if err != nil {
		return "", fmt.Errorf("Generate: generate content: %w", err)
	}
	return resp.Text(), nil
}

// Suggester maps descriptions to one of the known category labels.
type Suggester struct {
	model Model
	log   zerolog.Logger
}

// NewSuggester creates a suggester backed by model.
func NewSuggester(model Model, log zerolog.Logger) *Suggester {
	return &Suggester{model: model, log: log.With().Str("component", "categorize").Logger()}
}

type suggestion struct {
	Category string `json:"category"`
}

// Suggest returns the category the model picks for description. Answers
// outside the label set, and empty descriptions, yield the default category.
func (s *Suggester) Suggest(ctx context.Context, description string, t domain.TransactionType) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return domain.DefaultCategory, nil
	}
	if !t.Valid() {
		t = domain.TransactionExpense
	}
	labels := domain.CategoriesFor(t)

	raw, err := s.model.Generate(ctx, buildPrompt(description, t, labels))
	if err != nil {
		return "", fmt.Errorf("Suggest: %w", err)
	}
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("Suggest: empty response from model")
	}

	var out suggestion
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &out); err != nil {
		s.log.Warn().Err(err).Str("raw", raw).Msg("Unparseable model answer, using default category")
		return domain.DefaultCategory, nil
	}

	if label, ok := matchLabel(out.Category, labels); ok {
		return label, nil
	}
	s.log.Debug().Str("answer", out.Category).Msg("Model answered an unknown category")
	return domain.DefaultCategory, nil
}

func buildPrompt(description string, t domain.TransactionType, labels []string) string {
	kind := "gasto"
	if t == domain.TransactionIncome {
		kind = "ingreso"
	}

	var b strings.Builder
	b.WriteString("You categorize personal finance transactions.\n\n")
	fmt.Fprintf(&b, "Transaction type: %s\n", kind)
	fmt.Fprintf(&b, "Description: %q\n\n", description)
	b.WriteString("Pick exactly one category from this list:\n")
	for _, l := range labels {
		fmt.Fprintf(&b, "- %s\n", l)
	}
	b.WriteString("\nReturn ONLY a raw JSON object of the form {\"category\": \"<one of the categories>\"}.\n")
	b.WriteString("Do NOT wrap the response in code fences.\n")
	return b.String()
}

// matchLabel compares case-insensitively and returns the canonical label.
func matchLabel(answer string, labels []string) (string, bool) {
	norm := normalizeCategory(answer)
	for _, l := range labels {
		if normalizeCategory(l) == norm {
			return l, true
		}
	}
	return "", false
}

func normalizeCategory(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// cleanModelJSON strips Markdown fences and any text around the JSON object.
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

	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

var _ Model = (*GenAIModel)(nil)
