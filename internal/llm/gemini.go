package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

const statementPrompt = `You are a financial statement parser for credit-card and bank statements.

Task:
- Parse ALL transactions in the statement text below.
- Output STRICT JSON only (no comments, no trailing commas, no extra text).
- Output a JSON array of objects.

Each object must have these fields:
- "date": string, ISO format "YYYY-MM-DD"
- "amount": number (positive for money in, negative for money out)
- "description": string
- "category": string or null (best-effort spending category)

Rules:
- If the statement has separate debit/credit columns, convert to a single signed "amount".
- Never invent transactions; omit lines you cannot read.
- Return ONLY valid raw JSON. Do NOT wrap the response in code fences.
- Output must begin with "[" and end with "]".

Statement text:
`

// GeminiParser implements Parser on top of Google's Gemini models.
type GeminiParser struct {
	model string
}

// NewGeminiParser creates a parser using the given model name. Credentials
// come from the environment (GEMINI_API_KEY or ADC).
func NewGeminiParser(model string) *GeminiParser {
	return &GeminiParser{model: model}
}

// ParseStatement implements Parser. It is attempted exactly once per call;
// a malformed or empty model response is returned as an error, not retried.
func (p *GeminiParser) ParseStatement(ctx context.Context, text string) ([]Transaction, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: statementPrompt + text},
			},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("empty response from model")
	}
	return decodeTransactions(raw)
}

type rawTransaction struct {
	Date        string      `json:"date"`
	Amount      json.Number `json:"amount"`
	Description string      `json:"description"`
	Category    *string     `json:"category"`
}

// decodeTransactions parses the model's JSON array into typed transactions.
// Every row must decode cleanly; one bad element fails the whole response,
// since partial trust in unverified model output is worse than a visible
// stage failure.
func decodeTransactions(raw string) ([]Transaction, error) {
	clean := stripFences(raw)

	var rows []rawTransaction
	if err := json.Unmarshal([]byte(clean), &rows); err != nil {
		return nil, fmt.Errorf("model output is not a JSON transaction array: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("model returned no transactions")
	}

	result := make([]Transaction, 0, len(rows))
	for i, r := range rows {
		date, err := time.Parse("2006-01-02", r.Date)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: invalid date %q", i, r.Date)
		}
		if r.Amount == "" {
			return nil, fmt.Errorf("transaction %d: missing amount", i)
		}
		amount, err := decimal.NewFromString(r.Amount.String())
		if err != nil {
			return nil, fmt.Errorf("transaction %d: invalid amount %q", i, r.Amount)
		}
		desc := strings.TrimSpace(r.Description)
		if desc == "" {
			return nil, fmt.Errorf("transaction %d: missing description", i)
		}

		tx := Transaction{Date: date, Amount: amount, Description: desc}
		if r.Category != nil {
			tx.Category = strings.TrimSpace(*r.Category)
		}
		result = append(result, tx)
	}
	return result, nil
}

// stripFences removes Markdown code fences and surrounding junk when the
// model ignores the raw-JSON instruction.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	// Keep only the outermost array if extra prose slipped through.
	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}

var _ Parser = (*GeminiParser)(nil)
