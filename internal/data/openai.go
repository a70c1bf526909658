package data

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/biz/repo"
)

const (
	defaultLLMBaseURL = "https://api.moonshot.cn/v1"
	defaultLLMModel   = "moonshot-v1-8k"
)

const listingPrompt = `You extract vehicle listings from marketplace chat messages.
Reply with a single JSON object using these keys when present in the text:
make, model, year (number), price (number, no currency), currency, mileage (number), color, location.
Omit keys that are not in the message. Reply {} when the message is not a listing.`

// llmParser extracts product data with an OpenAI-compatible chat model
type llmParser struct {
	client *openai.Client
	model  string
}

// NewLLMParser creates a listing parser
// Returns nil when no API key is configured
func NewLLMParser(apiKey, baseURL, model string) repo.ListingParser {
	if apiKey == "" {
		return nil
	}
	if baseURL == "" {
		baseURL = defaultLLMBaseURL
	}
	if model == "" {
		model = defaultLLMModel
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL

	return &llmParser{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Parse sends the message text to the model and decodes its JSON reply
func (p *llmParser) Parse(ctx context.Context, text string) (domain.ProductData, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: listingPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
		Temperature: 0.1,
		MaxTokens:   300,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices")
	}

	return decodeProductData(resp.Choices[0].Message.Content)
}

// decodeProductData reads the model reply, tolerating code fences
func decodeProductData(content string) (domain.ProductData, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if start := strings.Index(content, "{"); start > 0 {
		content = content[start:]
	}
	if end := strings.LastIndex(content, "}"); end >= 0 && end < len(content)-1 {
		content = content[:end+1]
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}

	product := make(domain.ProductData, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		product[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return product, nil
}
