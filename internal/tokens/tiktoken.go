package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TiktokenCounter counts tokens with tiktoken encodings. OpenAI models use
// their own encoding; every other model is counted with cl100k_base.
type TiktokenCounter struct {
	mu    sync.RWMutex
	cache map[tokenizer.Encoding]tokenizer.Codec
}

// NewTiktokenCounter creates a counter.
func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{cache: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

// SupportsModel returns true for every model.
func (c *TiktokenCounter) SupportsModel(model string) bool {
	return true
}

// CountText counts the tokens of text.
func (c *TiktokenCounter) CountText(model, text string) (int, error) {
	codec, err := c.codec(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (c *TiktokenCounter) codec(model string) (tokenizer.Codec, error) {
	name := bareModel(model)
	if isOpenAIModel(model) {
		if codec, err := tokenizer.ForModel(mapModelName(name)); err == nil {
			return codec, nil
		}
	}

	encoding := modelToEncoding(model)

	c.mu.RLock()
	cached, ok := c.cache[encoding]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}

	c.mu.Lock()
	c.cache[encoding] = codec
	c.mu.Unlock()
	return codec, nil
}

// bareModel strips a "provider/" prefix.
func bareModel(model string) string {
	if i := strings.LastIndex(model, "/"); i >= 0 {
		return model[i+1:]
	}
	return model
}

func isOpenAIModel(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "openai") || strings.Contains(m, "gpt-")
}

func mapModelName(model string) tokenizer.Model {
	model = strings.ToLower(model)

	switch {
	case model == "gpt-5-mini" || strings.HasPrefix(model, "gpt-5-mini-"):
		return tokenizer.GPT5Mini
	case model == "gpt-5-nano" || strings.HasPrefix(model, "gpt-5-nano-"):
		return tokenizer.GPT5Nano
	case strings.HasPrefix(model, "gpt-5"):
		return tokenizer.GPT5
	case strings.HasPrefix(model, "gpt-4.1"):
		return tokenizer.GPT41
	case strings.HasPrefix(model, "gpt-4o"):
		return tokenizer.GPT4o
	case strings.HasPrefix(model, "gpt-4"):
		return tokenizer.GPT4
	case strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.GPT35Turbo
	default:
		return tokenizer.Model(model)
	}
}

// modelToEncoding picks the encoding when no model-specific codec exists.
//
//   - O200kBase: gpt-5, gpt-4.1, gpt-4o
//   - Cl100kBase: gpt-4, gpt-3.5 and every non-OpenAI model
func modelToEncoding(model string) tokenizer.Encoding {
	if !isOpenAIModel(model) {
		return tokenizer.Cl100kBase
	}
	m := strings.ToLower(bareModel(model))
	switch {
	case strings.HasPrefix(m, "gpt-5"), strings.HasPrefix(m, "gpt-4.1"), strings.Contains(m, "4o"):
		return tokenizer.O200kBase
	default:
		return tokenizer.Cl100kBase
	}
}
