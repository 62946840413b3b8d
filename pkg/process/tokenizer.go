package process

import (
	"sync"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

var (
	defaultCodec tokenizer.Codec
	codecMu      sync.RWMutex
	initialized  bool
)

// InitTokenizer initializes the shared tokenizer with the named encoding ("cl100k_base" when empty).
func InitTokenizer(encoding string) error {
	codecMu.Lock()
	defer codecMu.Unlock()

	var enc tokenizer.Encoding
	switch encoding {
	case "p50k_base":
		enc = tokenizer.P50kBase
	case "r50k_base":
		enc = tokenizer.R50kBase
	case "o200k_base":
		enc = tokenizer.O200kBase
	default:
		enc = tokenizer.Cl100kBase
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return err
	}
	defaultCodec = codec
	initialized = true
	return nil
}

// CountTokens returns the token count for text, or an estimate when the tokenizer
// is not initialized or fails to encode.
func CountTokens(text string) int {
	codecMu.RLock()
	defer codecMu.RUnlock()

	if !initialized || defaultCodec == nil {
		return estimateTokens(text)
	}

	ids, _, err := defaultCodec.Encode(text)
	if err != nil {
		return estimateTokens(text)
	}
	return len(ids)
}

// estimateTokens approximates four ASCII bytes per token and one token per non-ASCII rune.
// Notice bodies are mostly CJK, where a byte-based estimate would triple the count.
func estimateTokens(text string) int {
	ascii, wide := 0, 0
	for _, r := range text {
		if r < utf8.RuneSelf {
			ascii++
		} else {
			wide++
		}
	}
	return ascii/4 + wide
}

// IsInitialized returns whether the tokenizer has been initialized.
func IsInitialized() bool {
	codecMu.RLock()
	defer codecMu.RUnlock()
	return initialized
}
