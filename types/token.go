package types

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens, the unit of context-window capacity.
type Tokenizer interface {
	// CountTokens counts tokens in a text string.
	CountTokens(text string) int
}

// EstimateTokenizer approximates tokens as content length divided by a
// fixed constant. It is the default used for budget accounting.
type EstimateTokenizer struct {
	charsPerToken int
}

// NewEstimateTokenizer creates an EstimateTokenizer with the standard
// 4-chars-per-token approximation.
func NewEstimateTokenizer() *EstimateTokenizer {
	return &EstimateTokenizer{charsPerToken: 4}
}

// CountTokens counts tokens in text.
func (t *EstimateTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / t.charsPerToken
	if n == 0 {
		return 1
	}
	return n
}

// TiktokenTokenizer wraps tiktoken for accurate counts when budget
// precision matters more than startup cost. The encoding is initialized
// lazily because tiktoken may download data on first use.
type TiktokenTokenizer struct {
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktokenTokenizer creates a tiktoken-backed tokenizer for the
// given encoding (e.g. "cl100k_base").
func NewTiktokenTokenizer(encoding string) *TiktokenTokenizer {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenTokenizer{encoding: encoding}
}

func (t *TiktokenTokenizer) init() {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = err
			return
		}
		t.enc = enc
	})
}

// CountTokens counts tokens in text, falling back to the len/4 estimate
// when the encoding cannot be initialized.
func (t *TiktokenTokenizer) CountTokens(text string) int {
	t.init()
	if t.initErr != nil || t.enc == nil {
		return NewEstimateTokenizer().CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

var (
	_ Tokenizer = (*EstimateTokenizer)(nil)
	_ Tokenizer = (*TiktokenTokenizer)(nil)
)
