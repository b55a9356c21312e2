package tokens

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// Counter returns a token count for a piece of text.
type Counter interface {
	CountTokens(text string) int
}

// HeuristicCounter over-estimates BPE token counts from byte and rune lengths.
type HeuristicCounter struct {
	CharsPerToken float64
}

func NewHeuristicCounter(charsPerToken float64) HeuristicCounter {
	if charsPerToken <= 0 {
		charsPerToken = 3
	}
	return HeuristicCounter{CharsPerToken: charsPerToken}
}

func (c HeuristicCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	byBytes := int(math.Ceil(float64(len(text)) / c.CharsPerToken))
	byRunes := int(math.Ceil(float64(utf8.RuneCountInString(text)) / 2))
	if byRunes > byBytes {
		return byRunes
	}
	return byBytes
}

var loaderOnce sync.Once

// TiktokenCounter counts with an offline BPE encoding and pads the result.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
	padding  float64
}

func NewTiktokenCounter(encoding string, padding float64) (*TiktokenCounter, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
	name := strings.TrimSpace(encoding)
	if name == "" {
		name = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", name, err)
	}
	if padding < 1 {
		padding = 1.1
	}
	return &TiktokenCounter{encoding: enc, padding: padding}, nil
}

func (c *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	count := len(c.encoding.Encode(text, nil, nil))
	padded := int(math.Ceil(float64(count) * c.padding))
	// floor keeps pathological inputs from under-counting
	floor := utf8.RuneCountInString(text) / 4
	if padded < floor {
		return floor
	}
	return padded
}
