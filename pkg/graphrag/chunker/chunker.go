// Package chunker splits raw document text into overlapping chunks with
// content-addressed ids. Sizes are measured in tokens, preferring
// paragraph and sentence boundaries over hard cuts.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/phanngoc/notebooklm/pkg/common"
	"github.com/phanngoc/notebooklm/pkg/logger"
)

// DefaultEncoder is the tiktoken encoding used when none is configured.
const DefaultEncoder = "o200k_base"

// separators in priority order. A hard cut only happens when a piece has
// none of these.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits text into chunks of at most chunkSize tokens, repeating
// the trailing overlap tokens of each chunk at the start of the next.
type Chunker struct {
	chunkSize int
	overlap   int
	enc       *tiktoken.Tiktoken
}

// New validates the size parameters. The encoder is loaded eagerly; when
// it cannot load, sizes fall back to rune counts.
func New(chunkSize, overlap int, encoder string) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, common.NewConfigurationError("%s", fmt.Sprintf("chunk size must be positive, got %d", chunkSize))
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, common.NewConfigurationError("%s", fmt.Sprintf("overlap must be in [0, chunk size), got %d with chunk size %d", overlap, chunkSize))
	}
	if encoder == "" {
		encoder = DefaultEncoder
	}
	enc, err := tiktoken.GetEncoding(encoder)
	if err != nil {
		logger.Warn("Token encoder unavailable, falling back to character counts", "encoder", encoder, "err", err)
		enc = nil
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap, enc: enc}, nil
}

func (c *Chunker) tokens(s string) int {
	if c.enc == nil {
		return len([]rune(s))
	}
	return len(c.enc.Encode(s, nil, nil))
}

// ChunkID derives the stable chunk identity from the source id and
// content, so re-splitting identical text yields identical ids.
func ChunkID(sourceID, content string) string {
	h := sha256.New()
	h.Write([]byte(sourceID))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Split chunks text for the given source. Empty text yields no chunks.
func (c *Chunker) Split(sourceID, text string) []common.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := c.split(text, 0)
	var chunks []common.Chunk
	var cur []string
	curTokens := 0
	carried := 0

	flush := func() {
		if len(cur) == carried {
			// Only the carried overlap is pending; drop it instead of
			// emitting a chunk that duplicates the previous suffix.
			cur, curTokens, carried = nil, 0, 0
			return
		}
		content := strings.Join(cur, "")
		chunks = append(chunks, common.Chunk{
			ID:       ChunkID(sourceID, content),
			SourceID: sourceID,
			Content:  content,
			Order:    len(chunks),
		})

		// Carry whole trailing pieces totalling at most overlap tokens
		// into the next chunk.
		var carry []string
		carryTokens := 0
		for i := len(cur) - 1; i >= 0; i-- {
			t := c.tokens(cur[i])
			if carryTokens+t > c.overlap {
				break
			}
			carry = append([]string{cur[i]}, carry...)
			carryTokens += t
		}
		cur = carry
		curTokens = carryTokens
		carried = len(carry)
	}

	for _, piece := range pieces {
		t := c.tokens(piece)
		if curTokens+t > c.chunkSize && len(cur) > 0 {
			flush()
			// The carried overlap plus this piece must still fit the
			// budget; drop carry from the front until it does.
			for carried > 0 && curTokens+t > c.chunkSize {
				curTokens -= c.tokens(cur[0])
				cur = cur[1:]
				carried--
			}
		}
		cur = append(cur, piece)
		curTokens += t
	}
	if len(cur) > carried {
		content := strings.Join(cur, "")
		chunks = append(chunks, common.Chunk{
			ID:       ChunkID(sourceID, content),
			SourceID: sourceID,
			Content:  content,
			Order:    len(chunks),
		})
	}
	return chunks
}

// split breaks text into pieces of at most chunkSize tokens, trying the
// separator priority list before cutting mid-word. Separators stay
// attached to the preceding piece so joining pieces reproduces the text.
func (c *Chunker) split(text string, sepIdx int) []string {
	if c.tokens(text) <= c.chunkSize {
		return []string{text}
	}
	if sepIdx >= len(separators) {
		return c.hardCut(text)
	}

	parts := strings.SplitAfter(text, separators[sepIdx])
	if len(parts) == 1 {
		return c.split(text, sepIdx+1)
	}
	var out []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, c.split(part, sepIdx+1)...)
	}
	return out
}

func (c *Chunker) hardCut(text string) []string {
	if c.enc != nil {
		ids := c.enc.Encode(text, nil, nil)
		var out []string
		for start := 0; start < len(ids); start += c.chunkSize {
			end := start + c.chunkSize
			if end > len(ids) {
				end = len(ids)
			}
			out = append(out, c.enc.Decode(ids[start:end]))
		}
		return out
	}
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
