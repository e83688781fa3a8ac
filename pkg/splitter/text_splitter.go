package splitter

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// TextSplitter cuts fetched source text into overlapping chunks for the
// source index.
type TextSplitter struct {
	splitter textsplitter.TextSplitter
}

func NewRecursiveCharacterTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	return &TextSplitter{splitter: textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)}
}

// NewMarkdownTextSplitter splits on markdown structure before size.
func NewMarkdownTextSplitter(chunkSize, chunkOverlap int) *TextSplitter {
	return &TextSplitter{splitter: textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)}
}

// SplitText returns the non-blank chunks of text.
func (ts *TextSplitter) SplitText(text string) ([]string, error) {
	chunks, err := ts.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out, nil
}
