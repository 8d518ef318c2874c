package server

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/jrsteele09/transcript-summary/graph"
)

// Summarizer turns a meeting transcript into the text posted back to the participants.
type Summarizer interface {
	Summarize(ctx context.Context, meeting graph.Meeting, transcript string) (string, error)
}

const excerptRunes = 2000

// ExcerptSummarizer returns the spoken lines of a WebVTT transcript, cut to a readable length.
type ExcerptSummarizer struct{}

func (ExcerptSummarizer) Summarize(_ context.Context, _ graph.Meeting, transcript string) (string, error) {
	var lines []string
	for _, line := range strings.Split(transcript, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "WEBVTT" || strings.Contains(line, "-->") || isCueNumber(line) {
			continue
		}
		lines = append(lines, line)
	}
	text := strings.Join(lines, "\n")
	if utf8.RuneCountInString(text) <= excerptRunes {
		return text, nil
	}
	return string([]rune(text)[:excerptRunes]) + "…", nil
}

func isCueNumber(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
