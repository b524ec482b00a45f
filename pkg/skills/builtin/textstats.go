package builtin

import (
	"context"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jllopis/agentfactory/pkg/skills"
)

// TextStatsInput is the input of the text-stats skill.
type TextStatsInput struct {
	Text string `json:"text" jsonschema:"required,description=Text to analyse"`
	Top  int    `json:"top,omitempty" jsonschema:"description=Number of most frequent words to return"`
}

// WordCount is one entry of the most frequent words.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// TextStatsOutput is the output of the text-stats skill.
type TextStatsOutput struct {
	Characters int         `json:"characters"`
	Words      int         `json:"words"`
	Lines      int         `json:"lines"`
	TopWords   []WordCount `json:"top_words,omitempty"`
}

// TextStats counts characters, words and lines.
func TextStats() skills.Skill {
	return skills.MustTyped(skills.Metadata{
		Name:        "text-stats",
		Version:     "1.0.0",
		Description: "Counts characters, words and lines of a text and lists its most frequent words.",
		Author:      "agentfactory",
		Tags:        []string{"text", "builtin"},
		Examples:    []map[string]any{{"text": "hello world", "top": 1}},
	}, countText)
}

func countText(_ context.Context, in TextStatsInput) (TextStatsOutput, error) {
	out := TextStatsOutput{Characters: utf8.RuneCountInString(in.Text)}
	if in.Text != "" {
		out.Lines = strings.Count(in.Text, "\n") + 1
		if strings.HasSuffix(in.Text, "\n") {
			out.Lines--
		}
	}

	freq := map[string]int{}
	for _, w := range strings.Fields(in.Text) {
		out.Words++
		w = strings.ToLower(strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) }))
		if w != "" {
			freq[w]++
		}
	}
	if in.Top <= 0 {
		return out, nil
	}

	words := make([]WordCount, 0, len(freq))
	for w, c := range freq {
		words = append(words, WordCount{Word: w, Count: c})
	}
	sort.Slice(words, func(i, j int) bool {
		if words[i].Count != words[j].Count {
			return words[i].Count > words[j].Count
		}
		return words[i].Word < words[j].Word
	})
	if len(words) > in.Top {
		words = words[:in.Top]
	}
	out.TopWords = words
	return out, nil
}
