// Package moderation censors forbidden words in outbound message
// content before it is stored or fanned out. Matching runs over a
// normalized shadow of the text (lowercased, separators stripped, a few
// common substitutions undone) while the replacement is applied to the
// original runes, so spacing and surrounding text survive untouched.
package moderation

import (
	"bufio"
	"bytes"
	_ "embed"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"

	"github.com/Logan27/1000-messenger-sub002/errors"
)

//go:embed wordlist.txt
var defaultWordlist []byte

type Moderator struct {
	machine     *goahocorasick.Machine
	replacement rune
}

// NewModerator builds the Aho-Corasick automaton over the normalized
// word list.
func NewModerator(words []string, replacement rune) (*Moderator, error) {
	if len(words) == 0 {
		return nil, errors.ErrEmptyWords
	}
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		normalized, _ := normalize(word)
		if len(normalized) > 0 {
			patterns = append(patterns, normalized)
		}
	}
	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	return &Moderator{machine: machine, replacement: replacement}, nil
}

// NewDefaultModerator uses the embedded word list.
func NewDefaultModerator(replacement rune) (*Moderator, error) {
	var words []string
	scanner := bufio.NewScanner(bytes.NewReader(defaultWordlist))
	for scanner.Scan() {
		word := strings.TrimSpace(scanner.Text())
		if word != "" && !strings.HasPrefix(word, "#") {
			words = append(words, word)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewModerator(words, replacement)
}

// Censor replaces every matched span with the replacement rune. The
// input comes back unchanged when nothing matches.
func (m *Moderator) Censor(text string) string {
	shadow, index := normalize(text)
	if len(shadow) == 0 {
		return text
	}
	spans := m.machine.MultiPatternSearch(shadow, false)
	if len(spans) == 0 {
		return text
	}
	runes := []rune(text)
	for _, span := range spans {
		start := span.Pos
		end := start + len(span.Word)
		if start < 0 || end > len(index) {
			continue
		}
		for i := index[start]; i <= index[end-1]; i++ {
			runes[i] = m.replacement
		}
	}
	return string(runes)
}

// normalize lowercases, undoes common character substitutions, and
// drops separators. index maps each shadow position back to the rune
// position in the original text.
func normalize(text string) (shadow []rune, index []int) {
	for i, r := range []rune(text) {
		r = unsubstitute(r)
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		shadow = append(shadow, unicode.ToLower(r))
		index = append(index, i)
	}
	return shadow, index
}

func unsubstitute(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}
