// Package extract turns plain sentences such as "Heavy rainfall increases crop
// yield" into polarity-tagged causal statements.
package extract

import (
	"regexp"
	"strings"

	"github.com/CanopyHQ/tributary/internal/cag"
)

// Extraction is one statement found in text
type Extraction struct {
	Statement cag.Statement
	Trigger   string // causal verb that matched, e.g. "leads to"
	Sentence  string
}

// causalPatterns split a sentence into cause and effect around a causal verb;
// sign is the direction the effect moves when the cause goes up
var causalPatterns = []struct {
	re   *regexp.Regexp
	sign int
}{
	{regexp.MustCompile(`(?i)^(.+?)\s+(leads?\s+to|led\s+to|results?\s+in|resulted\s+in|contributes?\s+to|gives?\s+rise\s+to)\s+(.+)$`), 1},
	{regexp.MustCompile(`(?i)^(.+?)\s+(increase[sd]?|raise[sd]?|boost(?:s|ed)?|improve[sd]?|drive[sn]?|drove|cause[sd]?|promote[sd]?|strengthen(?:s|ed)?)\s+(.+)$`), 1},
	{regexp.MustCompile(`(?i)^(.+?)\s+(decrease[sd]?|reduce[sd]?|lower(?:s|ed)|worsen(?:s|ed)?|hinder(?:s|ed)?|prevent(?:s|ed)?|weaken(?:s|ed)?|undermine[sd]?|limit(?:s|ed)?)\s+(.+)$`), -1},
}

// direction words flip or keep the polarity of the phrase they lead
var directionWords = map[string]int{
	"increased": 1, "increasing": 1, "higher": 1, "more": 1, "rising": 1, "greater": 1, "improved": 1, "better": 1,
	"decreased": -1, "decreasing": -1, "lower": -1, "less": -1, "fewer": -1, "reduced": -1, "falling": -1,
	"declining": -1, "worse": -1, "poor": -1, "poorer": -1,
}

// gradableAdjectives describe the size of a change
var gradableAdjectives = map[string]bool{
	"large": true, "small": true, "significant": true, "substantial": true, "slight": true,
	"major": true, "minor": true, "sharp": true, "modest": true, "severe": true, "heavy": true,
	"huge": true, "marginal": true, "dramatic": true, "considerable": true,
}

var articles = map[string]bool{"the": true, "a": true, "an": true, "in": true, "of": true}

var sentenceSplit = regexp.MustCompile(`[.;!?\n]+`)

const maxPhraseLen = 120
const minPhraseLen = 3

// Extract finds causal statements in content. Results are deduplicated on the
// (subject, object, polarity) tuple and returned in discovery order.
func Extract(content string) []Extraction {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	seen := make(map[[2]cag.Event]bool)
	var out []Extraction
	for _, sentence := range sentenceSplit.Split(content, -1) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		for _, p := range causalPatterns {
			m := p.re.FindStringSubmatch(sentence)
			if m == nil {
				continue
			}
			subj, ok := parseEvent(m[1], 1)
			if !ok {
				break
			}
			obj, ok := parseEvent(m[3], p.sign)
			if !ok {
				break
			}
			key := [2]cag.Event{subj, obj}
			if !seen[key] {
				seen[key] = true
				out = append(out, Extraction{
					Statement: cag.NewStatement(subj, obj),
					Trigger:   strings.ToLower(strings.Join(strings.Fields(m[2]), " ")),
					Sentence:  sentence,
				})
			}
			break
		}
	}
	return out
}

// parseEvent strips direction words, gradable adjectives and articles from the
// front of phrase; whatever remains is the concept
func parseEvent(phrase string, polarity int) (cag.Event, bool) {
	words := strings.Fields(strings.ToLower(phrase))
	adjective := ""
	for len(words) > 0 {
		w := strings.Trim(words[0], ",:\"'()")
		if d, ok := directionWords[w]; ok {
			polarity *= d
		} else if gradableAdjectives[w] {
			if adjective == "" {
				adjective = w
			}
		} else if !articles[w] {
			break
		}
		words = words[1:]
	}
	concept := truncate(strings.Trim(strings.Join(words, " "), ",:\"'() "), maxPhraseLen)
	if len(concept) < minPhraseLen {
		return cag.Event{}, false
	}
	return cag.NewEvent(adjective, polarity, concept), true
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max])
}
