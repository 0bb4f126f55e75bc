package catalog

import (
	"hash/fnv"
	"math"
	"strings"
)

// Embedder generates vector embeddings for text
type Embedder interface {
	Embed(text string) ([]float32, error)
	Dimensions() int
}

// LocalEmbedder builds on-device embeddings by feature hashing:
// word n-grams, character trigrams and a handful of domain categories.
type LocalEmbedder struct {
	dimensions int
	ngramSizes []int
	stopwords  map[string]bool
}

// NewLocalEmbedder creates the default 256-dimension local embedder
func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{
		dimensions: 256,
		ngramSizes: []int{1, 2},
		stopwords:  buildStopwords(),
	}
}

func buildStopwords() map[string]bool {
	m := make(map[string]bool)
	for _, w := range strings.Fields(`the a an and or of in on at to for with by from as per is are
		was were be been its this that total number rate level index`) {
		m[w] = true
	}
	return m
}

// domainCategories nudge related indicator vocabulary towards the same dimensions
var domainCategories = [][]string{
	{"crop", "yield", "harvest", "agriculture", "agricultural", "farm", "cereal", "maize", "wheat", "vegetation", "ndvi", "evi", "fertilizer", "seed", "livestock"},
	{"rain", "rainfall", "precipitation", "drought", "flood", "temperature", "climate", "weather", "soil", "moisture"},
	{"price", "prices", "inflation", "market", "income", "gdp", "economic", "economy", "trade", "export", "import", "cost", "wage"},
	{"conflict", "violence", "fatalities", "battle", "attack", "displacement", "refugee", "idp", "insecurity"},
	{"food", "security", "nutrition", "malnutrition", "hunger", "famine", "consumption", "calorie"},
	{"health", "mortality", "disease", "death", "birth", "population", "life", "expectancy", "water", "sanitation"},
}

// Embed generates a unit-length embedding for text
func (e *LocalEmbedder) Embed(text string) ([]float32, error) {
	embedding := make([]float32, e.dimensions)
	text = strings.ToLower(text)
	words := tokenize(text)
	if len(words) == 0 {
		return embedding, nil
	}

	ngramDims := int(float64(e.dimensions) * 0.6)
	charDims := int(float64(e.dimensions) * 0.3)
	e.addNgramFeatures(embedding[:ngramDims], words)
	addCharFeatures(embedding[ngramDims:ngramDims+charDims], strings.Join(words, " "))
	addCategoryFeatures(embedding[ngramDims+charDims:], words)

	normalize(embedding)
	return embedding, nil
}

// Dimensions returns the embedding dimension size
func (e *LocalEmbedder) Dimensions() int {
	return e.dimensions
}

// tokenize lowercases concept paths and prose alike:
// "UN/entities/human/food/food_security" becomes [un entities human food food security]
func tokenize(text string) []string {
	text = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return ' '
		}
	}, text)
	words := strings.Fields(text)
	out := words[:0]
	for _, w := range words {
		if len(w) > 1 {
			out = append(out, w)
		}
	}
	return out
}

func (e *LocalEmbedder) addNgramFeatures(embedding []float32, words []string) {
	dims := len(embedding)
	for _, n := range e.ngramSizes {
		weight := 1.0 / float32(n)
		for i := 0; i+n <= len(words); i++ {
			if n == 1 && e.stopwords[words[i]] {
				continue
			}
			ngram := strings.Join(words[i:i+n], " ")
			embedding[hashString(ngram)%dims] += weight
			embedding[hashString(ngram+"_2")%dims] -= weight * 0.5
		}
	}
}

func addCharFeatures(embedding []float32, text string) {
	dims := len(embedding)
	for i := 0; i+3 <= len(text); i++ {
		embedding[hashString("char_"+text[i:i+3])%dims] += 0.1
	}
}

func addCategoryFeatures(embedding []float32, words []string) {
	for i, keywords := range domainCategories {
		if i >= len(embedding) {
			return
		}
		for _, w := range words {
			for _, kw := range keywords {
				if w == kw {
					embedding[i] += 1.0 / float32(len(words))
				}
			}
		}
	}
}

func normalize(v []float32) {
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		return
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
}

func hashString(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() & 0x7fffffff)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
