package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	// NgramName is the registry name of the lexical embedding space.
	NgramName = "ngram"

	// NgramDimensions is the fixed width of ngram vectors.
	NgramDimensions = 150

	// boundary marks the start and end of a word so that prefixes and
	// suffixes produce distinct n-grams.
	boundary = '\x02'

	// phoneticWeight scales the Double Metaphone features relative to the
	// character n-grams.
	phoneticWeight = 2.0
)

var _ Function = (*Ngram)(nil)

// Ngram is the lexical embedding function. It is computed locally and
// deterministically from character n-gram statistics plus Double Metaphone
// codes, giving a structural signal that tolerates prefixes and typos.
//
// The zero value is not usable; construct with [NewNgram].
type Ngram struct {
	minN, maxN int
}

// NgramOption configures an [Ngram] function.
type NgramOption func(*Ngram)

// WithNgramRange sets the inclusive range of n-gram lengths. Default: 1..3.
func WithNgramRange(minN, maxN int) NgramOption {
	return func(g *Ngram) {
		if minN >= 1 && maxN >= minN {
			g.minN, g.maxN = minN, maxN
		}
	}
}

// NewNgram returns a ready-to-use [Ngram] function.
func NewNgram(opts ...NgramOption) *Ngram {
	g := &Ngram{minN: 1, maxN: 3}
	for _, o := range opts {
		o(g)
	}
	return g
}

// SourceType implements [Function].
func (g *Ngram) SourceType() SourceType { return SourceText }

// Dimensions implements [Function].
func (g *Ngram) Dimensions() int { return NgramDimensions }

// ComputeSourceEmbeddings implements [Function].
func (g *Ngram) ComputeSourceEmbeddings(ctx context.Context, batch TextBatch) ([][]float32, error) {
	return g.compute(ctx, batch)
}

// ComputeQueryEmbeddings implements [Function]. Query and source vectors are
// computed identically.
func (g *Ngram) ComputeQueryEmbeddings(ctx context.Context, batch TextBatch) ([][]float32, error) {
	return g.compute(ctx, batch)
}

func (g *Ngram) compute(ctx context.Context, batch TextBatch) ([][]float32, error) {
	if err := validateBatch(NgramName, batch); err != nil {
		return nil, err
	}
	out := make([][]float32, len(batch))
	for i, s := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = g.Vector(s)
	}
	return out, nil
}

// Vector computes the ngram vector for a single string. Strings without any
// letters or digits yield the zero vector.
func (g *Ngram) Vector(s string) []float32 {
	acc := make([]float64, NgramDimensions)

	for _, tok := range tokenize(s) {
		runes := make([]rune, 0, len(tok)+2)
		runes = append(runes, boundary)
		runes = append(runes, []rune(tok)...)
		runes = append(runes, boundary)

		for n := g.minN; n <= g.maxN; n++ {
			for i := 0; i+n <= len(runes); i++ {
				gram := runes[i : i+n]
				if n == 1 && gram[0] == boundary {
					continue
				}
				addFeature(acc, "g:"+string(gram), float64(n))
			}
		}

		primary, secondary := matchr.DoubleMetaphone(tok)
		if primary != "" {
			addFeature(acc, "dm:"+primary, phoneticWeight)
		}
		if secondary != "" && secondary != primary {
			addFeature(acc, "dm:"+secondary, phoneticWeight/2)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, NgramDimensions)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

// addFeature hashes feature into a bucket of acc with a hash-derived sign.
func addFeature(acc []float64, feature string, weight float64) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum32()
	bucket := int(sum % uint32(len(acc)))
	if sum&(1<<31) != 0 {
		weight = -weight
	}
	acc[bucket] += weight
}

// tokenize lower-cases s and splits it into runs of letters and digits.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
