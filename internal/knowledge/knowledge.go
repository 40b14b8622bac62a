// Package knowledge holds the static per-product fact table and the fact sampler
// used to ground generated captions.
package knowledge

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
)

//go:embed kb.json
var rawKB []byte

type Category string

const (
	Experience Category = "experience"
	Benefit    Category = "benefit"
	Technical  Category = "technical"
	Audience   Category = "audience"
	Usage      Category = "usage"
	Caution    Category = "caution"
)

// Categories lists every category with its sampling priority.
var Categories = []struct {
	Name     Category
	Label    string
	Priority int
}{
	{Experience, "体验", 3},
	{Benefit, "功效", 3},
	{Technical, "技术", 2},
	{Audience, "适用人群", 1},
	{Usage, "使用方式", 1},
	{Caution, "注意事项", 1},
}

type Entry struct {
	Name       string   `json:"name"`
	Experience []string `json:"experience"`
	Benefit    []string `json:"benefit"`
	Technical  []string `json:"technical"`
	Audience   []string `json:"audience"`
	Usage      []string `json:"usage"`
	Caution    []string `json:"caution"`
}

func (e Entry) Facts(c Category) []string {
	switch c {
	case Experience:
		return e.Experience
	case Benefit:
		return e.Benefit
	case Technical:
		return e.Technical
	case Audience:
		return e.Audience
	case Usage:
		return e.Usage
	case Caution:
		return e.Caution
	}
	return nil
}

// All returns every fact of the entry in category order.
func (e Entry) All() []string {
	var out []string
	for _, c := range Categories {
		out = append(out, e.Facts(c.Name)...)
	}
	return out
}

// Fact is a sampled fact with its category.
type Fact struct {
	Category Category
	Text     string
}

// Base is the immutable fact table, keyed by canonical product name.
type Base struct {
	entries map[string]Entry
}

// Load parses the embedded table.
func Load() (*Base, error) {
	return Parse(rawKB)
}

// MustLoad panics on a broken embedded table; it is compiled into the binary.
func MustLoad() *Base {
	kb, err := Load()
	if err != nil {
		panic(err)
	}
	return kb
}

func Parse(data []byte) (*Base, error) {
	entries := map[string]Entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode knowledge base: %w", err)
	}
	return &Base{entries: entries}, nil
}

func (b *Base) Lookup(product string) (Entry, bool) {
	e, ok := b.entries[product]
	return e, ok
}

func (b *Base) Products() []string {
	out := make([]string, 0, len(b.entries))
	for k := range b.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Sample picks 2–4 facts for product. Facts are shuffled within each category;
// categories are walked by descending priority (ties in random order) taking one
// fact per category per pass until enough facts are collected.
func (b *Base) Sample(product string, rng *rand.Rand) []Fact {
	entry, ok := b.entries[product]
	if !ok {
		return nil
	}
	n := 2 + rng.Intn(3)
	return sampleEntry(entry, n, rng)
}

func sampleEntry(entry Entry, n int, rng *rand.Rand) []Fact {
	type bucket struct {
		cat      Category
		priority int
		facts    []string
	}
	buckets := make([]bucket, 0, len(Categories))
	for _, c := range Categories {
		facts := append([]string(nil), entry.Facts(c.Name)...)
		if len(facts) == 0 {
			continue
		}
		rng.Shuffle(len(facts), func(i, j int) { facts[i], facts[j] = facts[j], facts[i] })
		buckets = append(buckets, bucket{cat: c.Name, priority: c.Priority, facts: facts})
	}
	rng.Shuffle(len(buckets), func(i, j int) { buckets[i], buckets[j] = buckets[j], buckets[i] })
	sort.SliceStable(buckets, func(i, j int) bool { return buckets[i].priority > buckets[j].priority })

	out := make([]Fact, 0, n)
	for pass := 0; len(out) < n; pass++ {
		progressed := false
		for _, bk := range buckets {
			if pass >= len(bk.facts) {
				continue
			}
			progressed = true
			out = append(out, Fact{Category: bk.cat, Text: bk.facts[pass]})
			if len(out) == n {
				break
			}
		}
		if !progressed {
			break
		}
	}
	return out
}
