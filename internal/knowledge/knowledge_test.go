package knowledge

import (
	"math/rand"
	"testing"
)

func TestEmbeddedBaseHasAllProducts(t *testing.T) {
	kb := MustLoad()
	for _, p := range []string{"AirVo", "TriGuard", "FloMix", "TrioCare", "FleXa"} {
		entry, ok := kb.Lookup(p)
		if !ok {
			t.Fatalf("product %s missing", p)
		}
		if len(entry.All()) == 0 {
			t.Fatalf("product %s has no facts", p)
		}
	}
}

func TestSampleCountAndMembership(t *testing.T) {
	kb := MustLoad()
	entry, _ := kb.Lookup("AirVo")
	all := map[string]bool{}
	for _, f := range entry.All() {
		all[f] = true
	}

	for seed := int64(0); seed < 50; seed++ {
		facts := kb.Sample("AirVo", rand.New(rand.NewSource(seed)))
		if len(facts) < 2 || len(facts) > 4 {
			t.Fatalf("seed %d: len = %d, want 2..4", seed, len(facts))
		}
		seen := map[string]bool{}
		for _, f := range facts {
			if !all[f.Text] {
				t.Fatalf("seed %d: fact %q not in knowledge base", seed, f.Text)
			}
			if seen[f.Text] {
				t.Fatalf("seed %d: duplicate fact %q", seed, f.Text)
			}
			seen[f.Text] = true
		}
	}
}

func TestSampleFavorsHighPriorityCategories(t *testing.T) {
	kb := MustLoad()
	for seed := int64(0); seed < 20; seed++ {
		facts := kb.Sample("FleXa", rand.New(rand.NewSource(seed)))
		first := facts[0].Category
		if first != Experience && first != Benefit {
			t.Fatalf("seed %d: first category = %s, want experience or benefit", seed, first)
		}
	}
}

func TestSampleUnknownProduct(t *testing.T) {
	kb := MustLoad()
	if got := kb.Sample("Nope", rand.New(rand.NewSource(1))); got != nil {
		t.Fatalf("Sample(unknown) = %v, want nil", got)
	}
}

func TestSampleEntryRoundRobin(t *testing.T) {
	entry := Entry{
		Experience: []string{"e1", "e2"},
		Technical:  []string{"t1"},
	}
	facts := sampleEntry(entry, 3, rand.New(rand.NewSource(7)))
	if len(facts) != 3 {
		t.Fatalf("len = %d, want 3", len(facts))
	}
	if facts[0].Category != Experience || facts[1].Category != Technical || facts[2].Category != Experience {
		t.Fatalf("order = %v, want experience, technical, experience", facts)
	}

	short := sampleEntry(Entry{Usage: []string{"u"}}, 4, rand.New(rand.NewSource(1)))
	if len(short) != 1 {
		t.Fatalf("len = %d, want 1 when facts run out", len(short))
	}
}
