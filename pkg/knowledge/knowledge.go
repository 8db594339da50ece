// Package knowledge provides read-only access to the district knowledge base
// queried during response generation.
package knowledge

import (
	"context"
	"strings"
)

// Snippet is one retrievable piece of district information.
type Snippet struct {
	Ref   string // stable reference recorded on the dialogue turn
	Topic string
	Text  string
}

// Base is the knowledge-base interface. Implementations are read-only from
// the call pipeline's perspective.
type Base interface {
	// Lookup returns the snippets most relevant to the query, best first.
	Lookup(ctx context.Context, query string, max int) ([]Snippet, error)
}

// entry is one indexed snippet with its match keywords.
type entry struct {
	snippet  Snippet
	keywords []string
}

// StaticBase is an in-memory keyword-matched knowledge base built from the
// district's published FAQ content.
type StaticBase struct {
	entries []entry
}

// Lookup scores entries by keyword hits against the lowercased query.
func (b *StaticBase) Lookup(_ context.Context, query string, max int) ([]Snippet, error) {
	if max <= 0 {
		max = 3
	}
	q := strings.ToLower(query)

	type scored struct {
		snippet Snippet
		score   int
	}
	var hits []scored
	for _, e := range b.entries {
		score := 0
		for _, kw := range e.keywords {
			if strings.Contains(q, kw) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{e.snippet, score})
		}
	}

	// Insertion sort by score, stable on index order. Entry counts are tiny.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].score > hits[j-1].score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	if len(hits) > max {
		hits = hits[:max]
	}
	out := make([]Snippet, len(hits))
	for i, h := range hits {
		out[i] = h.snippet
	}
	return out, nil
}

// NewDistrictBase builds the static knowledge base for the utility district.
func NewDistrictBase() *StaticBase {
	return &StaticBase{entries: []entry{
		{
			snippet: Snippet{
				Ref:   "billing/water-rates",
				Topic: "water rates",
				Text:  "Water base fee is $20.00 monthly for a standard 5/8 inch meter, plus $3.50 per 1,000 gallons October through May and $4.70 per 1,000 gallons June through September.",
			},
			keywords: []string{"rate", "bill", "cost", "price", "charge", "gallon"},
		},
		{
			snippet: Snippet{
				Ref:   "billing/payment",
				Topic: "bill payment",
				Text:  "Bills are calculated per 1,000 gallons; usage under 1,000 gallons carries over to the next month. Payments are accepted online, by mail, or at the district office.",
			},
			keywords: []string{"pay", "payment", "due", "bill"},
		},
		{
			snippet: Snippet{
				Ref:   "water-quality/cloudy",
				Topic: "cloudy water",
				Text:  "White or cloudy water is usually tiny air bubbles, more common in winter. It is harmless and clears if a glass sits for a few moments.",
			},
			keywords: []string{"cloudy", "white", "milky", "quality", "bubbles"},
		},
		{
			snippet: Snippet{
				Ref:   "water-quality/discolored",
				Topic: "discolored water",
				Text:  "Brown or yellow water can follow main breaks or hydrant flushing. Wait 30-40 minutes, then run cold water briefly to clear. District water meets EPA and TCEQ standards.",
			},
			keywords: []string{"brown", "yellow", "discolored", "dirty", "safe"},
		},
		{
			snippet: Snippet{
				Ref:   "trash/schedule",
				Topic: "trash and recycling",
				Text:  "Garbage is collected weekly and recycling every other week. Trash service is $24 monthly and carts must be out by 7 AM on collection day.",
			},
			keywords: []string{"trash", "garbage", "recycle", "recycling", "pickup", "collection"},
		},
		{
			snippet: Snippet{
				Ref:   "facilities/community-center",
				Topic: "community center hours",
				Text:  "The Community Center is open Monday through Friday 5:30 AM to 9 PM, with reduced weekend hours. The pool schedule varies by season.",
			},
			keywords: []string{"hours", "open", "community", "center", "pool", "gym"},
		},
		{
			snippet: Snippet{
				Ref:   "service/outage",
				Topic: "water outage",
				Text:  "For a water outage or suspected main break, crews are dispatched around the clock. Report emergencies to the district's 24-hour line.",
			},
			keywords: []string{"outage", "no water", "leak", "break", "emergency", "pressure"},
		},
		{
			snippet: Snippet{
				Ref:   "service/contact",
				Topic: "customer service",
				Text:  "Customer service is available Monday through Friday, 8 AM to 5 PM. Complex account changes are handled by staff rather than the automated assistant.",
			},
			keywords: []string{"human", "person", "representative", "office", "speak", "transfer"},
		},
	}}
}
