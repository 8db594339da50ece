package knowledge

import (
	"context"
	"testing"

	"github.com/matryer/is"
)

func TestLookup_MatchesTopic(t *testing.T) {
	base := NewDistrictBase()
	tests := []struct {
		query   string
		wantRef string
	}{
		{"how much does water cost per gallon", "billing/water-rates"},
		{"my water looks cloudy and white", "water-quality/cloudy"},
		{"when is trash pickup", "trash/schedule"},
		{"can I speak to a person", "service/contact"},
		{"there is no water at my house", "service/outage"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			is := is.New(t)
			snippets, err := base.Lookup(context.Background(), tt.query, 3)
			is.NoErr(err)
			is.True(len(snippets) >= 1)
			is.Equal(snippets[0].Ref, tt.wantRef) // best match first
		})
	}
}

func TestLookup_NoMatch(t *testing.T) {
	is := is.New(t)
	base := NewDistrictBase()

	snippets, err := base.Lookup(context.Background(), "tell me about the weather on mars", 3)
	is.NoErr(err)
	is.Equal(len(snippets), 0)
}

func TestLookup_RespectsMax(t *testing.T) {
	is := is.New(t)
	base := NewDistrictBase()

	snippets, err := base.Lookup(context.Background(), "water bill rate payment quality safe", 2)
	is.NoErr(err)
	is.True(len(snippets) <= 2)
}
