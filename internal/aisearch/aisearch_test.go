package aisearch

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/barton333/Investment-Assistant/internal/model"
)

func TestStripFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare json", in: `{"btc": 69000}`, want: `{"btc": 69000}`},
		{name: "fenced with tag", in: "```json\n{\"btc\": 69000}\n```", want: `{"btc": 69000}`},
		{name: "fenced no tag", in: "```\n{\"btc\": 69000}\n```", want: `{"btc": 69000}`},
		{name: "leading prose stripped by trim only", in: "  {\"a\":1} ", want: `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFence(tt.in))
		})
	}
}

func TestParseResponse(t *testing.T) {
	group := []AssetRef{
		{ID: "btc"}, {ID: "sh_gold"}, {ID: "cn_10y_bond"},
	}

	prices, err := ParseResponse("```json\n{\"btc\": \"69,000.5\", \"sh_gold\": 785.4, \"cn_10y_bond\": 2.15, \"unrequested\": 1.0}\n```", group)
	require.NoError(t, err)

	// Values with separators go through the numeric normalizer.
	assert.InDelta(t, 69000.5, prices["btc"], 1e-9)
	assert.InDelta(t, 785.4, prices["sh_gold"], 1e-9)
	assert.InDelta(t, 2.15, prices["cn_10y_bond"], 1e-9)
	_, found := prices["unrequested"]
	assert.False(t, found)
}

func TestParseResponseRejectsGarbage(t *testing.T) {
	group := []AssetRef{{ID: "btc"}}

	_, err := ParseResponse("sorry, I could not find that", group)
	assert.Error(t, err)

	prices, err := ParseResponse(`{"btc": "n/a"}`, group)
	require.NoError(t, err)
	assert.Empty(t, prices)

	prices, err = ParseResponse(`{"btc": 0}`, group)
	require.NoError(t, err)
	assert.Empty(t, prices)
}

func TestBuildPromptUnits(t *testing.T) {
	prompt := BuildPrompt([]AssetRef{
		{ID: "cn_10y_bond", Name: "China 10Y Treasury", Symbol: "CN10Y", Category: model.CategoryBond},
		{ID: "sh_silver", Name: "Shanghai Silver", Symbol: "AG0", Category: model.CategoryMetal, Unit: "CNY/g"},
	})

	assert.Contains(t, prompt, "yield percentage")
	assert.Contains(t, prompt, "never per kilogram")
	assert.Contains(t, prompt, "JSON object")
	assert.Contains(t, prompt, "cn_10y_bond")
}

func TestLookupWithoutCredentialShortCircuits(t *testing.T) {
	adapter := New("", "", "gemini-2.0-flash")
	adapter.newClient = func(ctx context.Context) (generator, error) {
		t.Fatal("no client must be created without a credential")
		return nil, nil
	}

	result := adapter.Lookup(context.Background(), []AssetRef{{ID: "btc"}})
	assert.Empty(t, result)
}

// fakeGenerator answers chunks from a canned map and fails on demand.
type fakeGenerator struct {
	answers map[string]float64
	fail    bool
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, modelName string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if f.fail {
		return nil, fmt.Errorf("quota exhausted")
	}
	body := "{"
	first := true
	for id, v := range f.answers {
		if !first {
			body += ","
		}
		body += fmt.Sprintf("%q: %v", id, v)
		first = false
	}
	body += "}"
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: "```json\n" + body + "\n```"}}}},
		},
	}, nil
}

func TestLookupChunksIsolateFailures(t *testing.T) {
	gen := &fakeGenerator{answers: map[string]float64{"btc": 69000, "eth": 3600}}
	adapter := New("test-key", "", "gemini-2.0-flash")
	adapter.newClient = func(ctx context.Context) (generator, error) { return gen, nil }

	result := adapter.Lookup(context.Background(), []AssetRef{{ID: "btc"}, {ID: "eth"}})
	assert.InDelta(t, 69000, result["btc"], 1e-9)
	assert.InDelta(t, 3600, result["eth"], 1e-9)

	gen.fail = true
	result = adapter.Lookup(context.Background(), []AssetRef{{ID: "btc"}})
	assert.Empty(t, result)
}
