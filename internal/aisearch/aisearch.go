// Package aisearch implements the generative-AI fallback for assets that no
// structured provider could resolve. It asks Gemini, grounded with Google
// Search, for live quotes and parses the strict-JSON answer.
package aisearch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/barton333/Investment-Assistant/internal/model"
	"github.com/barton333/Investment-Assistant/internal/normalize"
)

// chunkSize bounds the prompt and isolates failures: a failed group only
// degrades its own ids.
const chunkSize = 3

// AssetRef is the minimal description of an unresolved asset passed to the
// generative model.
type AssetRef struct {
	ID       string
	Name     string
	Symbol   string
	Category model.Category
	Unit     string
}

// Adapter queries Gemini with search grounding for best-effort quotes.
type Adapter struct {
	apiKey  string
	baseURL string
	model   string

	// newClient is swappable in tests
	newClient func(ctx context.Context) (generator, error)
}

// generator is the slice of the genai client the adapter needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type genaiModels struct{ client *genai.Client }

func (g genaiModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return g.client.Models.GenerateContent(ctx, model, contents, config)
}

// New creates the fallback adapter. The base URL override is resolved once
// per call through the client configuration; there is no global patching of
// the HTTP transport.
func New(apiKey, baseURL, modelName string) *Adapter {
	a := &Adapter{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   modelName,
	}
	a.newClient = func(ctx context.Context) (generator, error) {
		cc := &genai.ClientConfig{
			APIKey:  a.apiKey,
			Backend: genai.BackendGeminiAPI,
		}
		if a.baseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: a.baseURL}
		}
		client, err := genai.NewClient(ctx, cc)
		if err != nil {
			return nil, err
		}
		return genaiModels{client: client}, nil
	}
	return a
}

// Enabled reports whether a usable credential is configured.
func (a *Adapter) Enabled() bool { return a.apiKey != "" }

// Lookup asks the model for live quotes for the given assets. Missing
// credentials short-circuit to an empty result without any network call.
// Chunks run concurrently; every failure degrades its chunk to unresolved.
func (a *Adapter) Lookup(ctx context.Context, assets []AssetRef) map[string]float64 {
	results := map[string]float64{}
	if !a.Enabled() || len(assets) == 0 {
		return results
	}

	client, err := a.newClient(ctx)
	if err != nil {
		logrus.Warnf("AI search client init failed: %v", err)
		return results
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for start := 0; start < len(assets); start += chunkSize {
		end := start + chunkSize
		if end > len(assets) {
			end = len(assets)
		}
		wg.Add(1)
		go func(group []AssetRef) {
			defer wg.Done()

			prices, err := a.lookupChunk(ctx, client, group)
			if err != nil {
				logrus.WithField("assets", len(group)).Debugf("AI search chunk failed: %v", err)
				return
			}
			mu.Lock()
			for id, v := range prices {
				results[id] = v
			}
			mu.Unlock()
		}(assets[start:end])
	}
	wg.Wait()

	logrus.WithFields(logrus.Fields{
		"requested": len(assets),
		"resolved":  len(results),
	}).Debug("AI search lookup finished")
	return results
}

func (a *Adapter) lookupChunk(ctx context.Context, client generator, group []AssetRef) (map[string]float64, error) {
	resp, err := client.GenerateContent(ctx, a.model, genai.Text(BuildPrompt(group)), &genai.GenerateContentConfig{
		Tools: []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generate content failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty response from model")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return ParseResponse(text.String(), group)
}

// BuildPrompt renders the instruction for one chunk. It demands live quotes,
// states the required unit per asset class, and requires a strict JSON
// object keyed by asset id with purely numeric values.
func BuildPrompt(group []AssetRef) string {
	var b strings.Builder
	b.WriteString("Search the web for the CURRENT live market quote of each instrument below. ")
	b.WriteString("Use the most recent real-time price, never a cached or previous-close value.\n\n")
	for _, ref := range group {
		fmt.Fprintf(&b, "- %s: %s (%s), report in %s\n", ref.ID, ref.Name, ref.Symbol, unitHint(ref))
	}
	b.WriteString("\nRespond with ONLY a JSON object mapping each id to its numeric price, ")
	b.WriteString(`for example {"sh_gold": 785.4}. No text outside the JSON, no units, no symbols.`)
	return b.String()
}

// unitHint states the output unit per asset class so the model does not
// answer in per-kilogram or contract-price terms.
func unitHint(ref AssetRef) string {
	switch ref.Category {
	case model.CategoryBond:
		return "yield percentage (not price)"
	case model.CategoryMetal:
		if ref.Unit != "" {
			return ref.Unit + " (per gram, never per kilogram)"
		}
		return "local currency per gram, never per kilogram"
	default:
		if ref.Unit != "" {
			return ref.Unit
		}
		return "the instrument's standard quote currency"
	}
}

// ParseResponse strips any markdown fencing, parses the JSON object and
// normalizes every value. Only the requested ids are accepted.
func ParseResponse(text string, group []AssetRef) (map[string]float64, error) {
	cleaned := StripFence(text)

	var raw map[string]any
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return nil, fmt.Errorf("malformed AI response: %w", err)
	}

	wanted := make(map[string]bool, len(group))
	for _, ref := range group {
		wanted[ref.ID] = true
	}

	out := map[string]float64{}
	for id, value := range raw {
		if !wanted[id] {
			continue
		}
		switch v := value.(type) {
		case float64:
			if p, ok := normalize.Valid(v); ok {
				out[id] = p
			}
		case string:
			if p, ok := normalize.ParseNumeric(v); ok {
				out[id] = p
			}
		}
	}
	return out, nil
}

// StripFence removes a surrounding markdown code fence, with or without a
// language tag, leaving bare JSON.
func StripFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
