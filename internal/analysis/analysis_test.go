package analysis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"subtrans/internal/model"
	"subtrans/internal/provider"
)

type fakeProvider struct {
	glossary json.RawMessage
	summary  json.RawMessage
}

func (f *fakeProvider) Name() string                      { return "fake" }
func (f *fakeProvider) Model() string                      { return "fake-model" }
func (f *fakeProvider) SchemaVersion() string               { return "v1" }
func (f *fakeProvider) RateLimitHint() provider.RateHint    { return provider.RateHint{} }
func (f *fakeProvider) CompleteStructured(ctx context.Context, req provider.Request) (provider.Response, error) {
	if req.SchemaName == "glossary_extraction" {
		return provider.Response{Parsed: f.glossary}, nil
	}
	return provider.Response{Parsed: f.summary}, nil
}

func newEntries() []model.Entry {
	return []model.Entry{
		{ID: 1, StartMS: 0, EndMS: 1000, Original: "Hello, Captain."},
		{ID: 2, StartMS: 1200, EndMS: 2200, Original: "We move at dawn."},
		{ID: 3, StartMS: 10000, EndMS: 11000, Original: "Much later."},
	}
}

func TestDetectScenesOpensOnLargeGap(t *testing.T) {
	scenes := DetectScenes(newEntries(), 2000)
	require.Len(t, scenes, 2)
	require.Equal(t, int64(1), scenes[0].StartID)
	require.Equal(t, int64(2), scenes[0].EndID)
	require.Equal(t, int64(3), scenes[1].StartID)
}

func TestDetectScenesSingleSceneWhenNoGap(t *testing.T) {
	entries := []model.Entry{
		{ID: 1, StartMS: 0, EndMS: 1000, Original: "a"},
		{ID: 2, StartMS: 1100, EndMS: 2000, Original: "b"},
	}
	scenes := DetectScenes(entries, 2000)
	require.Len(t, scenes, 1)
}

func TestExtractGlossaryMergesViaPropose(t *testing.T) {
	doc, err := model.New("doc", model.Metadata{}, newEntries())
	require.NoError(t, err)
	doc.Glossary.ForceSet(model.GlossaryTerm{Source: "Captain", Target: "Capitaine", Kind: model.TermCharacter})

	fp := &fakeProvider{glossary: json.RawMessage(`{"terms":[{"source":"Captain","target":"WRONG","kind":"character"},{"source":"dawn","target":"l'aube","kind":"generic"}]}`)}
	require.NoError(t, ExtractGlossary(context.Background(), fp, doc, Options{}))

	term, ok := doc.Glossary.Lookup("Captain")
	require.True(t, ok)
	require.Equal(t, "Capitaine", term.Target) // existing binding wins

	term2, ok := doc.Glossary.Lookup("dawn")
	require.True(t, ok)
	require.Equal(t, "l'aube", term2.Target)
}

func TestSeedSummaryAttachesRollingSummary(t *testing.T) {
	doc, err := model.New("doc", model.Metadata{}, newEntries())
	require.NoError(t, err)
	fp := &fakeProvider{summary: json.RawMessage(`{"summary":"A crew prepares to move at dawn."}`)}
	require.NoError(t, SeedSummary(context.Background(), fp, doc, newEntries()[:2]))
	require.Equal(t, "A crew prepares to move at dawn.", doc.CurrentSummary())
}

func TestRunDegradesGracefullyWithNilProvider(t *testing.T) {
	doc, err := model.New("doc", model.Metadata{}, newEntries())
	require.NoError(t, err)
	Run(context.Background(), nil, doc, Options{})
	require.Equal(t, "", doc.CurrentSummary())
	require.Empty(t, doc.Glossary.All())
}
