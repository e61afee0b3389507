package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"subtrans/internal/cache"
	"subtrans/internal/model"
	"subtrans/internal/provider"
	"subtrans/internal/scheduler"
	"subtrans/internal/window"
)

type scriptedProvider struct {
	name, model, schema string
	responses           []func(provider.Request) (provider.Response, error)
	calls               int
}

func (p *scriptedProvider) Name() string                   { return p.name }
func (p *scriptedProvider) Model() string                   { return p.model }
func (p *scriptedProvider) SchemaVersion() string            { return p.schema }
func (p *scriptedProvider) RateLimitHint() provider.RateHint { return provider.RateHint{} }
func (p *scriptedProvider) CompleteStructured(ctx context.Context, req provider.Request) (provider.Response, error) {
	i := p.calls
	p.calls++
	if i >= len(p.responses) {
		return provider.Response{}, fmt.Errorf("no scripted response for call %d", i)
	}
	return p.responses[i](req)
}

func newDoc(t *testing.T) *model.Document {
	t.Helper()
	entries := []model.Entry{
		{ID: 1, StartMS: 0, EndMS: 1000, Original: "Hello."},
		{ID: 2, StartMS: 1200, EndMS: 2200, Original: "Goodbye."},
	}
	doc, err := model.New("doc", model.Metadata{SourceLang: "en", TargetLang: "fr"}, entries)
	require.NoError(t, err)
	return doc
}

func okResponse(ids []int64, prefix string) func(provider.Request) (provider.Response, error) {
	return func(req provider.Request) (provider.Response, error) {
		type item struct {
			ID         int64  `json:"id"`
			Translated string `json:"translated"`
		}
		items := make([]item, 0, len(ids))
		for _, id := range ids {
			items = append(items, item{ID: id, Translated: fmt.Sprintf("%s-%d", prefix, id)})
		}
		out, _ := json.Marshal(map[string]any{"translations": items})
		return provider.Response{Parsed: out}, nil
	}
}

func TestTranslateAttachesAllEntriesOnFirstTry(t *testing.T) {
	doc := newDoc(t)
	p := &scriptedProvider{name: "fake", model: "m", schema: "v1",
		responses: []func(provider.Request) (provider.Response, error){okResponse([]int64{1, 2}, "tr")}}
	tr := &Translator{Doc: doc, Provider: p, Sizing: window.Sizing{}}

	err := tr.Translate(context.Background(), scheduler.Batch{FromID: 1, ToID: 2}, 1)
	require.NoError(t, err)

	e1, _ := doc.Entry(1)
	e2, _ := doc.Entry(2)
	require.Equal(t, "tr-1", e1.Translated)
	require.Equal(t, "tr-2", e2.Translated)
}

func TestTranslateSkipsCacheHitEntries(t *testing.T) {
	doc := newDoc(t)
	c, err := cache.Open(":memory:", cache.Options{})
	require.NoError(t, err)
	defer c.Close()

	p := &scriptedProvider{name: "fake", model: "m", schema: "v1"}
	tr := &Translator{Doc: doc, Provider: p, Cache: c}
	fp := cache.Fingerprint("Hello.", "en", "fr", "fake", "m", "", "v1")
	c.Put(cache.Key{Fingerprint: fp, SourceLang: "en", TargetLang: "fr", Provider: "fake", Model: "m"}, "Hello.", "Bonjour.")

	p.responses = []func(provider.Request) (provider.Response, error){okResponse([]int64{2}, "tr")}
	err = tr.Translate(context.Background(), scheduler.Batch{FromID: 1, ToID: 2}, 1)
	require.NoError(t, err)

	e1, _ := doc.Entry(1)
	require.Equal(t, "Bonjour.", e1.Translated)
	e2, _ := doc.Entry(2)
	require.Equal(t, "tr-2", e2.Translated)
}

func TestTranslateRejectsMismatchedIDSet(t *testing.T) {
	doc := newDoc(t)
	p := &scriptedProvider{name: "fake", model: "m", schema: "v1",
		responses: []func(provider.Request) (provider.Response, error){okResponse([]int64{1}, "tr")}} // missing id 2
	tr := &Translator{Doc: doc, Provider: p}

	err := tr.Translate(context.Background(), scheduler.Batch{FromID: 1, ToID: 2}, 1)
	require.Error(t, err)
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	require.Equal(t, provider.CodeInvalidOutput, perr.Code)
}
