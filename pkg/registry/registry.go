// Package registry holds the explicit, zero-reflection factory tables that
// translate a config-selected component name into a constructed instance.
package registry

import (
	"bytes"
	"encoding/json"

	"subtrans/internal/provider"
	"subtrans/pkg/contract"
	rfs "subtrans/plugins/reader/filesystem"
	wfs "subtrans/plugins/writer/filesystem"
)

// strictUnmarshal decodes with DisallowUnknownFields so unrecognized option
// keys fail fast at config-load time rather than being silently ignored.
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader and NewWriter factory signatures: the external filesystem I/O
// layer the core does not design (spec §1, §6).
type NewReader func(raw json.RawMessage) (contract.Reader, error)
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// NewProvider factory signature: a C1 backend variant.
type NewProvider func(raw json.RawMessage) (provider.Provider, error)

var Reader = map[string]NewReader{
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

var Writer = map[string]NewWriter{
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Provider is the closed set of backend variants (spec §9: "a tagged variant
// over the closed set of provider kinds").
var Provider = map[string]NewProvider{
	"openai": func(raw json.RawMessage) (provider.Provider, error) { return provider.NewOpenAI(raw) },
	"gemini": func(raw json.RawMessage) (provider.Provider, error) { return provider.NewGenAI(raw) },
	"local":  func(raw json.RawMessage) (provider.Provider, error) { return provider.NewLocal(raw) },
}
