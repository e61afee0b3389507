package registry

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	require.NoError(t, strictUnmarshal(nil, &o))
	require.Equal(t, 0, o.A)

	require.NoError(t, strictUnmarshal(json.RawMessage(`{"a":1}`), &o))
	require.Equal(t, 1, o.A)

	require.Error(t, strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o))
}

func TestFactories(t *testing.T) {
	t.Run("reader", func(t *testing.T) {
		_, err := Reader["fs"](json.RawMessage(`{}`))
		require.NoError(t, err)
		_, err = Reader["fs"](json.RawMessage(`{"x":1}`))
		require.Error(t, err)
	})
	t.Run("writer", func(t *testing.T) {
		tmp := t.TempDir()
		raw := json.RawMessage(fmt.Sprintf(`{"output_dir":%q}`, tmp))
		_, err := Writer["fs"](raw)
		require.NoError(t, err)
		bad := json.RawMessage(fmt.Sprintf(`{"output_dir":%q,"x":1}`, tmp))
		_, err = Writer["fs"](bad)
		require.Error(t, err)
	})
	t.Run("provider-local", func(t *testing.T) {
		_, err := Provider["local"](json.RawMessage(`{}`))
		require.NoError(t, err)
	})
	t.Run("provider-openai", func(t *testing.T) {
		t.Setenv("OPENAI_API_KEY", "")
		_, err := Provider["openai"](json.RawMessage(`{}`))
		require.Error(t, err)
	})
	t.Run("provider-gemini", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		_, err := Provider["gemini"](json.RawMessage(`{}`))
		require.Error(t, err)
	})
}
