package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// UT-CFG-01: 解析完整 config.json
func TestLoadJSON(t *testing.T) {
	cfg, err := LoadJSON("../../testdata/config/basic.json", nil)
	require.NoError(t, err)
	require.Equal(t, "gemini", cfg.LLM)
	require.Len(t, cfg.Inputs, 1)
	require.NoError(t, Validate(cfg))
}

// UT-CFG-02: ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"LLM_SPT_INPUTS=a,b",
		"LLM_SPT_CONCURRENCY=3",
		"LLM_SPT_LLM=local",
		"LLM_SPT_PROVIDER__local__CLIENT=local",
	}
	over, err := EnvOverlay(env)
	require.NoError(t, err)
	require.Equal(t, "local", over.LLM)
	require.Equal(t, 3, over.Concurrency)
	require.Len(t, over.Inputs, 2)
	require.Equal(t, "local", over.Provider["local"].Client)
}

// UT-CFG-03: 含非法字段
func TestLoadJSONUnknown(t *testing.T) {
	raw := []byte(`{"unknown":1}`)
	_, err := LoadJSON("", raw)
	require.Error(t, err)
}

// 补充覆盖: splitComma 与 atoi
func TestSplitCommaAtoi(t *testing.T) {
	parts := splitComma("a, b , ,c")
	require.Equal(t, []string{"a", "b", "c"}, parts)
	v, err := atoi("10")
	require.NoError(t, err)
	require.Equal(t, 10, v)
}

// 补充覆盖: Defaults 与 cloneRaw
func TestDefaultsClone(t *testing.T) {
	d := Defaults()
	require.Equal(t, 4000, d.MaxChars)
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	require.Equal(t, "abc", string(dst))
}

// 补充覆盖: Merge 按优先级覆盖
func TestMergeOverridesScalarsAndProvider(t *testing.T) {
	base := Defaults()
	base.LLM = "local"
	over := Config{MaxChars: 9000, MaxRetries: -1}
	over.Provider = map[string]Provider{"openai": {Client: "openai"}}
	merged := Merge(base, over)
	require.Equal(t, 9000, merged.MaxChars)
	require.Equal(t, base.MaxRetries, merged.MaxRetries) // -1 sentinel means "not overridden"
	require.Equal(t, "openai", merged.Provider["openai"].Client)
}

// 补充覆盖: Validate 错误分支
func TestValidateErrors(t *testing.T) {
	require.Error(t, Validate(Config{}))

	cfg := DefaultTemplateConfig()
	cfg.Inputs = []string{"-", "a"}
	require.Error(t, Validate(cfg))

	cfg = DefaultTemplateConfig()
	cfg.MaxChars = 0
	require.Error(t, Validate(cfg))

	cfg = DefaultTemplateConfig()
	cfg.Provider = map[string]Provider{"local": {Client: ""}}
	require.Error(t, Validate(cfg))

	cfg = DefaultTemplateConfig()
	require.NoError(t, Validate(cfg))
}
