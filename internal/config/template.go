package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 使用 local provider（本地/离线调试友好，无需网络与密钥）；
// - 默认输入为 STDIN（"-"），输出到 ./out 目录；
// - 流水线开关与调优项给出安全中性默认值；
// - 同时列出 openai/gemini 两个变体的完整选项键，值留空等待用户填写。
func DefaultTemplateConfig() Config {
	d := Defaults()
	cfg := d
	cfg.Inputs = []string{"-"}
	cfg.LLM = "local"
	cfg.Provider = map[string]Provider{
		"local": {
			Client:  "local",
			Options: json.RawMessage(`{"prefix":"MOCK","mode":"ok","rpm":6000,"schema_version":"v1"}`),
		},
		"openai": {
			Client: "openai",
			Options: json.RawMessage(`{
  "base_url": "",
  "model": "gpt-4.1-mini",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "rpm": 0,
  "tpm": 0,
  "max_concurrency": 0,
  "schema_version": "v1"
}`),
		},
		"gemini": {
			Client: "gemini",
			Options: json.RawMessage(`{
  "model": "gemini-2.0-flash",
  "api_key_env": "GEMINI_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "rpm": 0,
  "tpm": 0,
  "max_concurrency": 0,
  "schema_version": "v1"
}`),
		},
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git", "node_modules", "vendor"]
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "atomic": true,
  "flat": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}
