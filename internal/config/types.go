package config

import (
	"encoding/json"

	"subtrans/internal/validate"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs      []string `json:"inputs"`
	OutputDir   string   `json:"output_dir"`
	Concurrency int      `json:"concurrency"`
	// SourceLang/TargetLang: BCP-47-ish codes (e.g. "en", "ja") fed into the
	// cache fingerprint, the prompt template, and document metadata.
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	// MaxChars: C4 批次字符预算（每批次原文字符数上限，条目从不跨批拆分）。
	MaxChars int `json:"max_chars"`
	// MaxRetries: Timeout/Transient 重试上限（>=0）。0 表示不重试。
	MaxRetries int     `json:"max_retries"`
	Logging    Logging `json:"logging"`
	CacheDB    string  `json:"cache_db"`

	// LLM Provider 选择与定义。
	LLM      string              `json:"llm"`
	Provider map[string]Provider `json:"provider"`

	Pipeline Pipeline `json:"pipeline"`

	// Reader/Writer 原样 JSON Options，传入对应工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Pipeline 承载 C6/C7/C9 的开关与调优项（spec §6 closed option set）。
type Pipeline struct {
	EnableAnalysisPass    bool `json:"enable_analysis_pass"`
	EnableValidationPass  bool `json:"enable_validation_pass"`
	FeedbackInformedRetry bool `json:"feedback_informed_retry"`
	SceneAwareBatching    bool `json:"scene_aware_batching"`
	SummaryStride         int  `json:"summary_stride"`
	SceneGapMS            int64 `json:"scene_gap_ms"`
	WindowRecent          int  `json:"window_recent"`
	WindowLookahead       int  `json:"window_lookahead"`
	BytesPerToken         int  `json:"bytes_per_token"`

	LengthRatioMin    float64            `json:"length_ratio_min"`
	LengthRatioMax    float64            `json:"length_ratio_max"`
	LanguagePairBands map[string][2]float64 `json:"language_pair_bands"`
	FuzzyGlossary     bool               `json:"fuzzy_glossary"`
	FuzzyMaxDistance  int                `json:"fuzzy_max_distance"`
	SemanticValidation          bool    `json:"semantic_validation"`
	SemanticConfidenceThreshold float64 `json:"semantic_confidence_threshold"`
	// SemanticRetranslateBelow: open question decision (spec §9), default 0
	// (never auto-escalate a semantic "implausible" verdict to a repair).
	SemanticRetranslateBelow float64 `json:"semantic_retranslate_below"`
}

func (p Pipeline) bands() map[string]validate.Band {
	if len(p.LanguagePairBands) == 0 {
		return nil
	}
	out := make(map[string]validate.Band, len(p.LanguagePairBands))
	for k, v := range p.LanguagePairBands {
		out[k] = validate.Band{Min: v[0], Max: v[1]}
	}
	return out
}

// Options: Reader/Writer 原样 JSON Options。
type Options struct {
	Reader json.RawMessage `json:"reader"`
	Writer json.RawMessage `json:"writer"`
}

// Provider: 命名 provider 定义（backend 变体 + options）。限额不在此处重复
// 声明：每个 provider 变体通过 RateLimitHint() 自行报告限额（spec §5, §9）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
}
