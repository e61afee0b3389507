package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"subtrans/internal/analysis"
	"subtrans/internal/cache"
	"subtrans/internal/model"
	"subtrans/internal/orchestrator"
	"subtrans/internal/provider"
	"subtrans/internal/rate"
	"subtrans/internal/scheduler"
	"subtrans/internal/session"
	"subtrans/internal/translate"
	"subtrans/internal/validate"
	"subtrans/internal/window"
	"subtrans/pkg/contract"
	"subtrans/pkg/registry"
)

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	dash := false
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
		if strings.TrimSpace(r) == "-" {
			dash = true
		}
	}
	if dash && len(cfg.Inputs) > 1 {
		return errors.New("config: '-' cannot be mixed with other roots")
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	if cfg.MaxChars <= 0 {
		return errors.New("config: max_chars must be > 0")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("config: max_retries must be >= 0")
	}
	if strings.TrimSpace(cfg.SourceLang) == "" || strings.TrimSpace(cfg.TargetLang) == "" {
		return errors.New("config: source_lang and target_lang must be set")
	}
	if cfg.LLM == "" {
		return errors.New("config: llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.LLM)
	}
	if registry.Provider[prov.Client] == nil {
		return fmt.Errorf("config: llm client %q not registered", prov.Client)
	}
	return nil
}

// Runtime holds every process-wide resource shared across all documents in
// a run: the selected provider, the two-tier cache, the session store, and
// the rate gate (spec §5, §6 — these are the run's shared state; everything
// else is scoped per document).
type Runtime struct {
	Cfg      Config
	Provider provider.Provider
	Cache    *cache.Cache
	Sessions *session.Store
	Gate     rate.Gate
	GateKey  rate.LimitKey
	Reader   contract.Reader
	Writer   contract.Writer
}

// Assemble constructs the shared Runtime from a validated Config. The
// session store has no connection of its own: it runs on the Cache's
// *sql.DB (per spec §6), so closing the Cache also closes the session
// store's database.
func Assemble(cfg Config) (*Runtime, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	prov := cfg.Provider[cfg.LLM]
	newProvider := registry.Provider[prov.Client]
	p, err := newProvider(prov.Options)
	if err != nil {
		return nil, fmt.Errorf("config: construct provider %q: %w", cfg.LLM, err)
	}

	c, err := cache.Open(cfg.CacheDB, cache.Options{})
	if err != nil {
		return nil, fmt.Errorf("config: open cache: %w", err)
	}
	sessions := session.New(c.DB())

	hint := p.RateLimitHint()
	key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {
			RPM:             int(hint.RequestsPerSecond * 60),
			TPM:             hint.TokensPerMinute,
			MaxTokensPerReq: 0, // no static ceiling reported by RateHint; Gate treats 0 as unbounded
		},
	}, nil)

	r, err := registry.Reader["fs"](cfg.Options.Reader)
	if err != nil {
		return nil, fmt.Errorf("config: construct reader: %w", err)
	}
	w, err := registry.Writer["fs"](withOutputDir(cfg.Options.Writer, cfg.OutputDir))
	if err != nil {
		return nil, fmt.Errorf("config: construct writer: %w", err)
	}

	return &Runtime{
		Cfg:      cfg,
		Provider: p,
		Cache:    c,
		Sessions: sessions,
		Gate:     gate,
		GateKey:  key,
		Reader:   r,
		Writer:   w,
	}, nil
}

// Close releases the Runtime's shared resources (spec §6: the embedded
// database underlies both cache and sessions; one Close suffices).
func (rt *Runtime) Close() error {
	if rt.Cache != nil {
		return rt.Cache.Close()
	}
	return nil
}

func (p Pipeline) windowSizing() window.Sizing {
	return window.Sizing{Recent: p.WindowRecent, Lookahead: p.WindowLookahead}
}

func (p Pipeline) analysisOptions() analysis.Options {
	return analysis.Options{SceneGapMS: p.SceneGapMS}
}

func (p Pipeline) validateOptions() validate.Options {
	return validate.Options{
		DefaultBand:                 validate.Band{Min: p.LengthRatioMin, Max: p.LengthRatioMax},
		LanguagePairBands:           p.bands(),
		FuzzyGlossary:               p.FuzzyGlossary,
		FuzzyMaxDistance:            p.FuzzyMaxDistance,
		SemanticValidation:          p.SemanticValidation,
		SemanticConfidenceThreshold: p.SemanticConfidenceThreshold,
		SemanticRetranslateBelow:    p.SemanticRetranslateBelow,
	}
}

func (p Pipeline) orchestratorOptions() orchestrator.Options {
	// PartitionOptions is filled in by NewOrchestrator, which knows the
	// per-document scene boundaries.
	return orchestrator.Options{
		EnableAnalysisPass:    p.EnableAnalysisPass,
		EnableValidationPass:  p.EnableValidationPass,
		FeedbackInformedRetry: p.FeedbackInformedRetry,
		SummaryStride:         p.SummaryStride,
		AnalysisOptions:       p.analysisOptions(),
		WindowSizing:          p.windowSizing(),
		ValidateOptions:       p.validateOptions(),
	}
}

// NewOrchestrator wires a fresh per-document Orchestrator over the Runtime's
// shared Provider/Cache/Gate/Sessions (spec §6: only the document and its
// checkpoint row are per-run state; everything else is process-wide).
// inputFingerprint identifies the document for checkpoint persistence
// (spec §8 scenario 6: a restart on the same input resumes from it).
func (rt *Runtime) NewOrchestrator(doc *model.Document, inputFingerprint string) *orchestrator.Orchestrator {
	p := rt.Cfg.Pipeline

	var sceneBoundary func(int64) bool
	if p.SceneAwareBatching {
		scenes := doc.SceneList()
		ends := make(map[int64]bool, len(scenes))
		for _, sc := range scenes {
			ends[sc.EndID] = true
		}
		sceneBoundary = func(id int64) bool { return ends[id] }
	}

	translator := &translate.Translator{
		Doc:           doc,
		Provider:      rt.Provider,
		Cache:         rt.Cache,
		Gate:          rt.Gate,
		GateKey:       rt.GateKey,
		Sizing:        p.windowSizing(),
		PromptVersion: "v1",
		BytesPerToken: p.BytesPerToken,
	}
	sched := &scheduler.Scheduler{
		Concurrency: rt.Cfg.Concurrency,
		Retry:       scheduler.RetryPolicy{MaxAttempts: rt.Cfg.MaxRetries + 1},
		Sessions:    rt.Sessions,
		InputFP:     inputFingerprint,
	}

	opts := p.orchestratorOptions()
	opts.PartitionOptions = scheduler.PartitionOptions{MaxChars: rt.Cfg.MaxChars, SceneBoundary: sceneBoundary}

	return &orchestrator.Orchestrator{
		Doc:        doc,
		Provider:   rt.Provider,
		Translator: translator,
		Scheduler:  sched,
		Opts:       opts,
	}
}

func withOutputDir(raw json.RawMessage, outputDir string) json.RawMessage {
	if len(raw) != 0 {
		return raw
	}
	b, _ := json.Marshal(struct {
		OutputDir string `json:"output_dir"`
	}{OutputDir: outputDir})
	return b
}
