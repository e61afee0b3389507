// Package validate implements Validation & Repair (C9): the six ordered
// checks (completeness, timecode, formatting tags, length ratio, glossary
// consistency, optional semantic validity), entry-level repair, and
// confidence scoring (spec §4.9).
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"subtrans/internal/model"
	"subtrans/internal/provider"
	"subtrans/internal/window"
)

// Check names one of the six ordered validation checks.
type Check int

const (
	CheckCompleteness Check = iota
	CheckTimecode
	CheckFormatting
	CheckLengthRatio
	CheckGlossary
	CheckSemantic
)

func (c Check) String() string {
	switch c {
	case CheckCompleteness:
		return "completeness"
	case CheckTimecode:
		return "timecode"
	case CheckFormatting:
		return "formatting"
	case CheckLengthRatio:
		return "length_ratio"
	case CheckGlossary:
		return "glossary"
	case CheckSemantic:
		return "semantic"
	default:
		return "unknown"
	}
}

// Finding is one failed check against one entry.
type Finding struct {
	EntryID int64
	Check   Check
	Reason  string
	// Severe marks a finding that should trigger entry-level repair rather
	// than a confidence penalty alone (spec §4.9.4: length-ratio is flagged
	// but "not automatically re-translated unless the ratio is extreme").
	Severe bool
}

// Band bounds an acceptable translated/original length ratio.
type Band struct{ Min, Max float64 }

// Options configures the pass. Zero values fall back to spec defaults.
type Options struct {
	DefaultBand                 Band
	LanguagePairBands           map[string]Band // key "src-tgt", e.g. "en-de"; used only if non-nil
	FuzzyGlossary               bool
	FuzzyMaxDistance            int
	SemanticValidation          bool
	SemanticConfidenceThreshold float64
	// SemanticRetranslateBelow: below this confidence, a semantic "no"
	// verdict also marks the finding Severe (triggers repair). 0 disables
	// this — a pure open-question default documented in DESIGN.md.
	SemanticRetranslateBelow float64
}

func (o Options) effective() Options {
	if o.DefaultBand == (Band{}) {
		o.DefaultBand = Band{Min: 0.3, Max: 3.0}
	}
	if o.FuzzyMaxDistance <= 0 {
		o.FuzzyMaxDistance = 2
	}
	if o.SemanticConfidenceThreshold <= 0 {
		o.SemanticConfidenceThreshold = 0.6
	}
	return o
}

const (
	penaltyFailedCheck = 0.15
)

// Run applies the six ordered checks to every entry in the document and
// returns the findings; each entry's resulting confidence score is written
// to the document via SetConfidence rather than returned (spec §4.9).
func Run(ctx context.Context, p provider.Provider, doc *model.Document, opts Options) []Finding {
	opts = opts.effective()
	var findings []Finding

	for _, e := range doc.Entries() {
		entryFindings := validateEntry(doc, e, opts)

		if opts.SemanticValidation && p != nil {
			conf := scoreConfidence(e, entryFindings, opts)
			if conf < opts.SemanticConfidenceThreshold {
				if f, ok := semanticCheck(ctx, p, e, conf, opts); ok {
					entryFindings = append(entryFindings, f)
				}
			}
		}

		score := scoreConfidence(e, entryFindings, opts)
		_ = doc.SetConfidence(e.ID, score)
		findings = append(findings, entryFindings...)
	}
	return findings
}

func validateEntry(doc *model.Document, e model.Entry, opts Options) []Finding {
	var findings []Finding

	// 1. Completeness.
	if !e.HasTranslation() {
		findings = append(findings, Finding{EntryID: e.ID, Check: CheckCompleteness, Reason: "missing translation", Severe: true})
		return findings // nothing else is checkable without a translation
	}

	// 2. Timecode: structural invariant; the translation pass never writes
	// timecodes, so this only fails on a bug, never on model output.
	if e.EndMS <= e.StartMS {
		findings = append(findings, Finding{EntryID: e.ID, Check: CheckTimecode, Reason: "end_ms <= start_ms", Severe: true})
	}

	// 3. Formatting tags.
	if missing := missingTags(e); len(missing) > 0 {
		findings = append(findings, Finding{EntryID: e.ID, Check: CheckFormatting,
			Reason: fmt.Sprintf("missing tags: %v", missing), Severe: true})
	}

	// 4. Length ratio.
	ratio := lengthRatio(e.Original, e.Translated)
	band := bandFor(doc.Meta, opts)
	if ratio < band.Min || ratio > band.Max {
		extreme := ratio < band.Min/2 || ratio > band.Max*2
		findings = append(findings, Finding{EntryID: e.ID, Check: CheckLengthRatio,
			Reason: fmt.Sprintf("ratio %.2f outside [%.2f, %.2f]", ratio, band.Min, band.Max), Severe: extreme})
	}

	// 5. Glossary consistency.
	for _, term := range doc.Glossary.All() {
		if !strings.Contains(e.Original, term.Source) {
			continue
		}
		if glossaryHonored(e.Translated, term.Target, opts) {
			continue
		}
		findings = append(findings, Finding{EntryID: e.ID, Check: CheckGlossary,
			Reason: fmt.Sprintf("glossary term %q -> %q not found in translation", term.Source, term.Target), Severe: true})
	}

	return findings
}

func missingTags(e model.Entry) []string {
	if len(e.Tags) == 0 {
		return nil
	}
	want := make(map[string]int, len(e.Tags))
	for _, tag := range e.Tags {
		want[tag.Text]++
	}
	var missing []string
	for text, count := range want {
		if strings.Count(e.Translated, text) < count {
			missing = append(missing, text)
		}
	}
	return missing
}

func lengthRatio(original, translated string) float64 {
	o := utf8.RuneCountInString(original)
	if o == 0 {
		return 1
	}
	return float64(utf8.RuneCountInString(translated)) / float64(o)
}

func bandFor(meta model.Metadata, opts Options) Band {
	if opts.LanguagePairBands != nil {
		key := meta.SourceLang + "-" + meta.TargetLang
		if b, ok := opts.LanguagePairBands[key]; ok {
			return b
		}
	}
	return opts.DefaultBand
}

func glossaryHonored(translated, target string, opts Options) bool {
	if strings.Contains(translated, target) {
		return true
	}
	if !opts.FuzzyGlossary {
		return false
	}
	for _, word := range strings.Fields(translated) {
		if matchr.Levenshtein(word, target) <= opts.FuzzyMaxDistance {
			return true
		}
	}
	return false
}

var semanticSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"plausible": {"type": "boolean"}},
	"required": ["plausible"]
}`)

func semanticCheck(ctx context.Context, p provider.Provider, e model.Entry, conf float64, opts Options) (Finding, bool) {
	resp, err := p.CompleteStructured(ctx, provider.Request{
		System:      "Judge whether the translation is a plausible rendering of the original. Respond only with the requested JSON.",
		UserPayload: map[string]string{"original": e.Original, "translated": e.Translated},
		Schema:      semanticSchema,
		SchemaName:  "semantic_validity",
	})
	if err != nil {
		return Finding{}, false
	}
	var out struct {
		Plausible bool `json:"plausible"`
	}
	if err := json.Unmarshal(resp.Parsed, &out); err != nil {
		return Finding{}, false
	}
	if out.Plausible {
		return Finding{}, false
	}
	severe := conf < opts.SemanticRetranslateBelow
	return Finding{EntryID: e.ID, Check: CheckSemantic, Reason: "model judged translation implausible", Severe: severe}, true
}

func scoreConfidence(e model.Entry, findings []Finding, opts Options) float64 {
	score := 1.0
	for _, f := range findings {
		if f.Check == CheckLengthRatio {
			band := opts.DefaultBand
			mid := (band.Min + band.Max) / 2
			ratio := lengthRatio(e.Original, e.Translated)
			dev := (ratio - mid) / mid
			if dev < 0 {
				dev = -dev
			}
			score -= penaltyFailedCheck * dev
			continue
		}
		score -= penaltyFailedCheck
	}
	if score < 0 {
		score = 0
	}
	return score
}

// RepairReasons groups findings by entry id for the entry-level repair
// prompt (spec §4.9 "Repair is entry-level ... includes the failure
// reason").
func RepairReasons(findings []Finding) map[int64][]string {
	out := make(map[int64][]string)
	for _, f := range findings {
		if !f.Severe {
			continue
		}
		out[f.EntryID] = append(out[f.EntryID], fmt.Sprintf("%s: %s", f.Check, f.Reason))
	}
	return out
}

var repairSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"translated": {"type": "string"}},
	"required": ["translated"]
}`)

// Repair re-translates a single entry with a single-entry context window
// that includes the failure reasons, overwriting its prior translation
// (spec §4.9: "each entry needing repair is re-translated with a single-
// entry context window that includes the failure reason").
func Repair(ctx context.Context, p provider.Provider, doc *model.Document, id int64, sizing window.Sizing, reasons []string) error {
	w := window.Build(doc, id, id, sizing)
	sys := fmt.Sprintf("Re-translate this single subtitle entry. The previous attempt failed: %s\nRespond only with the requested JSON.",
		strings.Join(reasons, "; "))
	resp, err := p.CompleteStructured(ctx, provider.Request{
		System:      sys,
		UserPayload: w,
		Schema:      repairSchema,
		SchemaName:  "repair_entry",
	})
	if err != nil {
		return err
	}
	var out struct {
		Translated string `json:"translated"`
	}
	if err := json.Unmarshal(resp.Parsed, &out); err != nil {
		return &provider.Error{Code: provider.CodeInvalidOutput, Raw: string(resp.Parsed), Err: err}
	}
	return doc.SetTranslation(id, out.Translated, true)
}
