// Package window assembles the context window (C3): the bundle of prior
// summary, recent finalized translations, the current batch, lookahead
// originals, and the active glossary slice that forms a single model-facing
// payload. It holds no state of its own — every function is pure over a
// document snapshot and a position.
package window

import (
	"strings"

	"subtrans/internal/model"
)

// Translated is a finalized (id, original, translated) triple.
type Translated struct {
	ID         int64  `json:"id"`
	Original   string `json:"original"`
	Translated string `json:"translated"`
}

// Original is an (id, original) pair for entries not yet translated.
type Original struct {
	ID       int64  `json:"id"`
	Original string `json:"original"`
}

// Term is the JSON-facing projection of a glossary term.
type Term struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Window is the stable JSON shape sent to the model as the sole payload
// format for the translation pass (spec §4.3).
type Window struct {
	PriorSummary string     `json:"prior_summary,omitempty"`
	Recent       []Translated `json:"recent,omitempty"`
	Current      []Original `json:"current"`
	Lookahead    []Original `json:"lookahead,omitempty"`
	Glossary     []Term     `json:"glossary,omitempty"`
	// TargetIDs is the explicit list of ids the model must translate, exactly
	// the ids present in Current. Required so the model never guesses which
	// ids are in scope (spec §4.3: "must include the explicit list of ids to
	// translate; must not include ids the model should not change").
	TargetIDs []int64 `json:"target_ids"`
}

// Sizing controls how many Recent/Lookahead entries to pull. Zero values
// fall back to the spec's typical defaults (10 recent, 5 lookahead).
type Sizing struct {
	Recent    int
	Lookahead int
}

func (s Sizing) effective() (recent, lookahead int) {
	recent, lookahead = s.Recent, s.Lookahead
	if recent <= 0 {
		recent = 10
	}
	if lookahead <= 0 {
		lookahead = 5
	}
	return
}

// Build constructs the context window for a batch covering entry ids
// [fromID, toID] (inclusive, 1-based) within doc.
func Build(doc *model.Document, fromID, toID int64, sizing Sizing) Window {
	entries := doc.Entries()
	recentN, lookaheadN := sizing.effective()

	w := Window{PriorSummary: doc.CurrentSummary()}

	// Recent: the last R entries with id < fromID that have translations,
	// ascending id order.
	var recent []Translated
	for i := len(entries) - 1; i >= 0 && len(recent) < recentN; i-- {
		e := entries[i]
		if e.ID >= fromID {
			continue
		}
		if !e.HasTranslation() {
			continue
		}
		recent = append(recent, Translated{ID: e.ID, Original: e.Original, Translated: e.Translated})
	}
	// reverse into ascending id order
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	w.Recent = recent

	// Current: [fromID, toID], originals only.
	var current []Original
	var targetIDs []int64
	for _, e := range entries {
		if e.ID >= fromID && e.ID <= toID {
			current = append(current, Original{ID: e.ID, Original: e.Original})
			targetIDs = append(targetIDs, e.ID)
		}
	}
	w.Current = current
	w.TargetIDs = targetIDs

	// Lookahead: up to L entries with id >= toID+1, originals only.
	var lookahead []Original
	for _, e := range entries {
		if e.ID <= toID {
			continue
		}
		if len(lookahead) >= lookaheadN {
			break
		}
		lookahead = append(lookahead, Original{ID: e.ID, Original: e.Original})
	}
	w.Lookahead = lookahead

	// Active glossary: all character-kind terms, plus any term whose source
	// form appears as a substring in the union of Recent ∪ Current ∪ Lookahead.
	haystack := buildHaystack(recent, current, lookahead)
	seen := make(map[string]struct{})
	var terms []Term
	addTerm := func(t model.GlossaryTerm) {
		if _, ok := seen[t.Source]; ok {
			return
		}
		seen[t.Source] = struct{}{}
		terms = append(terms, Term{Source: t.Source, Target: t.Target})
	}
	for _, t := range doc.Glossary.CharacterTerms() {
		addTerm(t)
	}
	for _, t := range doc.Glossary.All() {
		if t.Kind == model.TermCharacter {
			continue // already added above
		}
		if strings.Contains(haystack, t.Source) {
			addTerm(t)
		}
	}
	w.Glossary = terms

	return w
}

func buildHaystack(recent []Translated, current, lookahead []Original) string {
	var b strings.Builder
	for _, t := range recent {
		b.WriteString(t.Original)
		b.WriteByte('\n')
	}
	for _, o := range current {
		b.WriteString(o.Original)
		b.WriteByte('\n')
	}
	for _, o := range lookahead {
		b.WriteString(o.Original)
		b.WriteByte('\n')
	}
	return b.String()
}

// DynamicSizing computes Recent/Lookahead expansion near scene boundaries and
// contraction inside long single-speaker monologues (spec §4.3, flag-gated
// "Dynamic sizing"). It is a pure function over (entries, position, scenes).
func DynamicSizing(entries []model.Entry, position int64, scenes []model.Scene, base Sizing) Sizing {
	recent, lookahead := base.effective()
	for _, sc := range scenes {
		// Expand near a scene boundary: within 3 entries of either edge.
		if abs64(position-sc.StartID) <= 3 || abs64(position-sc.EndID) <= 3 {
			recent += 5
			lookahead += 3
			return Sizing{Recent: recent, Lookahead: lookahead}
		}
	}
	// Contract inside a long monologue: same speaker for a wide span around
	// position with no scene cut nearby.
	if inMonologue(entries, position, 8) {
		recent -= 4
		lookahead -= 2
		if recent < 2 {
			recent = 2
		}
		if lookahead < 1 {
			lookahead = 1
		}
	}
	return Sizing{Recent: recent, Lookahead: lookahead}
}

func inMonologue(entries []model.Entry, position int64, span int) bool {
	idx := int(position) - 1
	if idx < 0 || idx >= len(entries) {
		return false
	}
	speaker := entries[idx].Speaker
	if speaker == "" {
		return false
	}
	lo, hi := idx-span, idx+span
	if lo < 0 {
		lo = 0
	}
	if hi >= len(entries) {
		hi = len(entries) - 1
	}
	for i := lo; i <= hi; i++ {
		if entries[i].Speaker != speaker {
			return false
		}
	}
	return true
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
