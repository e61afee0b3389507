// Package model holds the document model: the immutable-shape, mutate-by-id
// representation of a subtitle file that every pass of the pipeline reads
// from and writes into. It is pure data — no I/O, no provider calls.
package model

import (
	"errors"
	"sort"
	"sync"
)

// FormatTag is a positional formatting marker found in an entry's original
// text (e.g. "{\an8}", "<i>"). Offset is the byte offset into the original
// text where the tag starts; Text is the tag verbatim.
type FormatTag struct {
	Offset int
	Text   string
}

// Entry is one subtitle cue.
type Entry struct {
	ID         int64
	StartMS    int64
	EndMS      int64
	Original   string
	Translated string // empty until C8/C9 attach it
	Speaker    string // optional; no pass in this repository sets it
	SceneID    int64  // 0 means unassigned
	Tags       []FormatTag
	Confidence float64 // 0 until validation runs; validation scores lie in [0,1]
	translated bool    // distinguishes "" from "not yet set"
}

// HasTranslation reports whether the entry's translated text has been set.
func (e Entry) HasTranslation() bool { return e.translated }

// TermKind classifies a glossary term.
type TermKind int

const (
	TermGeneric TermKind = iota
	TermCharacter
	TermTechnical
	TermIdiom
)

// GlossaryTerm is a (source, target) binding, optionally typed.
type GlossaryTerm struct {
	Source string
	Target string
	Kind   TermKind
}

// Glossary is a set of terms keyed by source surface form. The binding for a
// given source form is stable within a run once set, unless ForceSet is used.
type Glossary struct {
	mu    sync.RWMutex
	terms map[string]GlossaryTerm
}

// NewGlossary returns an empty glossary.
func NewGlossary() *Glossary {
	return &Glossary{terms: make(map[string]GlossaryTerm)}
}

// Propose inserts a term only if no binding exists yet for its source form.
// This implements "if analysis proposes a conflicting translation, the
// existing binding wins" (spec §3, Glossary term invariant).
func (g *Glossary) Propose(t GlossaryTerm) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.terms[t.Source]; exists {
		return
	}
	g.terms[t.Source] = t
}

// ForceSet inserts or overwrites a term unconditionally (entry-level override).
func (g *Glossary) ForceSet(t GlossaryTerm) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.terms[t.Source] = t
}

// Lookup returns the term bound to a source form, if any.
func (g *Glossary) Lookup(source string) (GlossaryTerm, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.terms[source]
	return t, ok
}

// All returns a stable-ordered snapshot of every term.
func (g *Glossary) All() []GlossaryTerm {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]GlossaryTerm, 0, len(g.terms))
	for _, t := range g.terms {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// CharacterTerms returns only the character-kind terms, sorted by source form.
func (g *Glossary) CharacterTerms() []GlossaryTerm {
	all := g.All()
	out := all[:0:0]
	for _, t := range all {
		if t.Kind == TermCharacter {
			out = append(out, t)
		}
	}
	return out
}

// Scene is a contiguous range of entry ids, with an optional tone descriptor.
type Scene struct {
	ID         int64
	StartID    int64
	EndID      int64
	Descriptor string
}

// Metadata carries document-level identity used for cache fingerprinting and
// provider routing. It never changes after construction.
type Metadata struct {
	SourceLang    string
	TargetLang    string
	Provider      string
	Model         string
	SchemaVersion string
}

var (
	// ErrUnknownEntry is returned when an id does not exist in the document.
	ErrUnknownEntry = errors.New("model: unknown entry id")
	// ErrAlreadyTranslated is returned by SetTranslation when overwrite is
	// not requested and the entry already carries a translation.
	ErrAlreadyTranslated = errors.New("model: entry already translated")
	// ErrNonMonotonicIDs is returned by New when entry ids are not strictly
	// increasing starting at 1.
	ErrNonMonotonicIDs = errors.New("model: entry ids must be dense and strictly increasing from 1")
)

// Document owns an ordered, dense sequence of entries plus document-level
// artifacts. It is exclusively owned by the orchestrator for the duration of
// a run (spec §9 "Document ownership"): passes read through id-scoped views
// and return results by id; the orchestrator centralizes every write.
type Document struct {
	mu       sync.RWMutex
	ID       string
	Meta     Metadata
	entries  []Entry // index i holds id i+1
	Glossary *Glossary
	Scenes   []Scene
	Summary  string // rolling history summary, opaque to everything but prompts
}

// New constructs a Document from a parsed entry sequence. Ids must be dense
// and strictly increasing from 1; this is the external SRT parser's
// responsibility to guarantee (spec §6).
func New(id string, meta Metadata, entries []Entry) (*Document, error) {
	for i, e := range entries {
		if e.ID != int64(i+1) {
			return nil, ErrNonMonotonicIDs
		}
	}
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Document{
		ID:       id,
		Meta:     meta,
		entries:  cp,
		Glossary: NewGlossary(),
	}, nil
}

// Len returns the number of entries.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Entries returns a copy of every entry, in ascending id order.
func (d *Document) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Entry returns a copy of the entry with the given id.
func (d *Document) Entry(id int64) (Entry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id < 1 || int(id) > len(d.entries) {
		return Entry{}, ErrUnknownEntry
	}
	return d.entries[id-1], nil
}

// SetTranslation attaches translated text (and optional confidence) to an
// entry by id. Fails if the id is unknown, or if the entry is already
// translated and overwrite is false (spec §4.2: "fails ... unless overwrite
// is explicitly requested by C9").
func (d *Document) SetTranslation(id int64, translated string, overwrite bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id < 1 || int(id) > len(d.entries) {
		return ErrUnknownEntry
	}
	e := &d.entries[id-1]
	if e.translated && !overwrite {
		return ErrAlreadyTranslated
	}
	e.Translated = translated
	e.translated = true
	return nil
}

// SetConfidence sets an entry's confidence score in place.
func (d *Document) SetConfidence(id int64, score float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id < 1 || int(id) > len(d.entries) {
		return ErrUnknownEntry
	}
	d.entries[id-1].Confidence = score
	return nil
}

// SetSpeaker and SetScene attach analysis-time annotations; both are
// optional and never required for correctness (spec §9 "Speakers and scenes").
func (d *Document) SetSpeaker(id int64, speaker string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id < 1 || int(id) > len(d.entries) {
		return ErrUnknownEntry
	}
	d.entries[id-1].Speaker = speaker
	return nil
}

func (d *Document) SetScene(id int64, sceneID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id < 1 || int(id) > len(d.entries) {
		return ErrUnknownEntry
	}
	d.entries[id-1].SceneID = sceneID
	return nil
}

// AttachScenes replaces the scene list wholesale (analysis pass result).
func (d *Document) AttachScenes(scenes []Scene) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Scenes = append([]Scene(nil), scenes...)
}

// SceneList returns a copy of the current scene list.
func (d *Document) SceneList() []Scene {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Scene(nil), d.Scenes...)
}

// SetSummary overwrites the rolling summary (orchestrator/summary task only).
func (d *Document) SetSummary(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Summary = s
}

// CurrentSummary reads the rolling summary.
func (d *Document) CurrentSummary() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Summary
}

// Translated reports whether every entry has a non-null translation.
func (d *Document) Translated() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.entries {
		if !e.translated {
			return false
		}
	}
	return true
}

// UntranslatedIDs returns the ids of entries with no translation yet, ascending.
func (d *Document) UntranslatedIDs() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []int64
	for _, e := range d.entries {
		if !e.translated {
			out = append(out, e.ID)
		}
	}
	return out
}

// Serialize returns the translated sequence in original order. Entries with
// no translation are passed through using placeholder (empty string keeps
// the source text, matching the "pass through as source text" default from
// spec §7); callers wanting a literal marker pass a non-empty placeholder.
func (d *Document) Serialize(placeholder string) []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	for i := range out {
		if !out[i].translated {
			if placeholder != "" {
				out[i].Translated = placeholder
			} else {
				out[i].Translated = out[i].Original
			}
		}
	}
	return out
}
