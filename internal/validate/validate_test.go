package validate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"subtrans/internal/model"
)

func newDoc(t *testing.T) *model.Document {
	t.Helper()
	entries := []model.Entry{
		{ID: 1, StartMS: 0, EndMS: 1000, Original: "Hello, Captain.", Tags: []model.FormatTag{{Offset: 0, Text: "{\\an8}"}}},
		{ID: 2, StartMS: 1200, EndMS: 2200, Original: "We reach the Facility at dawn."},
	}
	doc, err := model.New("doc", model.Metadata{SourceLang: "en", TargetLang: "fr"}, entries)
	require.NoError(t, err)
	return doc
}

func TestRunFlagsIncompleteEntryAsSevere(t *testing.T) {
	doc := newDoc(t)
	findings := Run(nil, nil, doc, Options{})
	require.NotEmpty(t, findings)
	found := false
	for _, f := range findings {
		if f.EntryID == 1 && f.Check == CheckCompleteness {
			found = true
			require.True(t, f.Severe)
		}
	}
	require.True(t, found)
}

func TestRunFlagsMissingFormattingTag(t *testing.T) {
	doc := newDoc(t)
	require.NoError(t, doc.SetTranslation(1, "Bonjour, Capitaine.", false)) // dropped {\an8}
	require.NoError(t, doc.SetTranslation(2, "Nous atteignons l'installation a l'aube.", false))

	findings := Run(nil, nil, doc, Options{})
	hasFormatting := false
	for _, f := range findings {
		if f.EntryID == 1 && f.Check == CheckFormatting {
			hasFormatting = true
		}
	}
	require.True(t, hasFormatting)
}

func TestRunFlagsGlossaryViolation(t *testing.T) {
	doc := newDoc(t)
	doc.Glossary.ForceSet(model.GlossaryTerm{Source: "the Facility", Target: "l'Etablissement", Kind: model.TermTechnical})
	require.NoError(t, doc.SetTranslation(1, "{\\an8}Bonjour, Capitaine.", false))
	require.NoError(t, doc.SetTranslation(2, "Nous atteignons l'installation a l'aube.", false))

	findings := Run(nil, nil, doc, Options{})
	hasGlossary := false
	for _, f := range findings {
		if f.EntryID == 2 && f.Check == CheckGlossary {
			hasGlossary = true
		}
	}
	require.True(t, hasGlossary)
}

func TestRunAcceptsFullyCompliantEntries(t *testing.T) {
	doc := newDoc(t)
	require.NoError(t, doc.SetTranslation(1, "{\\an8}Bonjour, Capitaine.", false))
	require.NoError(t, doc.SetTranslation(2, "Nous atteignons l'installation a l'aube.", false))

	findings := Run(nil, nil, doc, Options{})
	require.Empty(t, findings)
}

func TestRepairReasonsOnlyKeepsSevereFindings(t *testing.T) {
	findings := []Finding{
		{EntryID: 1, Check: CheckLengthRatio, Reason: "mild", Severe: false},
		{EntryID: 1, Check: CheckGlossary, Reason: "bad term", Severe: true},
	}
	reasons := RepairReasons(findings)
	require.Len(t, reasons[1], 1)
}
