package subtitle

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `1
00:00:00,000 --> 00:00:01,000
Hello.

2
00:00:01,200 --> 00:00:02,200
Goodbye.

`

func TestParseTwoEntries(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(1), entries[0].ID)
	require.Equal(t, int64(0), entries[0].StartMS)
	require.Equal(t, int64(1000), entries[0].EndMS)
	require.Equal(t, "Hello.", entries[0].Original)
	require.Equal(t, int64(2), entries[1].ID)
}

func TestParseExtractsPositionalTags(t *testing.T) {
	entries, err := Parse(strings.NewReader("1\n00:00:00,000 --> 00:00:01,000\n{\\an8}Run!\n\n"))
	require.NoError(t, err)
	require.Len(t, entries[0].Tags, 1)
	require.Equal(t, 0, entries[0].Tags[0].Offset)
	require.Equal(t, `{\an8}`, entries[0].Tags[0].Text)
}

func TestParseRejectsBadTimecode(t *testing.T) {
	_, err := Parse(strings.NewReader("1\nbad-time\nHello.\n\n"))
	require.Error(t, err)
}

func TestRenderRoundTrip(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	entries[0].Translated = "Bonjour."
	out, err := io.ReadAll(Render(entries))
	require.NoError(t, err)
	require.Contains(t, string(out), "Bonjour.")
	require.Contains(t, string(out), "00:00:00,000 --> 00:00:01,000")
}
