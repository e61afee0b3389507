// Package subtitle is the external SRT codec: pure syntactic parsing and
// serialization, explicitly out of the core's design scope (spec §1, §6)
// but still needed to drive the core end-to-end. It never inspects
// language, makes no translation decisions, and performs only the minimal
// CRLF->LF normalization the source format requires.
package subtitle

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"subtrans/internal/model"
)

var (
	timeLineRe = regexp.MustCompile(`^(\d{2}:\d{2}:\d{2},\d{3}) --> (\d{2}:\d{2}:\d{2},\d{3})`)
	tagRe      = regexp.MustCompile(`\{[^{}]*\}|<[^<>]+>`)
)

// Parse reads an SRT file and returns its cues as dense, 1-based,
// strictly-increasing Entry ids — the shape spec §6 requires from "the SRT
// parser".
func Parse(r io.Reader) ([]model.Entry, error) {
	br := bufio.NewReader(r)
	var entries []model.Entry
	var id int64

	for {
		seqLine, eof, err := readTrimmedLine(br)
		if err != nil {
			return nil, err
		}
		if eof {
			break
		}
		if seqLine == "" {
			continue
		}
		if _, err := strconv.Atoi(seqLine); err != nil {
			return nil, fmt.Errorf("subtitle: invalid sequence line %q: %w", seqLine, err)
		}

		timeLine, _, err := readTrimmedLine(br)
		if err != nil {
			return nil, err
		}
		m := timeLineRe.FindStringSubmatch(timeLine)
		if m == nil {
			return nil, fmt.Errorf("subtitle: invalid time line %q", timeLine)
		}
		startMS, err := parseSRTTimestamp(m[1])
		if err != nil {
			return nil, err
		}
		endMS, err := parseSRTTimestamp(m[2])
		if err != nil {
			return nil, err
		}
		if endMS <= startMS {
			return nil, fmt.Errorf("subtitle: end_ms must be greater than start_ms at entry %d", id+1)
		}

		var lines []string
		for {
			line, e, err := readTrimmedLine(br)
			if err != nil {
				return nil, err
			}
			if line == "" || e {
				if e && line != "" {
					lines = append(lines, line)
				}
				break
			}
			lines = append(lines, line)
		}
		text := strings.Join(lines, "\n")

		id++
		entries = append(entries, model.Entry{
			ID:       id,
			StartMS:  startMS,
			EndMS:    endMS,
			Original: text,
			Tags:     extractTags(text),
		})
	}
	return entries, nil
}

// extractTags finds positional formatting markers ("{\an8}", "<i>", ...) so
// the validator can confirm they survive translation verbatim (spec §3,
// §4.9.3).
func extractTags(text string) []model.FormatTag {
	matches := tagRe.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}
	tags := make([]model.FormatTag, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, model.FormatTag{Offset: m[0], Text: text[m[0]:m[1]]})
	}
	return tags
}

// Render reconstructs SRT text from translated (or pass-through) entries,
// matching the "To the SRT writer" shape of spec §6: raw_text replaced by
// translated text, tag positions preserved verbatim in that text.
func Render(entries []model.Entry) io.Reader {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%d\n", e.ID)
		fmt.Fprintf(&b, "%s --> %s\n", formatSRTTimestamp(e.StartMS), formatSRTTimestamp(e.EndMS))
		text := e.Translated
		if text == "" {
			text = e.Original
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	return strings.NewReader(b.String())
}

func parseSRTTimestamp(s string) (int64, error) {
	// HH:MM:SS,mmm
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return 0, errors.New("subtitle: malformed timestamp")
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	mnt, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	secMS := strings.SplitN(parts[2], ",", 2)
	if len(secMS) != 2 {
		return 0, errors.New("subtitle: malformed timestamp")
	}
	sec, err := strconv.Atoi(secMS[0])
	if err != nil {
		return 0, err
	}
	ms, err := strconv.Atoi(secMS[1])
	if err != nil {
		return 0, err
	}
	total := int64(h)*3600000 + int64(mnt)*60000 + int64(sec)*1000 + int64(ms)
	return total, nil
}

func formatSRTTimestamp(ms int64) string {
	h := ms / 3600000
	ms -= h * 3600000
	m := ms / 60000
	ms -= m * 60000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func readTrimmedLine(br *bufio.Reader) (line string, eof bool, err error) {
	s, err := br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			eof = true
		} else {
			return "", false, err
		}
	}
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return s, eof && s == "", nil
}
