package subtitle

import (
	"fmt"
	"strconv"
	"strings"
)

// Cue is one timed block of subtitle text
type Cue struct {
	Index   int
	StartMs int64
	EndMs   int64
	Text    string
}

const vttHeader = "WEBVTT"

// ToSRT renders cues as an SRT document. Cues are numbered from 1 in order.
func ToSRT(cues []Cue) string {
	var b strings.Builder
	for i, cue := range cues {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n",
			i+1,
			FormatSRTTimestamp(cue.StartMs),
			FormatSRTTimestamp(cue.EndMs),
			cleanText(cue.Text),
		)
	}
	return b.String()
}

// ToVTT renders cues as a WebVTT document
func ToVTT(cues []Cue) string {
	var b strings.Builder
	b.WriteString(vttHeader)
	b.WriteString("\n")
	for _, cue := range cues {
		fmt.Fprintf(&b, "\n%s --> %s\n%s\n",
			FormatVTTTimestamp(cue.StartMs),
			FormatVTTTimestamp(cue.EndMs),
			cleanText(cue.Text),
		)
	}
	return b.String()
}

// ParseSRT parses an SRT document. Blocks without a timing line are rejected.
func ParseSRT(content string) ([]Cue, error) {
	var cues []Cue
	for n, block := range splitBlocks(content) {
		lines := strings.Split(block, "\n")
		if len(lines) > 0 && !strings.Contains(lines[0], "-->") {
			if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err == nil {
				lines = lines[1:]
			}
		}
		cue, err := parseCue(lines)
		if err != nil {
			return nil, fmt.Errorf("srt block %d: %w", n+1, err)
		}
		cue.Index = len(cues) + 1
		cues = append(cues, cue)
	}
	return cues, nil
}

// ParseVTT parses a WebVTT document, skipping the header, NOTE and STYLE blocks
// and optional cue identifiers.
func ParseVTT(content string) ([]Cue, error) {
	blocks := splitBlocks(content)
	if len(blocks) == 0 || !strings.HasPrefix(blocks[0], vttHeader) {
		return nil, fmt.Errorf("missing %s header", vttHeader)
	}

	var cues []Cue
	for n, block := range blocks[1:] {
		if strings.HasPrefix(block, "NOTE") || strings.HasPrefix(block, "STYLE") || strings.HasPrefix(block, "REGION") {
			continue
		}
		lines := strings.Split(block, "\n")
		if len(lines) > 0 && !strings.Contains(lines[0], "-->") {
			lines = lines[1:]
		}
		cue, err := parseCue(lines)
		if err != nil {
			return nil, fmt.Errorf("vtt block %d: %w", n+1, err)
		}
		cue.Index = len(cues) + 1
		cues = append(cues, cue)
	}
	return cues, nil
}

func parseCue(lines []string) (Cue, error) {
	if len(lines) == 0 {
		return Cue{}, fmt.Errorf("empty cue")
	}
	start, end, ok := strings.Cut(lines[0], "-->")
	if !ok {
		return Cue{}, fmt.Errorf("missing timing line")
	}

	startMs, err := ParseTimestamp(start)
	if err != nil {
		return Cue{}, err
	}
	// VTT allows cue settings after the end timestamp
	endFields := strings.Fields(end)
	if len(endFields) == 0 {
		return Cue{}, fmt.Errorf("missing end timestamp")
	}
	endMs, err := ParseTimestamp(endFields[0])
	if err != nil {
		return Cue{}, err
	}
	if endMs < startMs {
		return Cue{}, fmt.Errorf("cue ends before it starts")
	}

	return Cue{
		StartMs: startMs,
		EndMs:   endMs,
		Text:    strings.Join(lines[1:], "\n"),
	}, nil
}

func splitBlocks(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.TrimPrefix(content, "\ufeff")

	var blocks []string
	for _, block := range strings.Split(content, "\n\n") {
		block = strings.Trim(block, "\n")
		if strings.TrimSpace(block) != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// cleanText keeps cue text from terminating the block early
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimSpace(text), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
