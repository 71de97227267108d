package run

import (
	"fmt"
	"strings"

	"github.com/ondemand-ai/browser-agent/internal/llm"
)

// StepMemory keeps a short rolling history of executed actions for the model
// and detects loops, both a single action repeated back-to-back and a
// repeating two-action pattern (A -> B, A -> B).
type StepMemory struct {
	lines    []string
	maxLines int

	lastActionKey string
	repeatCount   int
	loopThreshold int

	recentKeys    []string
	maxRecent     int
	patternLen    int
	patternCounts map[string]int
}

func NewStepMemory(maxLines, loopThreshold int) *StepMemory {
	if maxLines <= 0 {
		maxLines = 5
	}
	if loopThreshold <= 1 {
		loopThreshold = 2
	}
	return &StepMemory{
		maxLines:      maxLines,
		loopThreshold: loopThreshold,
		maxRecent:     10,
		patternLen:    2,
		patternCounts: make(map[string]int),
	}
}

// makeKey identifies an action well enough to spot "pressing the same button
// on the same page": type + URL + target.
func (m *StepMemory) makeKey(url string, action llm.Action) string {
	return fmt.Sprintf("%s|%s|%d", action.Type, url, action.TargetID)
}

// Add records a successfully executed action and updates repeat and pattern
// counters.
func (m *StepMemory) Add(step int, url string, action llm.Action) {
	line := fmt.Sprintf(
		"step=%d url=%s action=%s target=%d text=%q",
		step, url, action.Type, action.TargetID, action.Text,
	)
	m.appendLine(line)

	key := m.makeKey(url, action)
	if key == m.lastActionKey {
		m.repeatCount++
	} else {
		m.lastActionKey = key
		m.repeatCount = 1
	}

	m.recentKeys = append(m.recentKeys, key)
	if len(m.recentKeys) > m.maxRecent {
		m.recentKeys = m.recentKeys[len(m.recentKeys)-m.maxRecent:]
	}

	if len(m.recentKeys) >= m.patternLen {
		start := len(m.recentKeys) - m.patternLen
		pattern := strings.Join(m.recentKeys[start:], "->")
		m.patternCounts[pattern]++
	}
}

// ShouldBlock reports whether executing this action would continue a loop,
// with a note for the model explaining why.
func (m *StepMemory) ShouldBlock(url string, action llm.Action) (bool, string) {
	// Scroll and finish never loop in a harmful way.
	if action.Type == llm.ActionScroll || action.Type == llm.ActionFinish {
		return false, ""
	}

	key := m.makeKey(url, action)

	if key == m.lastActionKey && m.repeatCount >= m.loopThreshold {
		return true, fmt.Sprintf(
			"SYSTEM NOTE: The same action (%s) has already been executed %d times in a row. "+
				"Do NOT repeat it. Choose a different action or finish if the goal is already achieved.",
			key, m.repeatCount,
		)
	}

	if len(m.recentKeys) >= m.patternLen-1 {
		start := len(m.recentKeys) - (m.patternLen - 1)
		seq := append(append([]string{}, m.recentKeys[start:]...), key)
		pattern := strings.Join(seq, "->")
		if m.patternCounts[pattern] >= 1 {
			return true, fmt.Sprintf(
				"SYSTEM NOTE: The action sequence (%s) has already occurred before. "+
					"Do NOT repeat this pattern. Try a different action or finish.",
				pattern,
			)
		}
	}

	return false, ""
}

// AddSystemNote injects a note into the history shown to the model.
func (m *StepMemory) AddSystemNote(note string) {
	if strings.TrimSpace(note) == "" {
		return
	}
	m.appendLine(note)
}

func (m *StepMemory) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > m.maxLines {
		m.lines = m.lines[len(m.lines)-m.maxLines:]
	}
}

// HistoryString renders the rolling window for the decision prompt.
func (m *StepMemory) HistoryString() string {
	return strings.Join(m.lines, "\n")
}
