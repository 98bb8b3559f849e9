package agent

import (
	"hash/fnv"
	"strings"
	"time"
)

// Completion analysis thresholds. A score at or above endThreshold ends
// the loop; at or above autoCompleteThreshold the task is also marked
// complete, unless the agent role forbids it.
const (
	endThreshold          = 0.7
	autoCompleteThreshold = 0.8

	// patternRepeatMin is how many times a normalized response must
	// recur before the repetition signal fires.
	patternRepeatMin = 2
	// patternMapLimit bounds the pattern counter map.
	patternMapLimit = 10

	// inactivityWindow is how long without fresh external input counts
	// as sustained inactivity.
	inactivityWindow = 2 * time.Minute

	// shortResponseLimit is the byte length under which a response with
	// no tool usage reads as a sign-off.
	shortResponseLimit = 100
)

var completionPhrases = []string{
	"task complete",
	"task is complete",
	"i have completed",
	"i've completed",
	"work is done",
	"all done",
	"finished the task",
	"successfully completed",
}

var waitingPhrases = []string{
	"let me know",
	"waiting for",
	"feel free to",
	"if you need anything",
	"if you have any",
	"happy to help",
}

// completionAnalyzer scores assistant responses for signs the task is
// finished. State accumulates across iterations of one loop run and is
// reset when a new task is installed.
type completionAnalyzer struct {
	patterns     map[uint64]int
	patternOrder []uint64
	scores       []float64
	lastInput    time.Time
	now          func() time.Time
}

func newCompletionAnalyzer() *completionAnalyzer {
	return &completionAnalyzer{
		patterns: make(map[uint64]int),
		now:      time.Now,
	}
}

// markInput records fresh external input, resetting the inactivity
// signal.
func (c *completionAnalyzer) markInput() {
	c.lastInput = c.now()
}

// reset clears accumulated state for a new task.
func (c *completionAnalyzer) reset() {
	c.patterns = make(map[uint64]int)
	c.patternOrder = nil
	c.scores = nil
	c.lastInput = c.now()
}

// analyze scores one assistant response. Only called for iterations
// that produced no tool calls.
func (c *completionAnalyzer) analyze(text string, usedTools bool) float64 {
	lower := strings.ToLower(text)
	score := 0.0

	for _, phrase := range completionPhrases {
		if strings.Contains(lower, phrase) {
			score += 0.3
			break
		}
	}
	for _, phrase := range waitingPhrases {
		if strings.Contains(lower, phrase) {
			score += 0.2
			break
		}
	}
	if c.recordPattern(lower) >= patternRepeatMin {
		score += 0.3
	}
	if !c.lastInput.IsZero() && c.now().Sub(c.lastInput) >= inactivityWindow {
		score += 0.2
	}
	if len(text) < shortResponseLimit && !usedTools {
		score += 0.1
	}

	c.scores = append(c.scores, score)
	if n := len(c.scores); n >= 3 {
		last3 := c.scores[n-3:]
		if last3[0] < last3[1] && last3[1] < last3[2] {
			score += 0.1
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// recordPattern counts recurrences of a normalized response. The map
// bound is enforced after the count so a response seen just before
// eviction still registers.
func (c *completionAnalyzer) recordPattern(lower string) int {
	h := fnv.New64a()
	h.Write([]byte(strings.Join(strings.Fields(lower), " ")))
	key := h.Sum64()

	if _, seen := c.patterns[key]; !seen {
		c.patternOrder = append(c.patternOrder, key)
	}
	c.patterns[key]++
	count := c.patterns[key]

	for len(c.patternOrder) > patternMapLimit {
		oldest := c.patternOrder[0]
		c.patternOrder = c.patternOrder[1:]
		delete(c.patterns, oldest)
	}
	return count
}
