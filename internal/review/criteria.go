// Package review implements the Review Loop (spec §4.E): it judges one
// executor run against the Q1–Q6 quality criteria (and the optional
// Goal-Drift GD1–GD5 criteria), decides PASS/REJECT/RETRY, and drives the
// bounded re-prompt iteration.
//
// Grounded on the teacher's task.RetryPolicy/Retryer shape
// (internal/task/retry.go) for the iterate-with-backoff pattern, adapted
// from numeric attempt counting onto named quality criteria and a
// generated modification prompt.
package review

import (
	"regexp"
	"strings"

	"github.com/taskorch/engine/internal/execadapter"
)

// Criterion identifies one quality check from §4.E.
type Criterion string

const (
	Q1FilesVerified      Criterion = "Q1_FILES_VERIFIED"
	Q2NoTodoMarkers      Criterion = "Q2_NO_TODO_MARKERS"
	Q3NoOmissionMarkers  Criterion = "Q3_NO_OMISSION_MARKERS"
	Q4NoIncompleteSyntax Criterion = "Q4_NO_INCOMPLETE_SYNTAX"
	Q5EvidencePresent    Criterion = "Q5_EVIDENCE_PRESENT"
	Q6NoEarlyTermination Criterion = "Q6_NO_EARLY_TERMINATION"
)

var todoMarkers = []string{"TODO", "FIXME", "TBD"}

var omissionMarkers = []string{"// 残り省略", "// etc.", "// 以下同様"}

// codeBlockOmissionMarker is the bare "..." elision the spec scopes to
// fenced code blocks only (§4.E Q3: "code-block `...`"); matching it
// against prose would reject any output containing an ordinary ellipsis.
const codeBlockOmissionMarker = "..."

var closingPhrases = []string{"完了しました", "以上です", "done", "all done", "finished"}

var fencedBlockRE = regexp.MustCompile("(?s)```.*?```")

// evaluateQ1 checks that every file in filesModified was verified, or that
// no files were expected at all.
func evaluateQ1(res *execadapter.Result) bool {
	if len(res.FilesModified) == 0 {
		return true
	}
	verified := make(map[string]bool, len(res.VerifiedFiles))
	for _, f := range res.VerifiedFiles {
		verified[f] = true
	}
	for _, f := range res.FilesModified {
		if !verified[f] {
			return false
		}
	}
	return true
}

func evaluateQ2(output string, previews []string) bool {
	haystacks := append([]string{output}, previews...)
	for _, h := range haystacks {
		upper := strings.ToUpper(h)
		for _, m := range todoMarkers {
			if strings.Contains(upper, m) {
				return false
			}
		}
	}
	return true
}

func evaluateQ3(output string, previews []string) bool {
	haystacks := append([]string{output}, previews...)
	for _, h := range haystacks {
		for _, m := range omissionMarkers {
			if strings.Contains(h, m) {
				return false
			}
		}
	}
	for _, block := range fencedBlockRE.FindAllString(output, -1) {
		if strings.Contains(block, codeBlockOmissionMarker) {
			return false
		}
	}
	return true
}

// evaluateQ4 checks bracket balance inside fenced code blocks only.
func evaluateQ4(output string, truncated bool) bool {
	if truncated {
		return false
	}
	for _, block := range fencedBlockRE.FindAllString(output, -1) {
		if !balanced(block, '{', '}') || !balanced(block, '[', ']') || !balanced(block, '(', ')') {
			return false
		}
	}
	return true
}

func balanced(s string, open, close rune) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case open:
			depth++
		case close:
			depth--
		}
		if depth < 0 {
			return false
		}
	}
	return depth == 0
}

func evaluateQ5(res *execadapter.Result) bool {
	if res.Status == execadapter.StatusNoEvidence {
		return false
	}
	if len(res.VerifiedFiles) > 0 {
		return true
	}
	return res.Executed && res.Status == execadapter.StatusComplete && len(res.FilesModified) > 0
}

func evaluateQ6(output string, verifiedFiles []string) bool {
	lower := strings.ToLower(output)
	for _, phrase := range closingPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return len(verifiedFiles) > 0
		}
	}
	return true
}

// Evaluate runs Q1–Q6 against an ExecutorResult and its file previews,
// returning the list of criteria that failed (empty means PASS-eligible).
func Evaluate(res *execadapter.Result, previews []string, truncated bool) []Criterion {
	var failed []Criterion
	if !evaluateQ1(res) {
		failed = append(failed, Q1FilesVerified)
	}
	if !evaluateQ2(res.Output, previews) {
		failed = append(failed, Q2NoTodoMarkers)
	}
	if !evaluateQ3(res.Output, previews) {
		failed = append(failed, Q3NoOmissionMarkers)
	}
	if !evaluateQ4(res.Output, truncated) {
		failed = append(failed, Q4NoIncompleteSyntax)
	}
	if !evaluateQ5(res) {
		failed = append(failed, Q5EvidencePresent)
	}
	if !evaluateQ6(res.Output, res.VerifiedFiles) {
		failed = append(failed, Q6NoEarlyTermination)
	}
	return failed
}
