// Command mockexecutor is a deterministic stand-in for the real child
// executor the Executor Adapter (internal/execadapter) spawns. Spec §6
// places the actual executor binary out of scope; this exists so the
// engine has something real to drive in development and in
// test/integration, the way the teacher's cmd/worker/main.go ships example
// TaskHandlers for its own executor surface.
//
// Protocol: invoked as `mockexecutor <prompt>`. It prints a short tagged
// transcript to stdout, then one final line prefixed by
// "@@EXECUTOR_RESULT@@ " carrying the run's structured outcome as JSON —
// the sentinel internal/execadapter.Adapter parses to build an
// ExecutorResult. The outcome is selected deterministically from the
// prompt text, so test/integration scenarios can request any ending
// without a real model in the loop:
//
//	prompt contains "BLOCK ME"       -> BLOCKED
//	prompt contains "FAIL ME"        -> non-zero exit, no sentinel
//	prompt contains "NEVER FINISH"   -> sleeps past the caller's deadline
//	prompt contains "User reply:"    -> COMPLETE, acknowledges the reply
//	                                     (a resumed task is appended this
//	                                     marker by the scheduler; checked
//	                                     before "ASK ME" so a second pass
//	                                     over the same prompt answers
//	                                     instead of asking again)
//	prompt contains "Address every item above" (the Review Loop's
//	                 re-prompt marker) and no earlier case matched
//	                                 -> COMPLETE with file evidence, so a
//	                                     prompt with no TOUCH directive
//	                                     fails review once (no evidence)
//	                                     and self-corrects on the re-prompt
//	prompt contains "ASK ME"         -> COMPLETE with a trailing question
//	prompt contains "TOUCH <path>"   -> COMPLETE, files_modified: [path]
//	anything else                    -> COMPLETE
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

type result struct {
	Status        string   `json:"status"`
	Output        string   `json:"output"`
	FilesModified []string `json:"files_modified,omitempty"`
	BlockedReason string   `json:"blocked_reason,omitempty"`
	Error         string   `json:"error,omitempty"`
}

func main() {
	prompt := ""
	if len(os.Args) > 1 {
		prompt = os.Args[1]
	}

	fmt.Printf("mockexecutor: starting run for prompt %q\n", truncate(prompt, 80))

	switch {
	case strings.Contains(prompt, "FAIL ME"):
		fmt.Println("mockexecutor: simulating a hard failure")
		fmt.Fprintln(os.Stderr, "mockexecutor: fatal: simulated executor crash")
		os.Exit(1)

	case strings.Contains(prompt, "NEVER FINISH"):
		fmt.Println("mockexecutor: simulating a run that never reports back")
		time.Sleep(10 * time.Minute)

	case strings.Contains(prompt, "BLOCK ME"):
		fmt.Println("mockexecutor: encountered a destructive operation, stopping for approval")
		emit(result{Status: "BLOCKED", Output: "destructive operation requires approval", BlockedReason: "irreversible file deletion"})

	case strings.Contains(prompt, "User reply:"):
		reply := strings.TrimSpace(strings.SplitN(prompt, "User reply:", 2)[1])
		fmt.Printf("mockexecutor: resuming with reply %q\n", truncate(reply, 80))
		if path, ok := touchTarget(prompt); ok {
			if err := writeTouch(path); err != nil {
				emit(result{Status: "ERROR", Error: err.Error()})
				return
			}
			emit(result{Status: "COMPLETE", Output: "proceeded with: " + reply, FilesModified: []string{path}})
			return
		}
		emit(result{Status: "COMPLETE", Output: "proceeded with: " + reply})

	case strings.Contains(prompt, "Address every item above"):
		path, ok := touchTarget(prompt)
		if !ok {
			path = "review-fix.txt"
		}
		fmt.Printf("mockexecutor: addressing review feedback, writing %s\n", path)
		if err := writeTouch(path); err != nil {
			emit(result{Status: "ERROR", Error: err.Error()})
			return
		}
		emit(result{Status: "COMPLETE", Output: "wrote " + path, FilesModified: []string{path}})

	case strings.Contains(prompt, "ASK ME"):
		fmt.Println("mockexecutor: work requires clarification")
		emit(result{Status: "COMPLETE", Output: "Which environment should this target: staging or production?"})

	case strings.Contains(prompt, "TOUCH "):
		path, _ := touchTarget(prompt)
		fmt.Printf("mockexecutor: writing %s\n", path)
		if err := writeTouch(path); err != nil {
			emit(result{Status: "ERROR", Error: err.Error()})
			return
		}
		emit(result{Status: "COMPLETE", Output: "wrote " + path, FilesModified: []string{path}})

	default:
		fmt.Println("mockexecutor: doing the work")
		emit(result{Status: "COMPLETE", Output: "done: " + prompt})
	}
}

func emit(r result) {
	payload, err := json.Marshal(r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mockexecutor: failed to marshal result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("@@EXECUTOR_RESULT@@ " + string(payload))
}

// touchTarget extracts the path following the first "TOUCH " marker in
// prompt, if any.
func touchTarget(prompt string) (string, bool) {
	idx := strings.Index(prompt, "TOUCH ")
	if idx == -1 {
		return "", false
	}
	rest := prompt[idx+len("TOUCH "):]
	path := strings.TrimSpace(strings.SplitN(rest, "\n", 2)[0])
	path = strings.TrimSpace(strings.SplitN(path, ",", 2)[0])
	return path, path != ""
}

func writeTouch(path string) error {
	return os.WriteFile(path, []byte("mockexecutor output\n"), 0o644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
