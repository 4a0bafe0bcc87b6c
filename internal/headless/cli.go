package headless

// Kind names the headless LLM CLI a session runs.
type Kind string

const (
	KindClaude Kind = "claude"
	KindCursor Kind = "cursor"
)

// ContinuationFlag selects how a headless CLI resumes a prior
// conversation. spec.md §9 leaves the correct flag an open question
// between two CLI invocations observed in the sources; we default to
// "--resume" and keep "--session-id" available without a code change
// (DESIGN.md Open Question 1).
type ContinuationFlag string

const (
	ContinuationResume    ContinuationFlag = "--resume"
	ContinuationSessionID ContinuationFlag = "--session-id"
)

// Config controls how headless CLIs are located and invoked. The binary
// and extra-args fields are sourced from the spec.md §6 environment
// variables when built via internal/config; Continuation and
// CompletionDeadlineSeconds have no environment variable and fall back to
// "--resume" and 60 when left zero.
type Config struct {
	ClaudeBin        string // CLAUDE_HEADLESS_BIN, default "claude"
	CursorBin        string // CURSOR_HEADLESS_BIN, default "cursor-agent"
	ClaudeExtraArgs  []string // CLAUDE_HEADLESS_EXTRA_ARGS
	CursorExtraArgs  []string // CURSOR_HEADLESS_EXTRA_ARGS
	Continuation     ContinuationFlag
	CompletionDeadlineSeconds int // default 60, DESIGN.md Open Question 4
}

func (c Config) binFor(kind Kind) string {
	switch kind {
	case KindClaude:
		if c.ClaudeBin != "" {
			return c.ClaudeBin
		}
		return "claude"
	case KindCursor:
		if c.CursorBin != "" {
			return c.CursorBin
		}
		return "cursor-agent"
	default:
		return string(kind)
	}
}

func (c Config) extraArgsFor(kind Kind) []string {
	switch kind {
	case KindClaude:
		return c.ClaudeExtraArgs
	case KindCursor:
		return c.CursorExtraArgs
	default:
		return nil
	}
}

func (c Config) continuation() ContinuationFlag {
	if c.Continuation != "" {
		return c.Continuation
	}
	return ContinuationResume
}

func (c Config) deadlineSeconds() int {
	if c.CompletionDeadlineSeconds > 0 {
		return c.CompletionDeadlineSeconds
	}
	return 60
}

// buildArgs constructs argv (excluding the binary itself) per spec.md
// §4.7's exact per-CLI shapes.
func buildArgs(kind Kind, cfg Config, prompt, cliSessionID string) []string {
	var args []string
	switch kind {
	case KindCursor:
		args = []string{"--output-format", "stream-json", "--print"}
		if cliSessionID != "" {
			args = append(args, string(cfg.continuation()), cliSessionID)
		}
		args = append(args, prompt)
	case KindClaude:
		args = []string{"--verbose", "--print", "-p", prompt, "--output-format", "stream-json"}
		if cliSessionID != "" {
			args = append(args, string(cfg.continuation()), cliSessionID)
		}
	}
	return append(args, cfg.extraArgsFor(kind)...)
}

// terminationGraceMS is how long, in milliseconds, to wait after SIGTERM, honoring the
// CLI's own session lock, before escalating to SIGKILL (spec.md §4.7).
func terminationGraceMS(kind Kind) int {
	switch kind {
	case KindClaude:
		return 1500
	case KindCursor:
		return 500
	default:
		return 500
	}
}
