// Package interfaces declares the narrow seams between the core pipeline
// and the vendor-specific collaborators spec.md treats as external:
// speech-to-text, text-to-speech, and a direct LLM call for agent-type
// sessions that have no headless CLI backing them. No concrete vendor
// implementation lives here; only the interfaces the Agent Event Handler
// consumes, plus deterministic fakes for tests.
package interfaces

import "context"

// Transcriber converts recorded audio into text. Implementations talk to
// a concrete STT vendor; none ships in this repo.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// SynthesisResult is the output of a TTS call. DurationMS is optional —
// callers fall back to the chars/5/150wpm estimate in spec.md §4.10 when
// a synthesizer doesn't report it (DurationMS == 0).
type SynthesisResult struct {
	AudioBase64 string
	Format      string
	DurationMS  int
}

// Synthesizer converts text into speech audio. Implementations talk to a
// concrete TTS vendor; none ships in this repo. TTS is best-effort per
// spec.md §4.10 — callers must not fail a turn solely because Synthesize
// returned an error.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (SynthesisResult, error)
}

// LLMClient answers a prompt directly, without going through a headless
// CLI subprocess. Used for TerminalSession type "agent", which has no PTY
// and therefore no Cursor/Claude CLI to shell out to.
type LLMClient interface {
	Complete(ctx context.Context, prompt string, history []Turn) (string, error)
}

// Turn is one exchange in a direct-LLM conversation.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}
