package interfaces

import (
	"context"
	"fmt"
)

// FakeTranscriber returns a fixed transcript regardless of input audio.
// Used by tests that exercise the agent event pipeline without a real STT
// vendor.
type FakeTranscriber struct {
	Transcript string
	Err        error
}

func (f *FakeTranscriber) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	return f.Transcript, nil
}

// FakeSynthesizer returns a deterministic audio payload derived from the
// input text length, so tests can assert on duration estimation without a
// real TTS vendor.
type FakeSynthesizer struct {
	Err error
}

func (f *FakeSynthesizer) Synthesize(ctx context.Context, text string) (SynthesisResult, error) {
	if f.Err != nil {
		return SynthesisResult{}, f.Err
	}
	return SynthesisResult{
		AudioBase64: fmt.Sprintf("fake-audio(%d bytes)", len(text)),
		Format:      "mp3",
	}, nil
}

// FakeLLMClient echoes the prompt with a fixed prefix. Used to exercise
// the "agent" session type path without a real LLM vendor.
type FakeLLMClient struct {
	Prefix string
	Err    error
}

func (f *FakeLLMClient) Complete(ctx context.Context, prompt string, history []Turn) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	prefix := f.Prefix
	if prefix == "" {
		prefix = "echo: "
	}
	return prefix + prompt, nil
}
