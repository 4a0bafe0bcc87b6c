package headless

import "testing"

func TestParseLineAssistantTextFromMessageContent(t *testing.T) {
	line := []byte(`{"type":"assistant","session_id":"abc","message":{"content":[{"type":"text","text":"hello there"}]}}`)
	got, ok := parseLine(line)
	if !ok {
		t.Fatalf("expected ok")
	}
	if !got.HasAssistantText || got.AssistantText != "hello there" {
		t.Fatalf("got %+v", got)
	}
	if !got.HasSessionID || got.SessionID != "abc" {
		t.Fatalf("expected session id captured, got %+v", got)
	}
}

func TestParseLineLongestCandidateWins(t *testing.T) {
	line := []byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"short"}]},"delta":{"type":"text_delta","text":"a much longer delta text here"}}`)
	got, ok := parseLine(line)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.AssistantText != "a much longer delta text here" {
		t.Fatalf("expected longest candidate, got %q", got.AssistantText)
	}
}

func TestParseLineResultBareString(t *testing.T) {
	line := []byte(`{"type":"result","result":"final answer","input_tokens":10,"output_tokens":20}`)
	got, ok := parseLine(line)
	if !ok {
		t.Fatalf("expected ok")
	}
	if !got.IsResult {
		t.Fatalf("expected IsResult")
	}
	if got.AssistantText != "final answer" {
		t.Fatalf("got %q", got.AssistantText)
	}
	if got.InputTokens != 10 || got.OutputTokens != 20 {
		t.Fatalf("got %+v", got)
	}
}

func TestParseLineResultObject(t *testing.T) {
	line := []byte(`{"type":"result","result":{"text":"","summary":"summarized result"}}`)
	got, ok := parseLine(line)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.AssistantText != "summarized result" {
		t.Fatalf("got %q", got.AssistantText)
	}
}

func TestParseLineMalformedSkipped(t *testing.T) {
	_, ok := parseLine([]byte(`not json`))
	if ok {
		t.Fatalf("expected malformed line to be rejected")
	}
}

func TestParseLineNoAssistantText(t *testing.T) {
	line := []byte(`{"type":"system"}`)
	got, ok := parseLine(line)
	if !ok {
		t.Fatalf("expected ok for structurally valid line")
	}
	if got.HasAssistantText {
		t.Fatalf("expected no assistant text, got %+v", got)
	}
}
