package headless

import "encoding/json"

// ParsedLine is what one line of a headless CLI's stream-json output
// yields, per the Glossary definition of "assistant text": the
// user-facing text extracted from assistant.message.content[].text parts,
// or result.summary/result.text/result, or delta.text — the longest
// candidate wins when a single line offers more than one.
type ParsedLine struct {
	Type             string
	AssistantText    string
	HasAssistantText bool
	IsResult         bool
	SessionID        string
	HasSessionID     bool
	InputTokens      int
	OutputTokens     int
}

type rawLine struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Message   *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Result       *json.RawMessage `json:"result"`
	Summary      string           `json:"summary"`
	InputTokens  int              `json:"input_tokens"`
	OutputTokens int              `json:"output_tokens"`
}

// parseLine decodes one JSON line from a headless CLI's stdout. Malformed
// lines are not assistant text — they are silently skipped by the caller,
// the same way a corrupt WS frame is logged and dropped rather than
// killing the connection.
func parseLine(line []byte) (ParsedLine, bool) {
	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return ParsedLine{}, false
	}
	out := ParsedLine{Type: raw.Type}

	if raw.SessionID != "" {
		out.SessionID = raw.SessionID
		out.HasSessionID = true
	}

	if raw.Type == "result" {
		out.IsResult = true
		out.InputTokens = raw.InputTokens
		out.OutputTokens = raw.OutputTokens
	}

	best := ""
	consider := func(s string) {
		if len(s) > len(best) {
			best = s
		}
	}

	if raw.Message != nil {
		for _, block := range raw.Message.Content {
			if block.Type == "text" && block.Text != "" {
				consider(block.Text)
			}
		}
	}
	if raw.Delta != nil && raw.Delta.Type == "text_delta" && raw.Delta.Text != "" {
		consider(raw.Delta.Text)
	}
	if raw.Summary != "" {
		consider(raw.Summary)
	}
	if raw.Result != nil {
		consider(resultText(*raw.Result))
	}

	if best != "" {
		out.AssistantText = best
		out.HasAssistantText = true
	}

	return out, true
}

// resultText pulls a plain string out of a "result" field that may be a
// bare string, or an object carrying "text"/"summary".
func resultText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Text    string `json:"text"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Text != "" {
			return obj.Text
		}
		return obj.Summary
	}
	return ""
}
