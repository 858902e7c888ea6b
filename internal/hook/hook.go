// Package hook implements the host agent runtime's hook invocation contract:
// JSON input on stdin, JSON decision output on stdout.
//
// Field names are host-defined and have drifted across host versions, so
// parsing is defensive: every logical field is read through its known aliases
// and absent fields default rather than fail.
package hook

import (
	"encoding/json"
	"io"
	"strings"
)

// Input is the parsed lifecycle event from the host.
type Input struct {
	SessionID      string
	StopHookActive bool
	ToolName       string
	ToolInput      map[string]interface{}
	ToolResponse   string
}

// rawInput captures every known alias for each logical field.
type rawInput struct {
	SessionID       string                 `json:"session_id"`
	SessionIDAlt    string                 `json:"sessionId"`
	StopHookActive  bool                   `json:"stop_hook_active"`
	StopHookActive2 bool                   `json:"stopHookActive"`
	ToolName        string                 `json:"tool_name"`
	ToolNameAlt     string                 `json:"toolName"`
	ToolInput       map[string]interface{} `json:"tool_input"`
	ToolInputAlt    map[string]interface{} `json:"toolInput"`
	ToolResponse    json.RawMessage        `json:"tool_response"`
	ToolResponseAlt json.RawMessage        `json:"toolResponse"`
}

// ParseInput reads a hook event from r. A malformed or empty payload yields
// the zero Input; hooks must never crash on host input.
func ParseInput(r io.Reader) Input {
	var raw rawInput
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Input{}
	}

	in := Input{
		SessionID:      firstNonEmpty(raw.SessionID, raw.SessionIDAlt),
		StopHookActive: raw.StopHookActive || raw.StopHookActive2,
		ToolName:       firstNonEmpty(raw.ToolName, raw.ToolNameAlt),
		ToolInput:      raw.ToolInput,
	}
	if in.ToolInput == nil {
		in.ToolInput = raw.ToolInputAlt
	}

	resp := raw.ToolResponse
	if len(resp) == 0 {
		resp = raw.ToolResponseAlt
	}
	in.ToolResponse = flattenResponse(resp)

	return in
}

// flattenResponse renders a tool response to plain text. The host sends either
// a string or an object with a content list of text blocks.
func flattenResponse(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj.Content) == 0 {
		return string(raw)
	}

	var text string
	if err := json.Unmarshal(obj.Content, &text); err == nil {
		return text
	}

	var blocks []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(obj.Content, &blocks); err == nil {
		parts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, " ")
	}

	return string(obj.Content)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Output is the decision returned to the host. Decision nil means
// allow-terminate; "block" feeds Reason back to the agent turn.
type Output struct {
	Decision      *string                `json:"decision"`
	Reason        string                 `json:"reason,omitempty"`
	SystemMessage string                 `json:"systemMessage,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Allow builds an allow-terminate output with an optional system message.
func Allow(systemMessage string) Output {
	return Output{SystemMessage: systemMessage}
}

// Block builds a block-terminate output with a reason fed back to the agent.
func Block(reason string) Output {
	d := "block"
	return Output{Decision: &d, Reason: reason}
}

// Blocked reports whether o blocks termination.
func (o Output) Blocked() bool {
	return o.Decision != nil && *o.Decision == "block"
}

// Write encodes o to w as a single JSON document.
func (o Output) Write(w io.Writer) error {
	return json.NewEncoder(w).Encode(o)
}
