package models

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Complete performs a single non-streaming completion. system may be empty.
func Complete(ctx context.Context, m model.BaseChatModel, system, prompt string) (string, error) {
	var messages []*schema.Message
	if system != "" {
		messages = append(messages, schema.SystemMessage(system))
	}
	messages = append(messages, schema.UserMessage(prompt))

	resp, err := m.Generate(ctx, messages)
	if err != nil {
		return "", HandleError(err)
	}
	return resp.Content, nil
}

// CompleteJSON performs a completion and unmarshals the response into v.
// Models often wrap JSON in Markdown fences; those are stripped first.
func CompleteJSON(ctx context.Context, m model.BaseChatModel, system, prompt string, v any) error {
	content, err := Complete(ctx, m, system, prompt)
	if err != nil {
		return err
	}
	cleaned := StripFences(content)
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("parse model JSON: %w", err)
	}
	return nil
}

// StripFences removes a surrounding Markdown code fence, with or without a
// language tag. Text outside a fence is returned trimmed.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence line.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		return strings.TrimSpace(strings.TrimPrefix(s, "```"))
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
