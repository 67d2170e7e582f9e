package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/skylattice/orbit/internal/cache"
	"github.com/skylattice/orbit/internal/contextwin"
	"github.com/skylattice/orbit/internal/executor"
	"github.com/skylattice/orbit/internal/models"
)

// Synthesis sampling parameters; part of the completion cache key, so two
// deployments with the same model reuse each other's answers.
const (
	synthTemperature = 0.7
	synthMaxTokens   = 1024
)

// trailingTurns bounds how much raw history the synthesis prompt carries.
const trailingTurns = 3

// synthesize turns tool outputs into the final reply with one model call,
// served through the completion cache when one is wired.
func (a *Agent) synthesize(ctx context.Context, sessionID, message string, res *executor.Result) (string, error) {
	prompt := buildSynthesisPrompt(message, res, a.trailingHistory(sessionID))

	produce := func(ctx context.Context) (any, error) {
		return models.Complete(ctx, a.deps.Model, a.cfg.SystemPrompt, prompt)
	}

	if a.deps.Completions == nil {
		reply, err := produce(ctx)
		if err != nil {
			return "", err
		}
		return reply.(string), nil
	}

	key := cache.CompletionKey(prompt, a.cfg.ModelName, synthTemperature, synthMaxTokens, 1, 0, 0)
	ttl := cache.CompletionTTLFor(prompt)

	var raw []byte
	var err error
	if synthTemperature > cache.CompletionTempBypass {
		// Too random to serve from cache; still write through.
		raw, err = a.deps.Completions.ComputeAndStore(ctx, key, produce, ttl)
	} else {
		raw, _, err = a.deps.Completions.GetOrCompute(ctx, key, produce, ttl)
	}
	if err != nil {
		return "", err
	}
	return cache.Decode[string](raw)
}

// trailingHistory returns the last few turns before the current user
// message, summaries excluded.
func (a *Agent) trailingHistory(sessionID string) []contextwin.Turn {
	turns := a.deps.Window.GetContextForLLM(sessionID, false)
	if len(turns) > 0 {
		turns = turns[:len(turns)-1] // current user message is in the prompt already
	}
	if len(turns) > trailingTurns {
		turns = turns[len(turns)-trailingTurns:]
	}
	return turns
}

func buildSynthesisPrompt(message string, res *executor.Result, history []contextwin.Turn) string {
	var b strings.Builder

	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, t := range history {
			fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "User request: %s\n\n", message)

	if len(res.Results) > 0 {
		data, err := json.Marshal(res.Results)
		if err == nil {
			fmt.Fprintf(&b, "Gathered information (JSON):\n%s\n\n", data)
		}
	}

	if len(res.Errors) > 0 {
		failed := make([]string, 0, len(res.Errors))
		for name := range res.Errors {
			failed = append(failed, name)
		}
		sort.Strings(failed)
		fmt.Fprintf(&b, "Some lookups failed and produced no data: %s. Answer helpfully with what is available and say what is missing.\n\n",
			strings.Join(failed, ", "))
	}

	b.WriteString("Write the reply to the user. Be concise and natural. Do not mention tool names or internal mechanics.")
	return b.String()
}
