package contextwin

import (
	"fmt"
	"strings"
)

const summaryHeader = "[Conversation summary]\n"

// buildSummarizePrompt renders the old messages into a summarization
// request with an explicit token budget.
func buildSummarizePrompt(old []MessageEntry, budget int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the following conversation in at most %d tokens.\n", budget)
	b.WriteString("Preserve: user goals, decisions made, actions taken and their outcomes, open questions.\n")
	b.WriteString("Drop: greetings, filler, repeated content.\n\n")
	for _, msg := range old {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return b.String()
}

// actionVerbs mark assistant sentences worth keeping in the rule-based
// digest.
var actionVerbs = []string{
	"created", "drafted", "scheduled", "sent", "updated",
	"found", "searched", "analyzed", "checked",
}

// ruleBasedDigest builds a summary without an LLM: user topics from the
// first sentence of each user message, assistant outcomes from sentences
// containing an action verb.
func ruleBasedDigest(old []MessageEntry) string {
	var topics, outcomes []string
	seenTopic := make(map[string]bool)

	for _, msg := range old {
		switch msg.Role {
		case RoleUser:
			topic := firstSentence(msg.Content)
			key := strings.ToLower(topic)
			if topic != "" && !seenTopic[key] {
				seenTopic[key] = true
				topics = append(topics, topic)
			}
		case RoleAssistant:
			for _, sentence := range splitSentences(msg.Content) {
				lower := strings.ToLower(sentence)
				for _, verb := range actionVerbs {
					if strings.Contains(lower, verb) {
						outcomes = append(outcomes, sentence)
						break
					}
				}
			}
		}
	}

	var b strings.Builder
	if len(topics) > 0 {
		b.WriteString("Topics discussed:\n")
		for _, t := range topics {
			b.WriteString("- " + t + "\n")
		}
	}
	if len(outcomes) > 0 {
		b.WriteString("Actions taken:\n")
		for _, o := range outcomes {
			b.WriteString("- " + o + "\n")
		}
	}
	if b.Len() == 0 {
		return fmt.Sprintf("Earlier conversation of %d messages, no notable actions.", len(old))
	}
	return b.String()
}

func firstSentence(text string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	return sentences[0]
}

func splitSentences(text string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	}) {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
