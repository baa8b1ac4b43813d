package review

import (
	"strings"
)

// PromptParts are the inputs of BuildPrompt.
type PromptParts struct {
	// Context is the workflow's shared context. Omitted when blank.
	Context string

	// Step supplies the sub-heading and optional description.
	Step Step

	// Instructions is the step's prompt text, included verbatim.
	Instructions string

	Input Input
}

// BuildPrompt assembles the text sent to the reasoning service for one step.
//
// Sections appear in a fixed order:
//
//	## Shared Context      (only when the context is not blank)
//	## Review Instructions (step name, description, instructions)
//	## Input              (payload in a fence tagged with the input kind)
//
// The fence is one backtick longer than the longest backtick run in the
// payload, so a payload containing ``` cannot terminate it early.
func BuildPrompt(p PromptParts) string {
	var b strings.Builder

	if shared := strings.TrimSpace(p.Context); shared != "" {
		b.WriteString("## Shared Context\n\n")
		b.WriteString(shared)
		b.WriteString("\n")
		b.WriteString("\n")
	}

	b.WriteString("## Review Instructions\n\n")
	b.WriteString("### ")
	b.WriteString(p.Step.Name)
	b.WriteString("\n\n")
	if desc := strings.TrimSpace(p.Step.Description); desc != "" {
		b.WriteString(desc)
		b.WriteString("\n\n")
	}
	b.WriteString(p.Instructions)
	ensureTrailingNewline(&b, p.Instructions)
	b.WriteString("\n")

	fence := strings.Repeat("`", longestBacktickRun(p.Input.Content)+1)
	if len(fence) < 3 {
		fence = "```"
	}
	b.WriteString("## Input\n\n")
	b.WriteString(fence)
	b.WriteString(p.Input.kind())
	b.WriteString("\n")
	b.WriteString(p.Input.Content)
	ensureTrailingNewline(&b, p.Input.Content)
	b.WriteString(fence)
	b.WriteString("\n")

	return b.String()
}

func ensureTrailingNewline(b *strings.Builder, s string) {
	if s != "" && !strings.HasSuffix(s, "\n") {
		b.WriteString("\n")
	}
}

func longestBacktickRun(s string) int {
	longest, run := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] == '`' {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 0
	}
	return longest
}
