package session

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/internal/domain/commonModels"
	"github.com/akolanti/GoRAG/internal/domain/ragErrors"
	"github.com/akolanti/GoRAG/internal/rag/vectorDB"
)

// Prompt is what the model is asked. Chunks holds the context that made it in, in rank order,
// so citations can be built from exactly what the model saw.
type Prompt struct {
	System  string
	Text    string
	Chunks  []vectorDB.Match
	History int
	Tokens  int
}

type Assembler struct {
	system string
	budget int
}

func NewAssembler(settings config.PromptSettings) *Assembler {
	a := &Assembler{system: settings.SystemInstruction, budget: settings.TokenBudget}
	if a.system == "" {
		a.system = config.SystemInstruction
	}
	if a.budget <= 0 {
		a.budget = config.PromptTokenBudget
	}
	return a
}

// EstimateTokens approximates a token count as a quarter of the rune count.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// Assemble packs the instruction and the message, then as many chunks as fit in rank order,
// then as many prior messages as fit, newest first. History is written oldest first.
func (a *Assembler) Assemble(message string, history []commonModels.ChatMessage, chunks []vectorDB.Match) (Prompt, error) {
	question := "Question: " + message
	used := EstimateTokens(a.system) + EstimateTokens(question)
	if used > a.budget {
		return Prompt{}, ragErrors.Ef(ragErrors.CodeInvalidRequest, "session.Assemble", nil,
			"The message is too long, keep it under about %d characters", (a.budget-EstimateTokens(a.system))*4)
	}

	var blocks []string
	var kept []vectorDB.Match
	for _, m := range chunks {
		block := fmt.Sprintf("[%d] (document: %s, page: %d)\n%s", len(kept)+1, m.Chunk.DocumentId, m.Chunk.PageNum, m.Chunk.Text)
		cost := EstimateTokens(block)
		if used+cost > a.budget {
			break
		}
		used += cost
		blocks = append(blocks, block)
		kept = append(kept, m)
	}

	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := EstimateTokens(turnLine(history[i]))
		if used+cost > a.budget {
			break
		}
		used += cost
		start = i
	}

	var b strings.Builder
	if len(blocks) > 0 {
		b.WriteString("Context:\n")
		b.WriteString(strings.Join(blocks, "\n\n"))
		b.WriteString("\n\n")
	}
	if start < len(history) {
		b.WriteString("Conversation so far:\n")
		for _, m := range history[start:] {
			b.WriteString(turnLine(m))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(question)

	return Prompt{
		System:  a.system,
		Text:    b.String(),
		Chunks:  kept,
		History: len(history) - start,
		Tokens:  used,
	}, nil
}

func turnLine(m commonModels.ChatMessage) string {
	return string(m.Role) + ": " + m.Content
}
