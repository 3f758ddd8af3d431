package phrase

import (
	"strings"

	"github.com/androsja/Se-alyze/pkg/types"
)

// DefaultLocale is the target language of generated sentences.
const DefaultLocale = "es-CO"

// DefaultInstruction is the system instruction sent to every backend.
// {locale} is replaced with the configured locale.
const DefaultInstruction = "Eres un intérprete estricto de lengua de señas ({locale}). " +
	"Conecta estas palabras en una frase simple en español. " +
	"NO agregues información nueva. " +
	"Responde ÚNICAMENTE con la frase final, en una sola línea y sin comillas."

// Prompt renders the instruction and user message for a word sequence.
type Prompt struct {
	Instruction string
	Locale      string
}

// System returns the instruction with the locale substituted.
func (p Prompt) System() string {
	instr := p.Instruction
	if instr == "" {
		instr = DefaultInstruction
	}
	locale := p.Locale
	if locale == "" {
		locale = DefaultLocale
	}
	return strings.ReplaceAll(instr, "{locale}", locale)
}

// Messages returns the single user message listing the words in order.
func (p Prompt) Messages(words []string) []types.Message {
	return []types.Message{{
		Role:    "user",
		Content: "Palabras: " + strings.Join(words, ", "),
	}}
}

// cleanText normalises a model reply: first non-empty line, surrounding
// quotes and whitespace removed, inner runs of whitespace collapsed.
func cleanText(s string) string {
	for line := range strings.SplitSeq(s, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, "\"'`“”«»")
		line = strings.TrimSpace(line)
		if line != "" {
			return strings.Join(strings.Fields(line), " ")
		}
	}
	return ""
}
