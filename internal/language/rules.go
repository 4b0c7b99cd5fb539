package language

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

var (
	emailPattern = regexp.MustCompile(`[^\s@<>(),;:]+@[^\s@<>(),;:]+\.[^\s@<>(),;:]+`)
	namePrefixes = []string{
		"meu nome é", "meu nome e", "me chamo", "pode me chamar de", "eu sou o", "eu sou a",
		"eu sou", "sou o", "sou a", "aqui é o", "aqui é a", "aqui é", "é o", "é a",
	}
	questionOpeners = []string{
		"por que", "porque", "pra que", "para que", "o que", "quem", "como", "qual", "quais", "onde",
	}
	objectionMarkers = []string{
		"não quero", "nao quero", "prefiro não", "prefiro nao", "não vou", "nao vou", "não posso", "nao posso",
	}
	vagueAnswers = map[string]struct{}{
		"oi": {}, "olá": {}, "ola": {}, "ok": {}, "beleza": {}, "talvez": {}, "pode ser": {}, "não sei": {}, "nao sei": {}, "sei lá": {},
	}
)

// Rules is an offline Service backed by heuristics. It covers extraction and
// classification; free-text generation and tool use report ErrUnsupported so
// callers fall back to their fixed texts.
type Rules struct{}

var _ Service = Rules{}

// NewRules returns the heuristic provider.
func NewRules() Rules { return Rules{} }

// ExtractField implements Service.
func (Rules) ExtractField(_ context.Context, field, _, message string) (string, error) {
	message = strings.TrimSpace(message)
	switch field {
	case "email":
		return strings.Trim(emailPattern.FindString(message), "."), nil
	case "phone":
		digits := onlyDigits(message)
		if len(digits) > 11 && strings.HasPrefix(digits, "55") {
			digits = digits[2:]
		}
		if len(digits) == 10 || len(digits) == 11 {
			return digits, nil
		}
		return "", nil
	case "name":
		return extractName(message), nil
	default:
		return message, nil
	}
}

// DetectQuestionOrObjection implements Service.
func (Rules) DetectQuestionOrObjection(_ context.Context, message, _ string) (QuestionCheck, error) {
	lower := strings.ToLower(strings.TrimSpace(message))
	for _, m := range objectionMarkers {
		if strings.Contains(lower, m) {
			return QuestionCheck{IsQuestion: true, Intent: "objection"}, nil
		}
	}
	if strings.HasSuffix(lower, "?") {
		return QuestionCheck{IsQuestion: true, Intent: "question"}, nil
	}
	for _, q := range questionOpeners {
		if strings.HasPrefix(lower, q+" ") {
			return QuestionCheck{IsQuestion: true, Intent: "question"}, nil
		}
	}
	return QuestionCheck{IsQuestion: false, Intent: "providing_info"}, nil
}

// ValidateAnswer implements Service.
func (Rules) ValidateAnswer(_ context.Context, _, answer string) (AnswerCheck, error) {
	lower := strings.ToLower(strings.Trim(strings.TrimSpace(answer), ".!?"))
	if len([]rune(lower)) < 2 {
		return AnswerCheck{IsValid: false, Reason: "resposta muito curta"}, nil
	}
	if _, vague := vagueAnswers[lower]; vague {
		return AnswerCheck{IsValid: false, Reason: "resposta genérica demais"}, nil
	}
	if strings.HasSuffix(strings.TrimSpace(answer), "?") {
		return AnswerCheck{IsValid: false, Reason: "o usuário respondeu com uma pergunta"}, nil
	}
	return AnswerCheck{IsValid: true}, nil
}

// GenerateText implements Service.
func (Rules) GenerateText(context.Context, string, string, []ChatMessage) (string, error) {
	return "", ErrUnsupported
}

// Converse implements Service.
func (Rules) Converse(context.Context, []ChatMessage, []ToolDefinition) (ConverseResult, error) {
	return ConverseResult{}, ErrUnsupported
}

func extractName(message string) string {
	name := strings.Trim(message, " .!,;")
	lower := strings.ToLower(name)
	for _, p := range namePrefixes {
		if strings.HasPrefix(lower, p+" ") {
			name = strings.TrimSpace(name[len(p):])
			break
		}
	}
	if name == "" || strings.ContainsAny(name, "@?0123456789") {
		return ""
	}
	words := strings.Fields(name)
	if len(words) > 5 {
		return ""
	}
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		if len(r) > 2 || i == 0 {
			r[0] = unicode.ToUpper(r[0])
		}
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
