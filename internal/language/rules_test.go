package language

import (
	"context"
	"errors"
	"testing"
)

func TestRulesExtractField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		field   string
		message string
		want    string
	}{
		{"name", "Meu nome é joão da silva", "João da Silva"},
		{"name", "Maria", "Maria"},
		{"name", "oi? quem é você", ""},
		{"email", "claro, é joao@example.com.", "joao@example.com"},
		{"email", "não tenho", ""},
		{"phone", "(11) 98765-4321", "11987654321"},
		{"phone", "+55 48 9694-9571", "4896949571"},
		{"phone", "123", ""},
	}

	rules := NewRules()
	for _, tt := range tests {
		got, err := rules.ExtractField(context.Background(), tt.field, "", tt.message)
		if err != nil {
			t.Fatalf("ExtractField(%q, %q) error = %v", tt.field, tt.message, err)
		}
		if got != tt.want {
			t.Errorf("ExtractField(%q, %q) = %q, want %q", tt.field, tt.message, got, tt.want)
		}
	}
}

func TestRulesDetectQuestionOrObjection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		message string
		want    bool
		intent  string
	}{
		{"por que você precisa disso?", true, "question"},
		{"não quero passar meu telefone", true, "objection"},
		{"quem fala", true, "question"},
		{"joao@example.com", false, "providing_info"},
	}

	for _, tt := range tests {
		got, _ := NewRules().DetectQuestionOrObjection(context.Background(), tt.message, "email")
		if got.IsQuestion != tt.want || got.Intent != tt.intent {
			t.Errorf("DetectQuestionOrObjection(%q) = %+v, want %v/%s", tt.message, got, tt.want, tt.intent)
		}
	}
}

func TestRulesValidateAnswer(t *testing.T) {
	t.Parallel()

	valid := []string{"Ainda não", "Precisamos gerar mais leads para a clínica"}
	invalid := []string{"ok", "oi!", "x", "por que pergunta isso?"}

	for _, a := range valid {
		got, _ := NewRules().ValidateAnswer(context.Background(), "Qual o seu desafio?", a)
		if !got.IsValid {
			t.Errorf("ValidateAnswer(%q) should be valid, reason %q", a, got.Reason)
		}
	}
	for _, a := range invalid {
		got, _ := NewRules().ValidateAnswer(context.Background(), "Qual o seu desafio?", a)
		if got.IsValid {
			t.Errorf("ValidateAnswer(%q) should be invalid", a)
		}
	}
}

func TestRulesGenerationUnsupported(t *testing.T) {
	t.Parallel()

	if _, err := NewRules().GenerateText(context.Background(), "", "", nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("GenerateText error = %v, want ErrUnsupported", err)
	}
	if _, err := NewRules().Converse(context.Background(), nil, nil); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Converse error = %v, want ErrUnsupported", err)
	}
}
