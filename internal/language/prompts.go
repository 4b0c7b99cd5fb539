package language

import "fmt"

func extractFieldPrompt(field, description string) string {
	extra := ""
	if field == "phone" {
		extra = `
- Para telefones aceite DDD + 8 dígitos ou DDD + 9 dígitos, com ou sem formatação.
- Exemplos válidos: "4896949571", "48996949571", "(48) 9694-9571", "48 9694 9571".
- Retorne apenas os dígitos.`
	}
	return fmt.Sprintf(`Você extrai dados de mensagens de clientes.

Campo: %s
Descrição: %s

Regras:
- Retorne apenas o valor do campo, sem texto adicional.
- Se a mensagem não contiver o campo, retorne value vazio.%s`, field, description, extra)
}

func detectQuestionPrompt(fieldKind string) string {
	return fmt.Sprintf(`Você é um analisador de intenção de mensagens. Determine se o usuário está fazendo uma pergunta/objeção OU fornecendo o dado solicitado.

Dado solicitado: %s

Exemplos de PERGUNTAS/OBJEÇÕES:
- "oi?"
- "o que você faz?"
- "por que precisa disso?"
- "não quero dar meu email"
- "quem é você?"

Exemplos de DADOS FORNECIDOS:
- "João Silva" (para nome)
- "joao@email.com" (para email)
- "11987654321" (para telefone)
- "Meu nome é Maria"`, fieldKind)
}

func validateAnswerPrompt(question string) string {
	return fmt.Sprintf(`Você é um validador de respostas. Determine se a resposta do usuário é válida para a pergunta estratégica feita.

Pergunta feita: "%s"

Uma resposta VÁLIDA responde diretamente à pergunta, mesmo que seja negativa ("não", "ainda não", "nunca tentei") ou um pouco vaga.

Uma resposta INVÁLIDA é:
- apenas uma saudação ("oi", "olá", "tudo bem?")
- uma pergunta de volta ("por que pergunta isso?")
- genérica demais ("pode ser", "talvez", "não sei", "ok", "beleza")
- uma objeção ou recusa ("não quero responder")
- sem relação com a pergunta`, question)
}

var extractFieldSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"value": map[string]any{
			"type":        "string",
			"description": "Valor extraído ou string vazia",
		},
	},
	"required":             []string{"value"},
	"additionalProperties": false,
}

var questionCheckSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"isQuestion": map[string]any{
			"type":        "boolean",
			"description": "true se é uma pergunta/objeção, false se está fornecendo o dado",
		},
		"intent": map[string]any{
			"type":        "string",
			"description": "Descrição da intenção do usuário em português",
		},
	},
	"required":             []string{"isQuestion", "intent"},
	"additionalProperties": false,
}

var answerCheckSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"isValid": map[string]any{
			"type":        "boolean",
			"description": "true se a resposta é válida e responde à pergunta",
		},
		"reason": map[string]any{
			"type":        "string",
			"description": "Breve explicação do motivo",
		},
	},
	"required":             []string{"isValid", "reason"},
	"additionalProperties": false,
}
