package sanitize

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Markers holds the pattern lists that recognise upstream prompt and tool-call
// residue. Every list is tied to the upstream prompt template, so they are
// loadable from YAML instead of being compiled into the binary.
//
// Entries of InstructionKeys, Sentinels are literals. Every other list holds
// RE2 fragments that are combined into alternations.
type Markers struct {
	InstructionKeys      []string `yaml:"instruction_keys"`
	InstructionPhrases   []string `yaml:"instruction_phrases"`
	LeadLabels           []string `yaml:"lead_labels"`
	MetadataLabels       []string `yaml:"metadata_labels"`
	AnnouncementPatterns []string `yaml:"announcement_patterns"`
	ToolTraceOpeners     []string `yaml:"tool_trace_openers"`
	ToolTraceLabels      []string `yaml:"tool_trace_labels"`
	ToolResultKeys       []string `yaml:"tool_result_keys"`
	Sentinels            []string `yaml:"sentinels"`
}

// DefaultMarkers returns the marker lists matching the current upstream template.
func DefaultMarkers() Markers {
	return Markers{
		InstructionKeys: []string{
			"regras_inviolaveis", "regras-inviolaveis", "inviolable_rules", "inviolable-rules",
			"regras", "rules",
			"prompt", "system_prompt",
			"variaveis", "variables",
			"contexto", "context",
			"output_templates", "output-templates", "templates_de_saida",
			"frases_proibidas", "forbidden_phrases", "frases_permitidas", "allowed_phrases",
		},
		InstructionPhrases: []string{
			`(?i)\b(?:sempre|nunca|jamais)\s+(?:use|utilize|usar|diga|dizer|fale|falar|responda|responder|mencione|mencionar|envie|enviar|pergunte|perguntar|invente|inventar|ofere[çc]a|oferecer|cite|citar|inclua|incluir|mande|mandar|escreva|escrever|fa[çc]a|fazer|chame|chamar|trate|tratar|informe|informar|confirme|confirmar)\b[^.!?\n]*[.!?]?`,
			`(?i)\b(?:always|never)\s+(?:use|say|respond|reply|mention|send|ask|invent|offer|include|write|do|call|treat|inform|confirm)\b[^.!?\n]*[.!?]?`,
			`(?i)\b(?:voc[eê]|vc)\s+(?:deve|precisa|n[aã]o\s+pode)\s+(?:sempre|nunca|jamais)\b[^.!?\n]*[.!?]?`,
			`(?i)\bfrases?\s+(?:proibidas?|permitidas?|obrigat[oó]rias?)\s*:[^\n]*`,
			`(?i)\b(?:forbidden|allowed|required)\s+phrases?\s*:[^\n]*`,
			`\{\{[^{}\n]*\}\}`,
		},
		LeadLabels: []string{
			`mensagem\s+do\s+cliente\s*/\s*lead`,
			`mensagem\s+do\s+lead\s*/\s*cliente`,
			`mensagem\s+do\s+cliente`,
			`mensagem\s+do\s+lead`,
			`client\s+message`,
			`lead\s+message`,
		},
		MetadataLabels: []string{
			`sua\s+mem[óo]ria`,
			`mem[óo]ria`,
			`hor[áa]rio\s+(?:da\s+)?mensagem`,
			`dia\s+da\s+semana`,
			`hoje\s+[ée]`,
			`your\s+memory`,
			`message\s+time`,
			`today\s+is`,
			`weekday`,
		},
		AnnouncementPatterns: []string{
			`(?:hoje\s+[ée]|today\s+is)\s*:?\s*(?:\d|segunda|ter[çc]a|quarta|quinta|sexta|s[áa]bado|domingo|monday|tuesday|wednesday|thursday|friday|saturday|sunday)`,
			`(?:data|date|dia\s+da\s+semana|weekday|hor[áa]rio\s+(?:da\s+)?mensagem)\s*:`,
		},
		ToolTraceOpeners: []string{
			`used\s+tools`,
			`tools\s+used`,
			`ferramentas\s+usadas`,
			`tool\s*:`,
			`tool\s+call`,
			`calling\s+tool`,
			`function\s+call`,
		},
		ToolTraceLabels: []string{"Tool", "Input", "Result", "Output"},
		ToolResultKeys: []string{
			"horarios_disponiveis", "horarios", "available_slots", "slots",
			"dias_disponiveis", "dias", "days", "disponibilidade", "availability",
		},
		Sentinels: []string{"NO ACTION", "NO_ACTION", "SEM AÇÃO", "SEM ACAO"},
	}
}

// LoadMarkers reads a YAML marker file. Lists present in the file replace the
// corresponding default list; absent lists keep the defaults.
func LoadMarkers(path string) (Markers, error) {
	m := DefaultMarkers()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read markers: %w", err)
	}

	var file Markers
	if err := yaml.Unmarshal(data, &file); err != nil {
		return m, fmt.Errorf("parse markers: %w", err)
	}

	overlay(&m.InstructionKeys, file.InstructionKeys)
	overlay(&m.InstructionPhrases, file.InstructionPhrases)
	overlay(&m.LeadLabels, file.LeadLabels)
	overlay(&m.MetadataLabels, file.MetadataLabels)
	overlay(&m.AnnouncementPatterns, file.AnnouncementPatterns)
	overlay(&m.ToolTraceOpeners, file.ToolTraceOpeners)
	overlay(&m.ToolTraceLabels, file.ToolTraceLabels)
	overlay(&m.ToolResultKeys, file.ToolResultKeys)
	overlay(&m.Sentinels, file.Sentinels)
	return m, nil
}

func overlay(dst *[]string, src []string) {
	if len(src) > 0 {
		*dst = src
	}
}
