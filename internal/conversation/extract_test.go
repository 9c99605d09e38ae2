package conversation

import "testing"

func TestPhoneFromSessionID(t *testing.T) {
	rules := DefaultPhoneRules()

	tests := []struct {
		id   string
		want string
	}{
		{"5511987654321@s.whatsapp.net", "11987654321"},
		{"5511987654321@c.us", "11987654321"},
		{"551134567890@s.whatsapp.net", "1134567890"},
		{"011987654321", "11987654321"},
		{"sessao_5511987654321_v2", "11987654321"},
		{"abc123", ""},
		{"", ""},
		{"12345@lid", ""},
	}

	for _, tt := range tests {
		if got := rules.PhoneFromSessionID(tt.id); got != tt.want {
			t.Errorf("PhoneFromSessionID(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestNormalizeKeepsLastDigits(t *testing.T) {
	rules := DefaultPhoneRules()
	if got := rules.Normalize("99911987654321"); got != "11987654321" {
		t.Errorf("Normalize = %q, want last 11 digits", got)
	}
	if got := rules.Normalize("+55 (11) 98765-4321"); got != "11987654321" {
		t.Errorf("Normalize = %q, want formatting stripped", got)
	}
}

func TestExtractFormDataJSON(t *testing.T) {
	text := `Sua memória: {"prompt": "x", "variaveis": {"nome": "Maria Souza", "primeiro_nome": "Maria", "dificuldade": "tempo", "motivo": "saúde", "profissao": "{{profissao}}", "tempo_decisao": "1 semana"}}`
	fd, ok := ExtractFormData(text)
	if !ok {
		t.Fatal("expected form data")
	}
	if fd.Name != "Maria Souza" || fd.FirstName != "Maria" || fd.Difficulty != "tempo" || fd.Reason != "saúde" || fd.DecisionTime != "1 semana" {
		t.Errorf("unexpected form data %+v", fd)
	}
	if fd.Profession != "" {
		t.Errorf("placeholder should be ignored, got %q", fd.Profession)
	}
	fields := fd.Fields()
	if len(fields) != 5 || fields["first_name"] != "Maria" {
		t.Errorf("Fields() = %v", fields)
	}
}

func TestExtractFormDataPatterns(t *testing.T) {
	text := `variables: { name: 'John Smith', first_name: John, confirmacao_comparecimento: "sim", broken`
	fd, ok := ExtractFormData(text)
	if !ok {
		t.Fatal("expected form data")
	}
	if fd.Name != "John Smith" || fd.FirstName != "John" || fd.AttendanceConfirmation != "sim" {
		t.Errorf("unexpected form data %+v", fd)
	}
}

func TestExtractFormDataNone(t *testing.T) {
	for _, text := range []string{
		"sem bloco",
		`{"variaveis": {"nome": "{{nome}}"}}`,
	} {
		if fd, ok := ExtractFormData(text); ok {
			t.Errorf("ExtractFormData(%q) = %+v, want none", text, fd)
		}
	}
}

func TestExtractSelfIntroducedName(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"Oi, meu nome é João", "João", true},
		{"me chamo ana paula", "Ana", true},
		{"Aqui é a Carla, tudo bem?", "Carla", true},
		{"Sou o Pedro", "Pedro", true},
		{"My name is Alice", "Alice", true},
		{"Bruno aqui", "Bruno", true},
		{"I am interested in a visit", "", false},
		{"Oi aqui", "", false},
		{"Estou aqui", "", false},
		{"Tô aqui esperando", "", false},
		{"Vamos aqui mesmo", "", false},
		{"bruno aqui", "", false},
		{"Marina here", "Marina", true},
		{"sou a mãe do aluno", "", false},
		{"quero agendar", "", false},
	}

	for _, tt := range tests {
		got, ok := ExtractSelfIntroducedName(tt.text)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ExtractSelfIntroducedName(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName(&FormData{FirstName: "Maria", Name: "Ana Souza"}, nil, "", "s1"); got != "Maria" {
		t.Errorf("first name should win, got %q", got)
	}
	if got := DisplayName(&FormData{Name: "Ana Souza"}, nil, "", "s1"); got != "Ana" {
		t.Errorf("first token of name expected, got %q", got)
	}
	if got := DisplayName(nil, []string{"oi", "meu nome é Rita"}, "", "s1"); got != "Rita" {
		t.Errorf("self introduction expected, got %q", got)
	}
	if got := DisplayName(nil, nil, "11987654321", "s1"); got != "Lead 4321" {
		t.Errorf("phone placeholder expected, got %q", got)
	}
	if got := DisplayName(nil, nil, "", "abc-xyz9"); got != "Lead xyz9" {
		t.Errorf("session placeholder expected, got %q", got)
	}
}

func TestSignals(t *testing.T) {
	success := []string{
		"Perfeito! Sua visita está agendada para amanhã às 9h.",
		"Horário confirmado: quinta 10:00",
		"Matrícula realizada com sucesso!",
		"Your appointment is booked for tomorrow",
	}
	for _, s := range success {
		if !IsSuccessSignal(s) {
			t.Errorf("IsSuccessSignal(%q) = false", s)
		}
	}

	notSuccess := []string{
		"Quero agendar uma visita",
		"Confirmado.",
		"Posso confirmar amanhã?",
	}
	for _, s := range notSuccess {
		if IsSuccessSignal(s) {
			t.Errorf("IsSuccessSignal(%q) = true", s)
		}
	}

	if !IsErrorSignal("", "Estamos com instabilidade no sistema, tente mais tarde") {
		t.Error("outage phrase should be an error signal")
	}
	if !IsErrorSignal("error", "qualquer coisa") {
		t.Error("error marker should be an error signal")
	}
	if !IsErrorSignal("", "Desculpe, tivemos um problema técnico") {
		t.Error("accented phrase should match after folding")
	}
	if IsErrorSignal("ai", "Tudo certo por aqui!") {
		t.Error("plain message should not be an error signal")
	}
}

func TestFold(t *testing.T) {
	if got := Fold("Matrícula AÇÃO Técnico"); got != "matricula acao tecnico" {
		t.Errorf("Fold = %q", got)
	}
}
