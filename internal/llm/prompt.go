package llm

import (
	"strings"
	"text/template"

	"github.com/shaharzep/decision-extract/internal/common"
)

// PromptTemplate is a parsed per-row prompt template. Fields of the row's
// data map are addressed as {{.field_name}}.
type PromptTemplate struct {
	tmpl *template.Template
}

// ParsePromptTemplate parses the template text once per job. Referencing a
// key absent from a row's data is an error at render time, not a silent blank,
// so a bad template fails fast instead of producing degenerate prompts.
func ParsePromptTemplate(text string) (*PromptTemplate, error) {
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, common.NewAppError("TEMPLATE_PARSE", "invalid prompt template", err)
	}
	return &PromptTemplate{tmpl: tmpl}, nil
}

// Render produces the prompt for one row.
func (p *PromptTemplate) Render(data map[string]any) (string, error) {
	var b strings.Builder
	if err := p.tmpl.Execute(&b, data); err != nil {
		return "", common.NewAppError("TEMPLATE_RENDER", "render prompt", err)
	}
	return b.String(), nil
}
