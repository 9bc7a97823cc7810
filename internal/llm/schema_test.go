package llm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shaharzep/decision-extract/internal/common"
)

func TestValidateAgainstSchema(t *testing.T) {
	schema := BuildCitedProvisionsSchema()

	good := []byte(`{
		"decision_id": "ECLI:BE:CASS:2024:0001",
		"language": "FR",
		"citedProvisions": [{"provision": "article 1382", "act": "Code civil"}]
	}`)
	require.NoError(t, ValidateAgainstSchema(schema, good))

	t.Run("missing required field", func(t *testing.T) {
		bad := []byte(`{"decision_id": "x", "language": "FR"}`)
		err := ValidateAgainstSchema(schema, bad)
		require.Error(t, err)
		require.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("not json at all", func(t *testing.T) {
		err := ValidateAgainstSchema(schema, []byte("Sorry, I cannot help with that."))
		require.Error(t, err)
		require.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("additional property rejected", func(t *testing.T) {
		bad := []byte(`{"decision_id": "x", "language": "FR", "citedProvisions": [], "chain_of_thought": "..."}`)
		err := ValidateAgainstSchema(schema, bad)
		require.Error(t, err)
		require.ErrorIs(t, err, common.ErrValidation)
	})
}

func TestCompileSchema_BadSchemaFails(t *testing.T) {
	_, err := CompileSchema(map[string]any{"type": 42})
	require.Error(t, err)
}

func TestPromptTemplate(t *testing.T) {
	tmpl, err := ParsePromptTemplate("Decision {{.decision_id}} ({{.language}}): {{.text}}")
	require.NoError(t, err)

	out, err := tmpl.Render(map[string]any{
		"decision_id": "ECLI:BE:CASS:2024:0001",
		"language":    "FR",
		"text":        "vu l'article 1382 du Code civil",
	})
	require.NoError(t, err)
	require.Equal(t, "Decision ECLI:BE:CASS:2024:0001 (FR): vu l'article 1382 du Code civil", out)
}

func TestPromptTemplate_MissingKeyIsError(t *testing.T) {
	tmpl, err := ParsePromptTemplate("{{.nope}}")
	require.NoError(t, err)

	_, err = tmpl.Render(map[string]any{"text": "x"})
	require.Error(t, err, "missing keys must not render as blanks")
}

func TestPromptTemplate_ParseErrorSurfaces(t *testing.T) {
	_, err := ParsePromptTemplate("{{.unclosed")
	require.Error(t, err)
}

func TestClassifyStatus(t *testing.T) {
	require.NoError(t, ClassifyStatus(200))
	require.ErrorIs(t, ClassifyStatus(429), common.ErrRateLimit)
	require.ErrorIs(t, ClassifyStatus(500), common.ErrTransport)
	require.ErrorIs(t, ClassifyStatus(401), common.ErrTransport)
}
