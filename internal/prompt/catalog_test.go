package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslateSystemHasNoTemplateSyntax(t *testing.T) {
	job, err := Get(JobTranslate)
	require.NoError(t, err)
	assert.NotContains(t, job.System, "{{")
	assert.NotContains(t, job.System, "}}")
}

func TestBuildPromptMissingRequiredField(t *testing.T) {
	job, err := Get(JobSummarize)
	require.NoError(t, err)
	_, err = job.BuildPrompt(map[string]any{})
	assert.Error(t, err)
}

func TestDigestTruncatesJSONDecodedItems(t *testing.T) {
	job, err := Get(JobDigest)
	require.NoError(t, err)

	// A JSON body decoded into map[string]any yields []any, not
	// []string, for an array field (§4.6's only real caller).
	items := make([]any, 25)
	for i := range items {
		items[i] = strings.Repeat("x", 200)
	}

	out, err := job.BuildPrompt(map[string]any{"items": items})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	// 1 header line + 20 item lines (budget caps at 20 items).
	assert.Len(t, lines, 21)
	for _, line := range lines[1:] {
		assert.LessOrEqual(t, len(line)-len("- "), 120)
	}
}

func TestDigestAcceptsLiteralStringSlice(t *testing.T) {
	job, err := Get(JobDigest)
	require.NoError(t, err)

	out, err := job.BuildPrompt(map[string]any{"items": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Contains(t, out, "- a")
	assert.Contains(t, out, "- b")
}
