// Package prompt implements the static job catalog (§4.6): one entry
// per jobId mapping to a system preamble and a text/template-backed
// BuildPrompt, grounded on the teacher's ai/title_prompt.go
// validate-then-template shape for a single job, generalized here to
// the full catalog.
package prompt

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/hrygo/relaywatch/internal/apperr"
)

// JobID enumerates every job §4.6 names.
type JobID string

const (
	JobAnalysis          JobID = "analysis"
	JobChat              JobID = "chat"
	JobSummarize         JobID = "summarize"
	JobTranslate         JobID = "translate"
	JobLanguageLearning  JobID = "language_learning"
	JobResearch          JobID = "research"
	JobCodingToolUse     JobID = "coding_tool_use"
	JobFunctionCall      JobID = "function_call"
	JobClaudeSkill       JobID = "claude_skill"
	JobCategorize        JobID = "categorize"
	JobExtract           JobID = "extract"
	JobSentiment         JobID = "sentiment"
	JobSmartFilterMatch  JobID = "smart_filter_match"
	JobDigest            JobID = "digest"
	JobRankRelevance     JobID = "rank_relevance"
	JobChatSummary       JobID = "chat_summary"
	JobChatNotes         JobID = "chat_notes"
)

// Job is one catalog entry: a system preamble and a compiled template
// producing the user-turn prompt from payload fields. required lists
// payload keys BuildPrompt must see a non-empty value for; truncate
// maps a key to its job-specific character budget (§4.6).
type Job struct {
	ID         JobID
	System     string
	tmpl       *template.Template
	required   []string
	truncate   map[string]int
	listField  string // payload key holding a []string subject to item-count + per-item truncation (digest's compound rule)
	jsonSchema string // appended verbatim when the job expects structured output
}

// BuildPrompt validates required payload keys, truncates free-text
// fields to their budget, and executes the job's template. Missing
// required fields fail with apperr.ErrInvalidArgument so the API
// Gateway's error policy maps it to 400 without special-casing prompt
// errors.
func (j *Job) BuildPrompt(payload map[string]any) (string, error) {
	for _, key := range j.required {
		v, ok := payload[key]
		if !ok || isEmptyValue(v) {
			return "", errors.Wrapf(apperr.ErrInvalidArgument, "job %s: missing required field %q", j.ID, key)
		}
	}

	rendered := make(map[string]any, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok {
			if budget, has := j.truncate[k]; has {
				s = truncateRunes(s, budget)
			}
			rendered[k] = s
			continue
		}
		if j.listField != "" && k == j.listField {
			if items, ok := stringSlice(v); ok {
				rendered[k] = truncateDigestItems(items)
				continue
			}
		}
		rendered[k] = v
	}

	var buf bytes.Buffer
	if err := j.tmpl.Execute(&buf, rendered); err != nil {
		return "", errors.Wrapf(err, "job %s: executing template", j.ID)
	}

	out := buf.String()
	if j.jsonSchema != "" {
		out += "\n\n" + j.jsonSchema
	}
	return out, nil
}

// stringSlice coerces a payload field into []string, accepting both a
// literal []string (built directly, e.g. by bot facades) and the
// []any a JSON body's array decodes into through map[string]any (the
// API Gateway's runJobRequest path, §4.6's digest budget's only caller).
// Non-string elements are dropped rather than failing the whole job.
func stringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case nil:
		return true
	default:
		return false
	}
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// truncateDigestItems truncates each digest item to 120 characters and
// drops items beyond the 20-item budget (§4.6's compound digest rule,
// which BuildPrompt's flat truncate map cannot express).
func truncateDigestItems(items []string) []string {
	const maxItems = 20
	const maxCharsPerItem = 120
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = truncateRunes(it, maxCharsPerItem)
	}
	return out
}

func mustCompile(id JobID, body string) *template.Template {
	t, err := template.New(string(id)).Parse(body)
	if err != nil {
		panic(errors.Wrapf(err, "prompt catalog: compiling job %s", id))
	}
	return t
}

// Catalog is the built-once, read-only job registry (§4.6).
var Catalog = buildCatalog()

func buildCatalog() map[JobID]*Job {
	jobs := map[JobID]*Job{
		JobAnalysis: {
			System:   "You analyze the supplied text and report your findings plainly, without padding.",
			required: []string{"text"},
			truncate: map[string]int{"text": 8000},
		},
		JobChat: {
			System:   "You are a helpful, direct assistant continuing an ongoing conversation.",
			required: []string{"message"},
			truncate: map[string]int{"message": 8000},
		},
		JobSummarize: {
			System:   "You summarize the supplied text into a short, faithful paragraph.",
			required: []string{"text"},
			truncate: map[string]int{"text": 5000},
		},
		JobTranslate: {
			System:   "You translate the supplied text into the requested target language, preserving meaning and tone.",
			required: []string{"text", "target_language"},
			truncate: map[string]int{"text": 6000},
		},
		JobLanguageLearning: {
			System:   "You help a language learner understand the supplied text: vocabulary, grammar, and idioms.",
			required: []string{"text"},
			truncate: map[string]int{"text": 3000},
		},
		JobResearch: {
			System:   "You research the supplied question thoroughly and cite your reasoning.",
			required: []string{"question"},
		},
		JobCodingToolUse: {
			System:   "You are a coding assistant with access to tools. Use them when the task requires it.",
			required: []string{"task"},
		},
		JobFunctionCall: {
			System:   "You decide which function, if any, should be called for the supplied request, and with what arguments.",
			required: []string{"request"},
		},
		JobClaudeSkill: {
			System:   "You execute the named skill against the supplied input.",
			required: []string{"skill", "input"},
		},
		JobCategorize: {
			System:   "You assign the supplied text to one of its most fitting categories.",
			required: []string{"text"},
		},
		JobExtract: {
			System:   "You extract the requested structured fields from the supplied text.",
			required: []string{"text"},
			truncate: map[string]int{"text": 3000},
		},
		JobSentiment: {
			System:   "You classify the sentiment of the supplied text as positive, negative, or neutral.",
			required: []string{"text"},
			truncate: map[string]int{"text": 500},
		},
		JobSmartFilterMatch: {
			System:   "You decide whether the supplied message matches the user's stated interest.",
			required: []string{"text", "interest"},
			truncate: map[string]int{"text": 1000},
		},
		JobDigest: {
			System:    "You compose a digest summarizing the supplied items.",
			required:  []string{"items"},
			listField: "items",
		},
		JobRankRelevance: {
			System:   "You rank the supplied candidates by relevance to the query, most relevant first.",
			required: []string{"query", "candidates"},
		},
		JobChatSummary: {
			System:   "You summarize the supplied conversation so it can be used as context for future turns.",
			required: []string{"messages"},
		},
		JobChatNotes: {
			System:   "You extract durable notes from the supplied conversation: decisions, facts, and open questions.",
			required: []string{"text"},
			truncate: map[string]int{"text": 15000},
		},
	}

	templates := map[JobID]string{
		JobAnalysis:         "Analyze the following:\n\n{{.text}}",
		JobChat:             "{{.message}}",
		JobSummarize:        "Summarize the following text:\n\n{{.text}}",
		JobTranslate:        "Translate the following text to {{.target_language}}:\n\n{{.text}}",
		JobLanguageLearning: "Explain the following text for a language learner:\n\n{{.text}}",
		JobResearch:         "Research question:\n\n{{.question}}",
		JobCodingToolUse:    "Task:\n\n{{.task}}",
		JobFunctionCall:     "Request:\n\n{{.request}}",
		JobClaudeSkill:      "Skill: {{.skill}}\n\nInput:\n\n{{.input}}",
		JobCategorize:       "Text:\n\n{{.text}}",
		JobExtract:          "Text:\n\n{{.text}}",
		JobSentiment:        "Text:\n\n{{.text}}",
		JobSmartFilterMatch: "User interest: {{.interest}}\n\nMessage:\n\n{{.text}}",
		JobDigest:           "Items:\n{{range .items}}- {{.}}\n{{end}}",
		JobRankRelevance:    "Query: {{.query}}\n\nCandidates:\n{{range .candidates}}- {{.}}\n{{end}}",
		JobChatSummary:      "Conversation:\n\n{{.messages}}",
		JobChatNotes:        "Conversation:\n\n{{.text}}",
	}

	schemas := map[JobID]string{
		JobCategorize:       `Respond with JSON only: {"category": "<category>"}`,
		JobExtract:          `Respond with JSON only: {"fields": {...}}`,
		JobSentiment:        `Respond with JSON only: {"sentiment": "positive|negative|neutral"}`,
		JobSmartFilterMatch: `Respond with JSON only: {"matches": <bool>, "reason": "<short reason>"}`,
		JobRankRelevance:    `Respond with JSON only: {"ranking": [<candidate indices, most relevant first>]}`,
	}

	for id, job := range jobs {
		job.ID = id
		job.tmpl = mustCompile(id, templates[id])
		job.jsonSchema = schemas[id]
	}
	return jobs
}

// Get looks up a job by id.
func Get(id JobID) (*Job, error) {
	job, ok := Catalog[id]
	if !ok {
		return nil, errors.Wrapf(apperr.ErrInvalidArgument, "unknown job id %q", id)
	}
	return job, nil
}
