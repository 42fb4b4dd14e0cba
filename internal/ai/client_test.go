package ai

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trackd/internal/models"
)

func TestStripFences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare json", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no lang", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "\n  {\"a\":1}  \n", `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, stripFences(tc.in))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Title string `json:"title"`
	}
	err := decodeJSON("```json\n{\"title\":\"fix login\"}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, "fix login", out.Title)

	err = decodeJSON("I think this is a bug.", &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoValidOutput)
}

func TestValidateFields(t *testing.T) {
	valid := func() *models.IssueFields {
		return &models.IssueFields{
			Title:    "Fix login timeout",
			Type:     models.IssueTypeBug,
			Status:   models.IssueStatusOpen,
			Priority: 2,
			Labels:   []string{"Auth", " session "},
			Summary:  " Users are logged out early. ",
		}
	}

	t.Run("normalizes labels and summary", func(t *testing.T) {
		f := valid()
		require.NoError(t, validateFields(f))
		assert.Equal(t, []string{"auth", "session"}, f.Labels)
		assert.Equal(t, "Users are logged out early.", f.Summary)
	})

	t.Run("empty title rejected", func(t *testing.T) {
		f := valid()
		f.Title = "   "
		assert.ErrorIs(t, validateFields(f), ErrNoValidOutput)
	})

	t.Run("long title truncated", func(t *testing.T) {
		f := valid()
		for len(f.Title) <= 120 {
			f.Title += " and more"
		}
		require.NoError(t, validateFields(f))
		assert.Len(t, f.Title, 120)
	})

	t.Run("multibyte title truncated on rune boundary", func(t *testing.T) {
		f := valid()
		f.Title = strings.Repeat("é", 130)
		require.NoError(t, validateFields(f))
		assert.Equal(t, 120, len([]rune(f.Title)))
		assert.True(t, utf8.ValidString(f.Title))
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		f := valid()
		f.Type = "epic"
		assert.ErrorIs(t, validateFields(f), ErrNoValidOutput)
	})

	t.Run("archived status rejected", func(t *testing.T) {
		f := valid()
		f.Status = models.IssueStatusArchived
		assert.ErrorIs(t, validateFields(f), ErrNoValidOutput)
	})

	t.Run("priority out of range rejected", func(t *testing.T) {
		f := valid()
		f.Priority = 0
		assert.ErrorIs(t, validateFields(f), ErrNoValidOutput)
		f = valid()
		f.Priority = 6
		assert.ErrorIs(t, validateFields(f), ErrNoValidOutput)
	})

	t.Run("nil labels become empty slice", func(t *testing.T) {
		f := valid()
		f.Labels = nil
		require.NoError(t, validateFields(f))
		assert.NotNil(t, f.Labels)
		assert.Empty(t, f.Labels)
	})
}

func TestExtractionPrompt(t *testing.T) {
	thread := []models.ThreadMessage{
		{
			Timestamp: time.Date(2026, 3, 9, 14, 30, 12, 0, time.UTC),
			Role:      models.RoleUser,
			Content:   "login page 500s on expired session",
		},
		{
			Timestamp: time.Date(2026, 3, 9, 15, 5, 0, 0, time.UTC),
			Role:      models.RoleAssistant,
			Content:   "fix deployed to staging",
		},
	}

	prompt := extractionPrompt(thread, "Earlier summary.")
	assert.True(t, strings.HasPrefix(prompt, "Prior summary: Earlier summary.\n\n"))
	assert.Contains(t, prompt, "[2026-03-09 14:30 user] login page 500s on expired session\n")
	assert.Contains(t, prompt, "[2026-03-09 15:05 assistant] fix deployed to staging\n")

	prompt = extractionPrompt(thread, "")
	assert.True(t, strings.HasPrefix(prompt, "Thread:\n"))
}

func TestAnswerPromptGuidesPriority(t *testing.T) {
	assert.Contains(t, answerSystemPrompt, "priority 1-2 issues first")
	assert.Contains(t, answerSystemPrompt, "open issues over active")
}
