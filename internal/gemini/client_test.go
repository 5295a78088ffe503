package gemini

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestBuildContents(t *testing.T) {
	t.Parallel()

	contents := BuildContents([]Turn{
		{Role: RoleUser, Text: "oi"},
		{Role: RoleModel, Text: "oiii"},
		{Role: RoleUser, Text: "", Audio: []byte{1, 2, 3}, AudioMIME: "audio/ogg"},
		{Role: RoleUser},
	})

	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "oi", contents[0].Parts[0].Text)
	assert.Equal(t, "model", contents[1].Role)
	require.Len(t, contents[2].Parts, 1)
	require.NotNil(t, contents[2].Parts[0].InlineData)
	assert.Equal(t, "audio/ogg", contents[2].Parts[0].InlineData.MIMEType)
}

func TestIsRetriable(t *testing.T) {
	t.Parallel()

	assert.True(t, isRetriable(genai.APIError{Code: 503}))
	assert.True(t, isRetriable(fmt.Errorf("wrapped: %w", genai.APIError{Code: 500})))
	assert.False(t, isRetriable(genai.APIError{Code: 400}))
	assert.False(t, isRetriable(errors.New("boom")))
}
