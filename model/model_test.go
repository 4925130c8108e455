package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoke-ai/convoke/core"
)

func drain(t *testing.T, respCh <-chan Response, errCh <-chan error) []Response {
	t.Helper()
	var out []Response
	for r := range respCh {
		out = append(out, r)
	}
	if err, ok := <-errCh; ok {
		require.NoError(t, err)
	}
	return out
}

func TestMockModelNonStreaming(t *testing.T) {
	m := NewMockModel("mock")
	m.AddResponse("hi", "hello")

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("hi")},
	})
	responses := drain(t, respCh, errCh)

	require.Len(t, responses, 1)
	require.NotNil(t, responses[0].Message)
	assert.Equal(t, "hello", responses[0].Message.Content)
	assert.Equal(t, "stop", responses[0].FinishReason)
}

func TestMockModelStreamingFragments(t *testing.T) {
	m := NewMockModel("mock")
	m.AddResponse("hi", "abc")

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("hi")},
		Stream:   true,
	})
	responses := drain(t, respCh, errCh)

	// Char fragments plus the terminal response.
	require.Len(t, responses, 4)
	var content string
	for _, r := range responses[:3] {
		assert.True(t, r.Partial)
		require.NotNil(t, r.Fragment)
		content += r.Fragment.ContentDelta
	}
	assert.Equal(t, "abc", content)

	terminal := responses[3]
	assert.False(t, terminal.Partial)
	assert.Nil(t, terminal.Message)
	assert.Equal(t, "stop", terminal.FinishReason)
}

func TestMockModelStreamingToolCalls(t *testing.T) {
	m := NewMockModel("mock")
	m.AddToolCallResponse("do it", core.ToolCall{ID: "c1", Name: "act", Arguments: `{"x":1}`})

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("do it")},
		Stream:   true,
	})
	responses := drain(t, respCh, errCh)

	require.NotEmpty(t, responses)
	terminal := responses[len(responses)-1]
	assert.Equal(t, "tool_calls", terminal.FinishReason)

	var sawDelta bool
	for _, r := range responses[:len(responses)-1] {
		require.NotNil(t, r.Fragment)
		for _, d := range r.Fragment.ToolCallDeltas {
			sawDelta = true
			assert.Equal(t, "c1", d.ID)
			assert.Equal(t, "act", d.Name)
		}
	}
	assert.True(t, sawDelta)
}

func TestMockModelDefaultReply(t *testing.T) {
	m := NewMockModel("mock")

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []core.Message{core.NewUserMessage("never seen")},
	})
	responses := drain(t, respCh, errCh)

	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Message.Content, "never seen")
}

func TestMockModelNoMessages(t *testing.T) {
	m := NewMockModel("mock")

	respCh, errCh := m.Generate(context.Background(), Request{})
	for range respCh {
	}
	err, ok := <-errCh
	require.True(t, ok)
	assert.Error(t, err)
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}
	u.Add(TokenUsage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30})

	assert.Equal(t, 11, u.PromptTokens)
	assert.Equal(t, 22, u.CompletionTokens)
	assert.Equal(t, 33, u.TotalTokens)
}
