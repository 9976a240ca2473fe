package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProvider implements Provider for testing
type mockProvider struct {
	name   string
	models []string
	resp   *CompletionResponse
	err    error
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) Models() []string {
	return m.models
}

func (m *mockProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.resp != nil {
		return m.resp, nil
	}
	return &CompletionResponse{
		ID:           "test-id",
		Model:        req.Model,
		Content:      "test response",
		FinishReason: "stop",
	}, nil
}

func (m *mockProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Content: "test", Done: true}
	close(ch)
	return ch, nil
}

func (m *mockProvider) CountTokens(content string) (int, error) {
	return len(content) / 4, nil // rough estimate
}

func TestRouter_Creation(t *testing.T) {
	provider := &mockProvider{
		name:   "anthropic",
		models: []string{"claude-sonnet-4-20250514", "claude-3-5-haiku-20241022"},
	}

	router := NewRouter(provider)

	assert.NotNil(t, router)
	assert.Equal(t, "router:anthropic", router.Name())
	assert.Equal(t, []string{"claude-sonnet-4-20250514", "claude-3-5-haiku-20241022"}, router.Models())
}

func TestRouter_SetModels(t *testing.T) {
	provider := &mockProvider{
		name:   "anthropic",
		models: []string{"default"},
	}

	router := NewRouter(provider)

	router.SetTranslatorModel("claude-sonnet-4-20250514")
	router.SetDiscriminatorModel("claude-3-5-haiku-20241022")

	assert.Equal(t, "claude-sonnet-4-20250514", router.TranslatorModel())
	assert.Equal(t, "claude-3-5-haiku-20241022", router.DiscriminatorModel())
}

func TestRouter_Complete(t *testing.T) {
	provider := &mockProvider{
		name:   "anthropic",
		models: []string{"claude-sonnet-4-20250514"},
		resp: &CompletionResponse{
			ID:           "resp-1",
			Model:        "claude-sonnet-4-20250514",
			Content:      "translated!",
			FinishReason: "stop",
		},
	}

	router := NewRouter(provider)
	ctx := context.Background()

	resp, err := router.Complete(ctx, &CompletionRequest{
		Messages: []Message{{Role: "user", Content: "translate this function"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "translated!", resp.Content)
}

func TestRouter_ForTranslator(t *testing.T) {
	provider := &mockProvider{
		name:   "anthropic",
		models: []string{"claude-sonnet-4-20250514"},
	}

	router := NewRouter(provider)
	router.SetTranslatorModel("claude-sonnet-4-20250514")

	translator := router.ForTranslator()

	assert.NotNil(t, translator)
	assert.Equal(t, []string{"claude-sonnet-4-20250514"}, translator.Models())

	resp, err := translator.Complete(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-20250514", resp.Model)
}

func TestRouter_ForDiscriminator(t *testing.T) {
	provider := &mockProvider{
		name:   "anthropic",
		models: []string{"claude-3-5-haiku-20241022"},
	}

	router := NewRouter(provider)
	router.SetDiscriminatorModel("claude-3-5-haiku-20241022")

	discriminator := router.ForDiscriminator()

	assert.NotNil(t, discriminator)
	assert.Equal(t, []string{"claude-3-5-haiku-20241022"}, discriminator.Models())

	resp, err := discriminator.Complete(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku-20241022", resp.Model)
}

func TestRouter_CountTokens(t *testing.T) {
	provider := &mockProvider{
		name:   "anthropic",
		models: []string{"claude-sonnet-4-20250514"},
	}

	router := NewRouter(provider)

	count, err := router.CountTokens("hello world")
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}

func TestRouter_Stream(t *testing.T) {
	provider := &mockProvider{
		name:   "anthropic",
		models: []string{"claude-sonnet-4-20250514"},
	}

	router := NewRouter(provider)
	ctx := context.Background()

	ch, err := router.Stream(ctx, &CompletionRequest{
		Messages: []Message{{Role: "user", Content: "translate this"}},
	})

	require.NoError(t, err)

	var content string
	for chunk := range ch {
		content += chunk.Content
		if chunk.Done {
			break
		}
	}

	assert.NotEmpty(t, content)
}

func TestMultiProvider_Creation(t *testing.T) {
	p1 := &mockProvider{name: "anthropic", models: []string{"claude-sonnet-4-20250514"}}
	p2 := &mockProvider{name: "ollama", models: []string{"llama3"}}

	mp := NewMultiProvider(p1, p2)

	assert.Equal(t, "multi:anthropic", mp.Name())
	assert.Contains(t, mp.Models(), "claude-sonnet-4-20250514")
	assert.Contains(t, mp.Models(), "llama3")
}

func TestMultiProvider_SetPrimary(t *testing.T) {
	p1 := &mockProvider{name: "anthropic", models: []string{"claude-sonnet-4-20250514"}}
	p2 := &mockProvider{name: "ollama", models: []string{"llama3"}}

	mp := NewMultiProvider(p1, p2)

	err := mp.SetPrimary(1)
	require.NoError(t, err)
	assert.Equal(t, "multi:ollama", mp.Name())

	err = mp.SetPrimary(5) // invalid
	assert.Error(t, err)
}

func TestMultiProvider_Complete(t *testing.T) {
	p1 := &mockProvider{
		name:   "anthropic",
		models: []string{"claude-sonnet-4-20250514"},
		resp:   &CompletionResponse{Content: "from anthropic"},
	}

	mp := NewMultiProvider(p1)
	ctx := context.Background()

	resp, err := mp.Complete(ctx, &CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from anthropic", resp.Content)
}

func TestMultiProvider_FallsBackOnNonAuthError(t *testing.T) {
	p1 := &mockProvider{
		name:   "anthropic",
		models: []string{"claude-sonnet-4-20250514"},
		err:    &ProviderError{Provider: "anthropic", Code: "overloaded_error", Message: "busy"},
	}
	p2 := &mockProvider{
		name:   "ollama",
		models: []string{"llama3"},
		resp:   &CompletionResponse{Content: "from ollama"},
	}

	mp := NewMultiProvider(p1, p2)

	resp, err := mp.Complete(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from ollama", resp.Content)
}

func TestMultiProvider_DoesNotFallBackOnAuthError(t *testing.T) {
	p1 := &mockProvider{
		name:   "anthropic",
		models: []string{"claude-sonnet-4-20250514"},
		err:    &ProviderError{Provider: "anthropic", Code: "invalid_api_key", Message: "bad key"},
	}
	p2 := &mockProvider{
		name:   "ollama",
		models: []string{"llama3"},
		resp:   &CompletionResponse{Content: "from ollama"},
	}

	mp := NewMultiProvider(p1, p2)

	_, err := mp.Complete(context.Background(), &CompletionRequest{})
	assert.Error(t, err)
}

func TestRouter_TableDriven(t *testing.T) {
	tests := []struct {
		name              string
		translatorModel   string
		discriminatorModel string
		wantTranslator    string
		wantDiscriminator string
	}{
		{
			name:               "different models per role",
			translatorModel:    "claude-sonnet-4-20250514",
			discriminatorModel: "claude-3-5-haiku-20241022",
			wantTranslator:     "claude-sonnet-4-20250514",
			wantDiscriminator:  "claude-3-5-haiku-20241022",
		},
		{
			name:               "same model for both roles",
			translatorModel:    "claude-sonnet-4-20250514",
			discriminatorModel: "claude-sonnet-4-20250514",
			wantTranslator:     "claude-sonnet-4-20250514",
			wantDiscriminator:  "claude-sonnet-4-20250514",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockProvider{
				name:   "anthropic",
				models: []string{"claude-sonnet-4-20250514", "claude-3-5-haiku-20241022"},
			}

			router := NewRouter(provider)
			router.SetTranslatorModel(tt.translatorModel)
			router.SetDiscriminatorModel(tt.discriminatorModel)

			assert.Equal(t, tt.wantTranslator, router.TranslatorModel())
			assert.Equal(t, tt.wantDiscriminator, router.DiscriminatorModel())
		})
	}
}
