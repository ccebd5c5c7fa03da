package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbeddingAPI struct {
	embeddings [][]float32
	err        error
	gotTexts   []string
}

func (f *fakeEmbeddingAPI) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	f.gotTexts = texts
	if f.err != nil {
		return nil, f.err
	}
	return f.embeddings, nil
}

func makeEmbedding(dims int, seed float32) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = seed
	}
	return v
}

func TestClient_GenerateEmbeddings_PreservesOrder(t *testing.T) {
	api := &fakeEmbeddingAPI{
		embeddings: [][]float32{
			makeEmbedding(1536, 0.1),
			makeEmbedding(1536, 0.2),
		},
	}
	client := &Client{embed: api, dimensions: 1536}

	out, err := client.GenerateEmbeddings(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, float32(0.1), out[0][0])
	assert.Equal(t, float32(0.2), out[1][0])
	assert.Equal(t, []string{"first", "second"}, api.gotTexts)
}

func TestClient_GenerateEmbeddings_EmptyText(t *testing.T) {
	client := &Client{embed: &fakeEmbeddingAPI{}, dimensions: 1536}

	_, err := client.GenerateEmbeddings(context.Background(), []string{"ok", ""})
	assert.Equal(t, ErrEmptyText, err)
}

func TestClient_GenerateEmbeddings_WrongDimensions(t *testing.T) {
	api := &fakeEmbeddingAPI{embeddings: [][]float32{makeEmbedding(3, 0.5)}}
	client := &Client{embed: api, dimensions: 1536}

	_, err := client.GenerateEmbeddings(context.Background(), []string{"text"})
	assert.Equal(t, ErrWrongDimensions, err)
}

func TestClient_GenerateEmbeddings_ProviderError(t *testing.T) {
	api := &fakeEmbeddingAPI{err: errors.New("rate limited")}
	client := &Client{embed: api, dimensions: 1536}

	_, err := client.GenerateEmbeddings(context.Background(), []string{"text"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestClient_GenerateEmbedding_Single(t *testing.T) {
	api := &fakeEmbeddingAPI{embeddings: [][]float32{makeEmbedding(1536, 0.3)}}
	client := &Client{embed: api, dimensions: 1536}

	out, err := client.GenerateEmbedding(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, out, 1536)
}

func TestNewClientFromEnv_MissingKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewClientFromEnv()
	assert.Equal(t, ErrNoAPIKey, err)
}
