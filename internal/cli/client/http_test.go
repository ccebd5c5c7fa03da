package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "cfd_0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestAPIClient_Get_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+testAPIKey, r.Header.Get("Authorization"))
		assert.Equal(t, "/sources/src-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"id":"src-1","name":"handbook"}}`)
	}))
	defer server.Close()

	api, err := NewAPIClientWithConfig(testAPIKey, server.URL)
	require.NoError(t, err)

	resp, err := api.Get("/sources/src-1")
	require.NoError(t, err)

	var source Source
	require.NoError(t, json.Unmarshal(resp.Data, &source))
	assert.Equal(t, "src-1", source.ID)
	assert.Equal(t, "handbook", source.Name)
}

func TestAPIClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"source not found"}`)
	}))
	defer server.Close()

	api, err := NewAPIClientWithConfig(testAPIKey, server.URL)
	require.NoError(t, err)

	_, err = api.Get("/sources/missing")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "source not found", apiErr.Message)
}

func TestAPIClient_Delete_NoContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	api, err := NewAPIClientWithConfig(testAPIKey, server.URL)
	require.NoError(t, err)

	resp, err := api.Delete("/sources/src-1")
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
}

func TestAPIClient_Patch_SendsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PATCH", r.Method)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "private", body["classification"])
		fmt.Fprint(w, `{"data":{"id":"src-1","classification":"private"}}`)
	}))
	defer server.Close()

	api, err := NewAPIClientWithConfig(testAPIKey, server.URL)
	require.NoError(t, err)

	resp, err := api.Patch("/sources/src-1/classification", map[string]string{"classification": "private"})
	require.NoError(t, err)
	assert.Contains(t, string(resp.Data), "private")
}

func TestAPIClient_PostStream_ParsesEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: delta\ndata: {\"text\":\"Hello \"}\n\n")
		fmt.Fprint(w, "event: delta\ndata: {\"text\":\"world\"}\n\n")
		fmt.Fprint(w, "event: done\ndata: {\"answer_text\":\"Hello world\",\"conversation_id\":\"conv-1\"}\n\n")
	}))
	defer server.Close()

	api, err := NewAPIClientWithConfig(testAPIKey, server.URL)
	require.NoError(t, err)

	var events []StreamEvent
	err = api.PostStream("/query/stream", map[string]string{"query": "hi"}, func(ev StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, "delta", events[0].Event)
	assert.Equal(t, "delta", events[1].Event)
	assert.Equal(t, "done", events[2].Event)

	var result QueryAPIResponse
	require.NoError(t, json.Unmarshal(events[2].Data, &result))
	assert.Equal(t, "Hello world", result.AnswerText)
	assert.Equal(t, "conv-1", result.ConversationID)
}

func TestAPIClient_PostStream_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":"daily budget exceeded"}`)
	}))
	defer server.Close()

	api, err := NewAPIClientWithConfig(testAPIKey, server.URL)
	require.NoError(t, err)

	err = api.PostStream("/query/stream", map[string]string{"query": "hi"}, func(StreamEvent) error {
		t.Fatal("handler should not be called")
		return nil
	})
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "daily budget exceeded", apiErr.Message)
}
