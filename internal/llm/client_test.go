package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatResponse(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{"role": "assistant", "content": content}},
		},
	}
}

func TestChatSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(chatResponse("hola!"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test")
	msg, err := c.Chat(context.Background(), Request{
		Model:    "gpt-4o-mini",
		Messages: []Message{Text("user", "hola")},
	})
	require.NoError(t, err)
	assert.Equal(t, "hola!", msg.ContentOrEmpty())
}

func TestChatRetriesOn503(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(chatResponse("ok"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	msg, err := c.Chat(context.Background(), Request{Model: "m", Messages: []Message{Text("user", "x")}})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.ContentOrEmpty())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestChatDoesNotRetry400(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Chat(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "validation failures are not retried")
}

func TestChatExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.Chat(context.Background(), Request{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "initial attempt plus three retries")
}

func TestNullContentToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[{"id":"tc1","type":"function","function":{"name":"get_weather","arguments":"{}"}}]}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	msg, err := c.Chat(context.Background(), Request{Model: "m"})
	require.NoError(t, err)
	assert.Nil(t, msg.Content)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "get_weather", msg.ToolCalls[0].Function.Name)
}
