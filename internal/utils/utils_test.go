package utils

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"oa-worksheets/internal/model"
	"oa-worksheets/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	fw := NewFrameWriter(rec, "")

	require.NoError(t, fw.Write(model.MessageChunk("hi").WithVersion(4)))
	require.NoError(t, fw.Write(model.DoneChunk()))

	assert.Equal(t,
		`{"type":"message","content":"hi","version_id":4}||JSON_END||{"type":"done"}||JSON_END||`,
		rec.Body.String())
	assert.True(t, rec.Flushed)
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}

func TestFrameWriterRefusesDelimiterInPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	fw := NewFrameWriter(rec, "")

	err := fw.Write(model.MessageChunk("sneaky ||JSON_END|| text"))
	assert.ErrorIs(t, err, ErrDelimiterInPayload)
	assert.Empty(t, rec.Body.String())
}

func TestFrameWriterConcurrentFramesStayWhole(t *testing.T) {
	rec := httptest.NewRecorder()
	fw := NewFrameWriter(rec, "##")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = fw.Write(model.KeepAliveChunk())
		}()
	}
	wg.Wait()

	frames := strings.Split(strings.TrimSuffix(rec.Body.String(), "##"), "##")
	require.Len(t, frames, 20)
	for _, f := range frames {
		assert.Equal(t, `{"type":"keep_alive"}`, f)
	}
}

func TestRedactBody(t *testing.T) {
	out := RedactBody([]byte(`{"model":"m","api_key":"sk-123","Token": "abc"}`))
	assert.NotContains(t, out, "sk-123")
	assert.NotContains(t, out, "abc")
	assert.Contains(t, out, `"model":"m"`)
	assert.Equal(t, "(empty)", RedactBody(nil))
}

func TestDebugTransportPreservesBodyAndRedactsHeaders(t *testing.T) {
	var logs bytes.Buffer
	require.NoError(t, logger.InitWithOutput("debug", "text", &logs))
	t.Cleanup(func() { _ = logger.Init("info", "text") })

	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewHTTPClient(0, NewDebugTransport(nil, "test", true))
	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"prompt":"x"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret-token")

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, `{"prompt":"x"}`, gotBody)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.NotContains(t, logs.String(), "secret-token")
	assert.Contains(t, logs.String(), "REDACTED")
}
