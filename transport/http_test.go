package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-cloudtasks-emulator/model"
)

type captured struct {
	method string
	url    string
	header http.Header
	body   string
}

func recordingServer(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, captured{r.Method, r.URL.String(), r.Header.Clone(), string(b)})
		mu.Unlock()
		w.Header().Set("X-Handled-By", "test")
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), got...)
	}
}

func TestDeliverDefaults(t *testing.T) {
	srv, requests := recordingServer(t, http.StatusOK)
	h := NewHTTP(time.Second, nil)

	resp, err := h.Deliver(context.Background(), model.RequestSpec{RelativeURI: "/ping"}, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test", resp.Header.Get("X-Handled-By"))

	got := requests()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodGet, got[0].method)
	assert.Equal(t, "/ping", got[0].url)
	assert.Empty(t, got[0].body)
}

func TestDeliverNon2xxIsResponse(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusInternalServerError)
	h := NewHTTP(time.Second, nil)

	resp, err := h.Deliver(context.Background(), model.RequestSpec{Method: "POST", RelativeURI: "/"}, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestDeliverReplaysIdenticalRequests(t *testing.T) {
	srv, requests := recordingServer(t, http.StatusServiceUnavailable)
	h := NewHTTP(time.Second, nil)
	spec := model.RequestSpec{
		Method:      "POST",
		RelativeURI: "/jobs/run?x=1",
		Headers:     map[string]string{"Content-Type": "application/json", "X-Trace": "abc"},
		Body:        []byte(`{"k":"v"}`),
		Routing:     &model.Routing{Service: "worker"},
	}

	for range 3 {
		_, err := h.Deliver(context.Background(), spec, srv.URL)
		require.NoError(t, err)
	}

	got := requests()
	require.Len(t, got, 3)
	for _, c := range got {
		assert.Equal(t, "POST", c.method)
		assert.Equal(t, "/jobs/run?x=1", c.url)
		assert.Equal(t, `{"k":"v"}`, c.body)
		assert.Equal(t, "application/json", c.header.Get("Content-Type"))
		assert.Equal(t, "abc", c.header.Get("X-Trace"))
		assert.Equal(t, "worker", c.header.Get(headerService))
	}
}

func TestDeliverTransportFailures(t *testing.T) {
	h := NewHTTP(500*time.Millisecond, nil)

	t.Run("no host", func(t *testing.T) {
		resp, err := h.Deliver(context.Background(), model.RequestSpec{RelativeURI: "/work"}, "")
		assert.Nil(t, resp)
		assert.Error(t, err)
	})

	t.Run("unreachable host", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		resp, err := h.Deliver(context.Background(), model.RequestSpec{RelativeURI: "/"}, url)
		assert.Nil(t, resp)
		assert.Error(t, err)
	})

	t.Run("malformed method", func(t *testing.T) {
		resp, err := h.Deliver(context.Background(), model.RequestSpec{Method: "BAD METHOD", RelativeURI: "/"}, "http://localhost")
		assert.Nil(t, resp)
		assert.Error(t, err)
	})
}

func TestDeliverDrainsBoundedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		chunk := make([]byte, 64<<10)
		for range 32 { // 2 MiB, twice the drain limit
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	h := NewHTTP(10*time.Second, nil)

	start := time.Now()
	resp, err := h.Deliver(context.Background(), model.RequestSpec{RelativeURI: "/big"}, srv.URL)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBuildRequestLiteralConcatenation(t *testing.T) {
	req, err := BuildRequest(context.Background(), model.RequestSpec{RelativeURI: "/a"}, "http://localhost:8080/")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080//a", req.URL.String())
}
