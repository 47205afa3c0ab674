package httputil

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestGetJSON(t *testing.T) {
	t.Parallel()

	mock := NewMockHTTPClient().AddResponse(http.StatusOK, `{"name":"a","count":3}`)

	var got payload
	require.NoError(t, GetJSON(context.Background(), mock, "http://fleet/robot_list", &got))
	assert.Equal(t, payload{Name: "a", Count: 3}, got)

	require.Equal(t, 1, mock.RequestCount())
	req := mock.GetRequest(0)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
}

func TestPostJSON(t *testing.T) {
	t.Parallel()

	mock := NewMockHTTPClient().AddResponse(http.StatusOK, `{"name":"ok"}`)

	var got payload
	require.NoError(t, PostJSON(context.Background(), mock, "http://fleet/submit_task", payload{Name: "x", Count: 1}, &got))
	assert.Equal(t, "ok", got.Name)
	assert.JSONEq(t, `{"name":"x","count":1}`, mock.GetBody(0))
	assert.Equal(t, "application/json", mock.GetRequest(0).Header.Get("Content-Type"))
}

func TestPostJSON_NilOut(t *testing.T) {
	t.Parallel()

	mock := NewMockHTTPClient().AddResponse(http.StatusOK, `not json`)
	assert.NoError(t, PostJSON(context.Background(), mock, "http://x", map[string]int{}, nil))
}

func TestDoJSON_Errors(t *testing.T) {
	t.Parallel()

	t.Run("status", func(t *testing.T) {
		mock := NewMockHTTPClient().AddResponse(http.StatusServiceUnavailable, "down\n")
		err := GetJSON(context.Background(), mock, "http://x/y", &payload{})
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
		assert.Equal(t, "down", se.Body)
	})

	t.Run("transport", func(t *testing.T) {
		boom := errors.New("connection refused")
		mock := NewMockHTTPClient().AddErrorResponse(boom)
		err := GetJSON(context.Background(), mock, "http://x/y", &payload{})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("decode", func(t *testing.T) {
		mock := NewMockHTTPClient().AddResponse(http.StatusOK, `{"count":"three"`)
		assert.Error(t, GetJSON(context.Background(), mock, "http://x/y", &payload{}))
	})

	t.Run("empty body", func(t *testing.T) {
		mock := NewMockHTTPClient()
		assert.NoError(t, GetJSON(context.Background(), mock, "http://x/y", &payload{}))
	})
}

func TestStandardClient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSONOK(w, payload{Name: r.URL.Path, Count: 1})
	}))
	defer srv.Close()

	var got payload
	require.NoError(t, GetJSON(context.Background(), NewStandardClient(srv.Client()), srv.URL+"/hello", &got))
	assert.Equal(t, "/hello", got.Name)

	assert.NotNil(t, NewStandardClient(nil).Client)
}

func TestMockHTTPClient_DoFunc(t *testing.T) {
	t.Parallel()

	mock := NewMockHTTPClient()
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("custom")
	}
	req, _ := http.NewRequest(http.MethodGet, "http://x", nil)
	_, err := mock.Do(req)
	assert.EqualError(t, err, "custom")
	assert.Nil(t, mock.GetRequest(5))
	assert.Equal(t, "", mock.GetBody(5))
}
