package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/chunkstore/memstore"
)

func newTestServer(t *testing.T) *server {
	t.Helper()
	eng := memstore.New()
	require.NoError(t, eng.Init(context.Background()))
	return newServer(eng, zap.NewNop())
}

func TestHandleAppendThenReadForward(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	body, _ := json.Marshal(appendRequest{Payload: "hello"})
	resp, err := http.Post(ts.URL+"/partitions/S1/append", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var appended chunkResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&appended))
	require.Equal(t, "hello", appended.Payload)

	fwdResp, err := http.Get(ts.URL + "/partitions/S1/forward")
	require.NoError(t, err)
	defer fwdResp.Body.Close()
	require.Equal(t, http.StatusOK, fwdResp.StatusCode)

	var got []chunkResponse
	require.NoError(t, json.NewDecoder(fwdResp.Body).Decode(&got))
	require.Len(t, got, 1)
	require.Equal(t, "hello", got[0].Payload)
}

func TestHandleAppendDuplicateIndexReturnsConflict(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	first, _ := json.Marshal(appendRequest{Index: 1, Payload: "a"})
	resp, err := http.Post(ts.URL+"/partitions/S1/append", "application/json", bytes.NewReader(first))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	second, _ := json.Marshal(appendRequest{Index: 1, Payload: "b"})
	resp, err = http.Post(ts.URL+"/partitions/S1/append", "application/json", bytes.NewReader(second))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandleDeletePartitionNotFound(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/partitions/missing", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	ts := httptest.NewServer(s.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
