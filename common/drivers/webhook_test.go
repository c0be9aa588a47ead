package drivers

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/agentflow/common/workflow"
)

// permissiveGuard lets requests through to httptest servers on loopback
// while keeping URL parsing intact.
func permissiveGuard() *urlGuard {
	return &urlGuard{
		blockedHosts: map[string]struct{}{},
		lookupIP: func(string) ([]net.IP, error) {
			return []net.IP{net.ParseIP("93.184.216.34")}, nil
		},
	}
}

func webhookNode(data map[string]interface{}) *workflow.Node {
	return &workflow.Node{ID: "hook", Type: "webhook", Data: data}
}

func TestWebhookPostsInputAsBody(t *testing.T) {
	var gotBody []byte
	var gotContentType, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		gotMethod = r.Method
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"received": true}`))
	}))
	defer srv.Close()

	d := NewWebhookDriver(nil)
	d.guard = permissiveGuard()

	wctx := workflow.NewContext()
	wctx.Input = map[string]interface{}{"order": "42"}

	resp := d.Execute(context.Background(), webhookNode(map[string]interface{}{
		"url": srv.URL,
	}), wctx)

	require.Equal(t, workflow.StatusOK, resp.Status, resp.Error)
	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.JSONEq(t, `{"order":"42"}`, string(gotBody))

	assert.Equal(t, map[string]interface{}{"received": true}, resp.Output)
	code, _ := resp.Extra("status_code")
	assert.Equal(t, http.StatusOK, code)
	method, _ := resp.Extra("method")
	assert.Equal(t, "POST", method)
	url, _ := resp.Extra("url")
	assert.Equal(t, srv.URL, url)
}

func TestWebhookBodyAndURLTemplates(t *testing.T) {
	var gotBody []byte
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotPath = r.URL.RawQuery
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := NewWebhookDriver(nil)
	d.guard = permissiveGuard()

	wctx := workflow.NewContext()
	wctx.Input = "hello"

	resp := d.Execute(context.Background(), webhookNode(map[string]interface{}{
		"url":  srv.URL + "?q={input}",
		"body": `{"msg": "{input}"}`,
	}), wctx)

	require.Equal(t, workflow.StatusOK, resp.Status, resp.Error)
	assert.JSONEq(t, `{"msg":"hello"}`, string(gotBody))
	assert.Equal(t, "q=hello", gotPath)
	// non-JSON response body comes back as a plain string
	assert.Equal(t, "ok", resp.Output)
}

func TestWebhookHeadersAndAuth(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	d := NewWebhookDriver(nil)
	d.guard = permissiveGuard()

	cases := []struct {
		name    string
		data    map[string]interface{}
		headers map[string]string
	}{
		{
			name: "json headers with bearer",
			data: map[string]interface{}{
				"url":        srv.URL,
				"headers":    `{"X-Custom": "yes"}`,
				"auth_type":  "bearer",
				"auth_token": "tok-1",
			},
			headers: map[string]string{"X-Custom": "yes", "Authorization": "Bearer tok-1"},
		},
		{
			name: "line headers with token auth",
			data: map[string]interface{}{
				"url":        srv.URL,
				"headers":    "X-One: 1\nX-Two: 2",
				"auth_type":  "token",
				"auth_token": "tok-2",
			},
			headers: map[string]string{"X-One": "1", "X-Two": "2", "Authorization": "Token tok-2"},
		},
		{
			name: "api key auth",
			data: map[string]interface{}{
				"url":        srv.URL,
				"auth_type":  "api_key",
				"auth_token": "key-3",
			},
			headers: map[string]string{"X-API-Key": "key-3"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := d.Execute(context.Background(), webhookNode(tc.data), workflow.NewContext())
			require.Equal(t, workflow.StatusOK, resp.Status, resp.Error)
			for k, want := range tc.headers {
				assert.Equal(t, want, got.Get(k), k)
			}
		})
	}
}

func TestWebhookGetSendsNoBody(t *testing.T) {
	var gotLen int64
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLen = r.ContentLength
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`[1,2]`))
	}))
	defer srv.Close()

	d := NewWebhookDriver(nil)
	d.guard = permissiveGuard()

	wctx := workflow.NewContext()
	wctx.Input = "ignored for GET"

	resp := d.Execute(context.Background(), webhookNode(map[string]interface{}{
		"url":    srv.URL,
		"method": "get",
	}), wctx)

	require.Equal(t, workflow.StatusOK, resp.Status, resp.Error)
	assert.LessOrEqual(t, gotLen, int64(0))
	assert.Empty(t, gotContentType)
	assert.Equal(t, []interface{}{float64(1), float64(2)}, resp.Output)
}

func TestWebhookRequiresURL(t *testing.T) {
	d := NewWebhookDriver(nil)
	resp := d.Execute(context.Background(), webhookNode(map[string]interface{}{}), workflow.NewContext())
	require.Equal(t, workflow.StatusError, resp.Status)
	assert.Equal(t, "Webhook URL is required", resp.Error)
}

func TestWebhookRejectsUnsupportedMethod(t *testing.T) {
	d := NewWebhookDriver(nil)
	d.guard = permissiveGuard()
	resp := d.Execute(context.Background(), webhookNode(map[string]interface{}{
		"url":    "http://example.com/hook",
		"method": "trace",
	}), workflow.NewContext())
	require.Equal(t, workflow.StatusError, resp.Status)
	assert.Equal(t, "Unsupported HTTP method: TRACE", resp.Error)
}

func TestWebhookReportsConnectionErrors(t *testing.T) {
	d := NewWebhookDriver(nil)
	d.guard = permissiveGuard()

	// nothing listens on this port
	resp := d.Execute(context.Background(), webhookNode(map[string]interface{}{
		"url": "http://127.0.0.1:1/hook",
	}), workflow.NewContext())
	require.Equal(t, workflow.StatusError, resp.Status)
	assert.Contains(t, resp.Error, "Connection error:")
}

func TestGuardBlocksInternalTargets(t *testing.T) {
	guard := newURLGuard()
	guard.lookupIP = func(host string) ([]net.IP, error) {
		switch host {
		case "internal.test":
			return []net.IP{net.ParseIP("10.0.0.8")}, nil
		case "metadata.test":
			return []net.IP{net.ParseIP("169.254.169.254")}, nil
		default:
			return []net.IP{net.ParseIP("93.184.216.34")}, nil
		}
	}

	cases := []struct {
		url  string
		want string
	}{
		{"file:///etc/passwd", "protocol 'file' is not allowed"},
		{"ftp://example.com/file", "protocol 'ftp' is not allowed"},
		{"http://localhost/hook", "hostname 'localhost' is blocked"},
		{"http://127.0.0.1:8080/hook", "hostname '127.0.0.1' is blocked"},
		{"http://internal.test/hook", "private network"},
		{"http://metadata.test/latest/meta-data", "link-local address"},
		{"http://example.com/../../etc/passwd", "blocked pattern"},
		{"http://example.com/hook?path=../secret", "query parameter 'path'"},
	}

	for _, tc := range cases {
		err := guard.Validate(tc.url)
		require.Error(t, err, tc.url)
		assert.Contains(t, err.Error(), tc.want, tc.url)
	}
}

func TestGuardAllowsPublicTargets(t *testing.T) {
	guard := newURLGuard()
	guard.lookupIP = func(string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("93.184.216.34")}, nil
	}

	for _, url := range []string{
		"https://api.example.com/v1/hooks",
		"http://example.com/callback?id=42",
	} {
		assert.NoError(t, guard.Validate(url), url)
	}
}

func TestGuardPassesOnResolutionFailure(t *testing.T) {
	guard := newURLGuard()
	guard.lookupIP = func(string) ([]net.IP, error) {
		return nil, &net.DNSError{Err: "no such host", Name: "gone.test", IsNotFound: true}
	}
	assert.NoError(t, guard.Validate("https://gone.test/hook"))
}

func TestParseHeaderBlock(t *testing.T) {
	assert.Equal(t, map[string]string{}, parseHeaderBlock(""))
	assert.Equal(t, map[string]string{"A": "1"}, parseHeaderBlock(`{"A": "1"}`))
	assert.Equal(t,
		map[string]string{"A": "1", "B": "x: y"},
		parseHeaderBlock("A: 1\nB: x: y\nno-separator-line"),
	)
}

func TestWebhookRegisteredByDefault(t *testing.T) {
	reg := NewRegistry(nil)
	RegisterDefaults(reg, Deps{})
	require.True(t, reg.Has("webhook"))

	// registry-level smoke: bad URL surfaces as a driver error response
	resp := reg.Execute(context.Background(), "webhook",
		webhookNode(map[string]interface{}{"url": "file:///etc/passwd"}),
		workflow.NewContext())
	assert.Equal(t, workflow.StatusError, resp.Status)
	assert.Contains(t, resp.Error, "Webhook URL rejected")
}

func TestFirstHeaderValues(t *testing.T) {
	h := http.Header{}
	h.Add("X-Multi", "a")
	h.Add("X-Multi", "b")
	h.Set("X-One", "1")
	flat := firstHeaderValues(h)
	assert.Equal(t, "a", flat["X-Multi"])
	assert.Equal(t, "1", flat["X-One"])
}

func TestWebhookNonJSONResponsePassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text result"))
	}))
	defer srv.Close()

	d := NewWebhookDriver(nil)
	d.guard = permissiveGuard()

	resp := d.Execute(context.Background(), webhookNode(map[string]interface{}{
		"url": srv.URL,
	}), workflow.NewContext())
	require.Equal(t, workflow.StatusOK, resp.Status, resp.Error)
	assert.Equal(t, "plain text result", resp.Output)

	var encoded []byte
	encoded, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"status_code":200`)
}
