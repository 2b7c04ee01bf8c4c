package banner

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/edgeguard/internal/state"
)

func ptr(b bool) *bool { return &b }

func TestCompose(t *testing.T) {
	both := Config{
		BackupPower:     Flag{Enabled: true, Message: "A"},
		DegradedNetwork: Flag{Enabled: true, Message: "B"},
	}
	freeText := state.State{BannerMessage: "hello", BannerHosts: []string{"*.example.com"}}

	tests := []struct {
		name   string
		config Config
		state  state.State
		host   string
		expect string
	}{
		{
			name:   "power and network",
			config: both,
			state: state.State{
				OnBackupPower: ptr(true), DegradedNetwork: ptr(true),
				BannerMessage: "ignored", BannerHosts: []string{"app.example.com"},
			},
			host:   "app.example.com",
			expect: "A | B",
		},
		{
			name:   "power only",
			config: both,
			state:  state.State{OnBackupPower: ptr(true), DegradedNetwork: ptr(false)},
			expect: "A",
		},
		{
			name:   "network only",
			config: both,
			state:  state.State{DegradedNetwork: ptr(true)},
			expect: "B",
		},
		{
			name:   "flags false fall back to free text",
			config: both,
			state: state.State{
				OnBackupPower: ptr(false), DegradedNetwork: ptr(false),
				BannerMessage: "hello", BannerHosts: []string{"*.example.com"},
			},
			host:   "app.example.com",
			expect: "hello",
		},
		{
			name:   "disabled features never suppress free text",
			config: Config{BackupPower: Flag{Message: "A"}, DegradedNetwork: Flag{Message: "B"}},
			state:  freeText,
			host:   "app.example.com:443",
			expect: "hello",
		},
		{
			name:   "disabled feature ignores a true flag",
			config: Config{BackupPower: Flag{Message: "A"}},
			state: state.State{
				OnBackupPower: ptr(true),
				BannerMessage: "hello", BannerHosts: []string{"*.example.com"},
			},
			host:   "app.example.com",
			expect: "hello",
		},
		{
			name:   "host not listed",
			state:  freeText,
			host:   "example.com",
			expect: "",
		},
		{
			name:   "empty message",
			state:  state.State{BannerHosts: []string{"*.example.com"}},
			host:   "app.example.com",
			expect: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Compose(tt.config, tt.state, tt.host)
			assert.Equal(t, tt.expect, msg)
			assert.Equal(t, tt.expect != "", ok)
		})
	}
}

func htmlResponse(body string) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusCreated,
		Header:        http.Header{"Content-Type": {"text/html; charset=utf-8"}, "X-Custom": {"kept"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(b)
}

func TestInject(t *testing.T) {
	res := htmlResponse(`<html><BODY class="x"><p>hi</p><body></html>`)
	ok, err := Inject(res, "<i>note</i>")
	require.NoError(t, err)
	assert.True(t, ok)

	body := readBody(t, res)
	assert.Equal(t, `<html><BODY class="x"><div style="`+style+`"><i>note</i></div><p>hi</p><body></html>`, body)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "kept", res.Header.Get("X-Custom"))
	assert.EqualValues(t, len(body), res.ContentLength)
}

func TestInjectLeavesOtherResponsesAlone(t *testing.T) {
	t.Run("not html", func(t *testing.T) {
		res := htmlResponse(`{"body": "<body>"}`)
		res.Header.Set("Content-Type", "application/json")
		ok, err := Inject(res, "x")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, `{"body": "<body>"}`, readBody(t, res))
	})

	t.Run("no body tag", func(t *testing.T) {
		res := htmlResponse(`<p>fragment</p>`)
		ok, err := Inject(res, "x")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, `<p>fragment</p>`, readBody(t, res))
	})

	t.Run("unknown encoding", func(t *testing.T) {
		res := htmlResponse("compressed")
		res.Header.Set("Content-Encoding", "br")
		ok, err := Inject(res, "x")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, "compressed", readBody(t, res))
	})
}

func TestInjectGzip(t *testing.T) {
	buf := &bytes.Buffer{}
	zw := gzip.NewWriter(buf)
	_, err := zw.Write([]byte(`<html><body><p>hi</p></body></html>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	res := htmlResponse(buf.String())
	res.Header.Set("Content-Encoding", "gzip")
	ok, err := Inject(res, "note")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, res.Header.Get("Content-Encoding"))
	assert.Contains(t, readBody(t, res), `<body><div style="`+style+`">note</div><p>hi</p>`)
}

func TestInjectBrokenGzip(t *testing.T) {
	res := htmlResponse("not gzip at all")
	res.Header.Set("Content-Encoding", "gzip")
	ok, err := Inject(res, "note")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, "not gzip at all", readBody(t, res), "original body restored")
}
