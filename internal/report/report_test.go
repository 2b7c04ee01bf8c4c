package report

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceName(t *testing.T) {
	tests := map[string]string{
		"https://example.com/billing": "billing",
		"team/app":                    "app",
		"app.example.com":             "app",
		"localhost":                   "localhost",
	}
	for site, expect := range tests {
		assert.Equal(t, expect, ServiceName(site), site)
	}
}

func TestReportAcceptsNumericCode(t *testing.T) {
	var rep Report
	require.NoError(t, json.Unmarshal([]byte(`{"fullName":"Ann","errorCode":502,"siteName":"a","redirectUrl":"u"}`), &rep))
	assert.Equal(t, "502", rep.ErrorCode)
	assert.Equal(t, "Ann", rep.FullName)

	require.NoError(t, json.Unmarshal([]byte(`{"errorCode":"521"}`), &rep))
	assert.Equal(t, "521", rep.ErrorCode)
}

type webhook struct {
	status   int
	received []payload
	srv      *httptest.Server
}

func newWebhook(t *testing.T, status int) *webhook {
	wh := &webhook{status: status}
	wh.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		wh.received = append(wh.received, p)
		w.WriteHeader(wh.status)
	}))
	t.Cleanup(wh.srv.Close)
	return wh
}

func newReporter(url string) *Reporter {
	return New(Config{
		Enabled:    true,
		WebhookURL: url,
		Card: Card{
			Title: "Error reported", ServiceField: "Service", CodeField: "Code",
			ReportByField: "By", DateField: "Date",
		},
		Now: func() time.Time { return time.Date(2026, 3, 4, 5, 6, 0, 0, time.UTC) },
	})
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, Path, strings.NewReader(body)))
	return rec
}

func TestServeHTTP(t *testing.T) {
	wh := newWebhook(t, http.StatusNoContent)
	r := newReporter(wh.srv.URL)

	rec := post(r, `{"fullName":"Ann","errorCode":"502","siteName":"app.example.com","redirectUrl":"https://app.example.com/x"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		OK bool   `json:"ok"`
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.OK)
	_, err := uuid.Parse(res.ID)
	assert.NoError(t, err)

	require.Len(t, wh.received, 1)
	e := wh.received[0].Embeds[0]
	assert.Equal(t, "Error reported", e.Title)
	assert.Equal(t, "https://app.example.com/x", e.URL)
	assert.Equal(t, 14557473, e.Color)
	require.Len(t, e.Fields, 6)
	assert.Equal(t, field{Name: "Service", Value: "app", Inline: true}, e.Fields[0])
	assert.Equal(t, "502", e.Fields[2].Value)
	assert.Equal(t, "Ann", e.Fields[3].Value)
	assert.Equal(t, "04/03/2026 05:06", e.Fields[5].Value)
	assert.Equal(t, "2026-03-04T05:06:00Z", e.Timestamp)
}

func TestServeHTTPRejectsBadBodies(t *testing.T) {
	wh := newWebhook(t, http.StatusOK)
	r := newReporter(wh.srv.URL)

	assert.Equal(t, http.StatusBadRequest, post(r, `not json`).Code)
	rec := post(r, `{"fullName":"Ann","errorCode":"502"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Missing required fields"}`, rec.Body.String())
	assert.Empty(t, wh.received)
}

func TestServeHTTPWebhookFailure(t *testing.T) {
	wh := newWebhook(t, http.StatusInternalServerError)
	rec := post(newReporter(wh.srv.URL), `{"fullName":"Ann","errorCode":"502","siteName":"a","redirectUrl":"u"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"Internal error"}`, rec.Body.String())
}

func TestSendValidates(t *testing.T) {
	err := newReporter("http://127.0.0.1:1").Send(context.Background(), Report{FullName: "x"})
	assert.ErrorIs(t, err, ErrMissingFields)
}
