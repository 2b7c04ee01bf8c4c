package errorpage

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/edgeguard/internal/classify"
)

var testCopy = map[classify.Category]Copy{
	classify.Generic:     {Title: "Something broke", Message: "Try again later", Image: "/generic.gif"},
	classify.Container:   {Title: "Container down", Message: "The app is restarting"},
	classify.Maintenance: {Title: "Maintenance", Message: "Back soon"},
}

var testReport = ReportCopy{
	ButtonText:     "Report",
	SuccessMessage: "Thanks",
	FailureMessage: "Could not send",
}

func TestDetails(t *testing.T) {
	r, err := New(Config{Copy: testCopy, ReportEnabled: true, Report: testReport})
	require.NoError(t, err)

	d := r.Details(502, classify.Container)
	assert.Equal(t, "502", d.Code)
	assert.Equal(t, "Container down", d.Title)
	assert.True(t, d.ReportEnabled)
	assert.Equal(t, "Report", d.Report.ButtonText)

	d = r.Details(530, classify.Tunnel)
	assert.Equal(t, "Something broke", d.Title, "missing copy falls back to generic")

	d = r.Details(503, classify.Maintenance)
	assert.Equal(t, "Back soon", d.Message)
	assert.False(t, d.ReportEnabled)
	assert.Equal(t, ReportCopy{}, d.Report)
}

func TestDetailsReportingDisabled(t *testing.T) {
	r, err := New(Config{Copy: testCopy, Report: testReport})
	require.NoError(t, err)

	d := r.Details(500, classify.Generic)
	assert.False(t, d.ReportEnabled)
	assert.Equal(t, ReportCopy{}, d.Report, "report copy blanked")
}

func TestResponse(t *testing.T) {
	r, err := New(Config{Copy: testCopy, ReportEnabled: true, Report: testReport})
	require.NoError(t, err)

	res, err := r.Response(nil, 502, classify.Container)
	require.NoError(t, err)
	assert.Equal(t, 502, res.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", res.Header.Get("Content-Type"))
	assert.Equal(t, "true", res.Header.Get("X-Edge-Handled"))

	body, _ := io.ReadAll(res.Body)
	assert.EqualValues(t, len(body), res.ContentLength)
	page := string(body)
	assert.Contains(t, page, "Container down")
	assert.Contains(t, page, "/report-error")
	assert.Contains(t, page, ">Report</button>")
}

func TestMaintenancePageHasNoReportBlock(t *testing.T) {
	r, err := New(Config{Copy: testCopy, ReportEnabled: true, Report: testReport})
	require.NoError(t, err)

	res, err := r.Response(nil, http.StatusServiceUnavailable, classify.Maintenance)
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	assert.False(t, strings.Contains(string(body), "/report-error"))
	assert.Contains(t, string(body), "Back soon")
}
