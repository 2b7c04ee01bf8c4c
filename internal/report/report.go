// Package report forwards error reports from the error page to a
// Discord-compatible webhook.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// Path is where the error page posts reports.
const Path = "/report-error"

// embedColor is the side bar color of the webhook card.
const embedColor = 14557473

// zeroWidth renders an empty inline column in the card.
const zeroWidth = "​"

var ErrMissingFields = errors.New("missing required fields")

// Card holds the webhook card copy.
type Card struct {
	Title         string `koanf:"title"`
	ServiceField  string `koanf:"service_field"`
	CodeField     string `koanf:"code_field"`
	ReportByField string `koanf:"report_by_field"`
	DateField     string `koanf:"date_field"`
}

type Config struct {
	Enabled    bool   `koanf:"enabled"`
	WebhookURL string `koanf:"webhook_url"`
	Card       Card   `koanf:"card"`

	// Location for the report date. UTC if nil.
	Location *time.Location
	Logger   *zerolog.Logger
	Client   *http.Client
	Now      func() time.Time
}

// Report is the body posted by the error page.
type Report struct {
	FullName    string `json:"fullName"`
	ErrorCode   string `json:"errorCode"`
	SiteName    string `json:"siteName"`
	RedirectURL string `json:"redirectUrl"`
}

func (r Report) validate() error {
	if r.FullName == "" || r.ErrorCode == "" || r.SiteName == "" || r.RedirectURL == "" {
		return ErrMissingFields
	}
	return nil
}

// UnmarshalJSON accepts the error code as a string or a number.
func (r *Report) UnmarshalJSON(b []byte) error {
	type plain Report
	var raw struct {
		plain
		ErrorCode json.RawMessage `json:"errorCode"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = Report(raw.plain)
	if len(raw.ErrorCode) == 0 || string(raw.ErrorCode) == "null" {
		r.ErrorCode = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.ErrorCode, &s); err == nil {
		r.ErrorCode = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.ErrorCode, &n); err != nil {
		return fmt.Errorf("errorCode: %w", err)
	}
	r.ErrorCode = n.String()
	return nil
}

// ServiceName derives a short service name from the site name: the last path
// segment if it contains a slash, else the first label if it contains a dot.
func ServiceName(siteName string) string {
	if i := strings.LastIndex(siteName, "/"); i != -1 {
		return siteName[i+1:]
	}
	if i := strings.Index(siteName, "."); i != -1 {
		return siteName[:i]
	}
	return siteName
}

type field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Color     int     `json:"color"`
	Fields    []field `json:"fields"`
	Timestamp string  `json:"timestamp"`
}

type payload struct {
	Embeds []embed `json:"embeds"`
}

type Reporter struct {
	config Config
	client *http.Client
	now    func() time.Time
	loc    *time.Location
	log    zerolog.Logger
}

func New(config Config) *Reporter {
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}
	r := &Reporter{
		config: config,
		client: config.Client,
		now:    config.Now,
		loc:    config.Location,
		log:    logger.With().Str("component", "report").Logger(),
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: 10 * time.Second}
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.loc == nil {
		r.loc = time.UTC
	}
	return r
}

func (r *Reporter) Enabled() bool {
	return r.config.Enabled
}

func (r *Reporter) payload(rep Report, now time.Time) payload {
	card := r.config.Card
	return payload{Embeds: []embed{{
		Title: card.Title,
		URL:   rep.RedirectURL,
		Color: embedColor,
		Fields: []field{
			{Name: card.ServiceField, Value: ServiceName(rep.SiteName), Inline: true},
			{Name: zeroWidth, Value: zeroWidth, Inline: true},
			{Name: card.CodeField, Value: rep.ErrorCode, Inline: true},
			{Name: card.ReportByField, Value: rep.FullName, Inline: true},
			{Name: zeroWidth, Value: zeroWidth, Inline: true},
			{Name: card.DateField, Value: now.In(r.loc).Format("02/01/2006 15:04"), Inline: true},
		},
		Timestamp: now.UTC().Format(time.RFC3339),
	}}}
}

// Send posts the report to the webhook.
func (r *Reporter) Send(ctx context.Context, rep Report) error {
	if err := rep.validate(); err != nil {
		return err
	}
	body, err := json.Marshal(r.payload(rep, r.now()))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("webhook failed: %d", res.StatusCode)
	}
	return nil
}

type result struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ServeHTTP handles POST /report-error.
func (r *Reporter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var rep Report
	if err := json.NewDecoder(io.LimitReader(req.Body, 1<<16)).Decode(&rep); err != nil {
		writeJSON(w, http.StatusBadRequest, result{Error: "Invalid body"})
		return
	}
	if err := rep.validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, result{Error: "Missing required fields"})
		return
	}

	id := uuid.New().String()
	logger := r.log
	if l := hlog.FromRequest(req); l.GetLevel() != zerolog.Disabled {
		logger = *l
	}
	logger = logger.With().Str("report", id).Str("code", rep.ErrorCode).Str("site", rep.SiteName).Logger()
	if err := r.Send(req.Context(), rep); err != nil {
		logger.Error().Err(err).Msg("Report error handling failed")
		writeJSON(w, http.StatusInternalServerError, result{Error: "Internal error"})
		return
	}
	logger.Info().Msg("Error report sent")
	writeJSON(w, http.StatusOK, result{OK: true, ID: id})
}
