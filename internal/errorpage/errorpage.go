// Package errorpage renders the fallback error and maintenance pages.
package errorpage

import (
	"bytes"
	"embed"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"github.com/always-cache/edgeguard/internal/classify"
)

//go:embed templates/*.html
var templates embed.FS

// Copy is the text and illustration shown for one category.
type Copy struct {
	Title   string `koanf:"title"`
	Message string `koanf:"message"`
	Image   string `koanf:"image"`
}

// ReportCopy is the text of the report-error button and modal.
type ReportCopy struct {
	ButtonText       string `koanf:"button_text"`
	ModalHeaderText  string `koanf:"modal_header_text"`
	LabelPlaceholder string `koanf:"label_placeholder"`
	NamePlaceholder  string `koanf:"name_placeholder"`
	CancelButtonText string `koanf:"cancel_button_text"`
	SubmitButtonText string `koanf:"submit_button_text"`
	SuccessMessage   string `koanf:"success_message"`
	FailureMessage   string `koanf:"failure_message"`
}

type Config struct {
	Copy map[classify.Category]Copy
	// ReportEnabled shows the report-error block on error pages.
	ReportEnabled bool
	Report        ReportCopy
}

// Details is everything the template needs. Every field is always set,
// report fields are blank when reporting is off.
type Details struct {
	Code     string
	Category classify.Category
	Copy
	ReportEnabled bool
	Report        ReportCopy
}

type Renderer struct {
	config Config
	tmpl   *template.Template
}

func New(config Config) (*Renderer, error) {
	tmpl, err := template.ParseFS(templates, "templates/error.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{config: config, tmpl: tmpl}, nil
}

// Details builds the page details for a status code and category.
// The maintenance page never offers reporting.
func (r *Renderer) Details(code int, category classify.Category) Details {
	c, ok := r.config.Copy[category]
	if !ok {
		c = r.config.Copy[classify.Generic]
	}
	d := Details{
		Code:     strconv.Itoa(code),
		Category: category,
		Copy:     c,
	}
	if category != classify.Maintenance && r.config.ReportEnabled {
		d.ReportEnabled = true
		d.Report = r.config.Report
	}
	return d
}

func (r *Renderer) Render(w io.Writer, d Details) error {
	return r.tmpl.ExecuteTemplate(w, "error.html", d)
}

// Response builds the complete error page response for a decision.
func (r *Renderer) Response(req *http.Request, code int, category classify.Category) (*http.Response, error) {
	buf := &bytes.Buffer{}
	if err := r.Render(buf, r.Details(code, category)); err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Cache-Control", "no-store")
	header.Set(classify.HeaderHandled, "true")
	return &http.Response{
		Status:        strconv.Itoa(code) + " " + http.StatusText(code),
		StatusCode:    code,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(buf),
		ContentLength: int64(buf.Len()),
		Request:       req,
	}, nil
}
