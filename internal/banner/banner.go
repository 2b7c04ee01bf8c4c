// Package banner composes the informational banner and injects it into HTML
// responses.
package banner

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/always-cache/edgeguard/internal/hostmatch"
	"github.com/always-cache/edgeguard/internal/state"
)

// Separator joins the power and network messages.
const Separator = " | "

const style = "background:#ffc; color:#222; padding:12px; text-align:center; border-bottom:1px solid #eee; font-weight:bold;"

var bodyTag = regexp.MustCompile(`(?i)<body[^>]*>`)

// Flag is an optional banner driven by a state flag.
type Flag struct {
	Enabled bool   `koanf:"enabled"`
	Message string `koanf:"message"`
}

type Config struct {
	BackupPower     Flag `koanf:"backup_power"`
	DegradedNetwork Flag `koanf:"degraded_network"`
}

// Compose returns the banner text for host, if any. Power and network
// messages take precedence over the free-text banner and may both show.
func Compose(config Config, s state.State, host string) (string, bool) {
	var messages []string
	if config.BackupPower.Enabled && s.IsOnBackupPower() {
		messages = append(messages, config.BackupPower.Message)
	}
	if config.DegradedNetwork.Enabled && s.IsDegradedNetwork() {
		messages = append(messages, config.DegradedNetwork.Message)
	}
	if len(messages) > 0 {
		return strings.Join(messages, Separator), true
	}
	if s.BannerMessage != "" && hostmatch.MatchesAny(hostmatch.StripPort(host), s.BannerHosts) {
		return s.BannerMessage, true
	}
	return "", false
}

// IsHTML reports whether the response body is an HTML document.
func IsHTML(res *http.Response) bool {
	return strings.Contains(res.Header.Get("Content-Type"), "text/html")
}

// Inject inserts the banner right after the opening body tag of an HTML response.
// The message is inserted as is, so operators may use markup.
// Status and headers are kept, except the ones describing the old body.
// It reports whether the body was rewritten.
func Inject(res *http.Response, message string) (bool, error) {
	if !IsHTML(res) || res.Body == nil {
		return false, nil
	}

	encoding := strings.ToLower(strings.TrimSpace(res.Header.Get("Content-Encoding")))
	if encoding != "" && encoding != "identity" && encoding != "gzip" {
		// cannot decode it, leave it alone
		return false, nil
	}

	raw, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		res.Body = io.NopCloser(bytes.NewReader(raw))
		return false, fmt.Errorf("read body: %w", err)
	}

	body := raw
	if encoding == "gzip" {
		body, err = gunzip(raw)
		if err != nil {
			res.Body = io.NopCloser(bytes.NewReader(raw))
			return false, fmt.Errorf("decode gzip body: %w", err)
		}
	}

	loc := bodyTag.FindIndex(body)
	if loc == nil {
		res.Body = io.NopCloser(bytes.NewReader(raw))
		return false, nil
	}

	out := make([]byte, 0, len(body)+len(style)+len(message)+32)
	out = append(out, body[:loc[1]]...)
	out = append(out, `<div style="`+style+`">`+message+`</div>`...)
	out = append(out, body[loc[1]:]...)

	res.Body = io.NopCloser(bytes.NewReader(out))
	res.ContentLength = int64(len(out))
	res.Header.Set("Content-Length", strconv.Itoa(len(out)))
	res.Header.Del("Content-Encoding")
	res.Header.Del("ETag")
	res.TransferEncoding = nil
	res.Uncompressed = false
	return true, nil
}

func gunzip(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
