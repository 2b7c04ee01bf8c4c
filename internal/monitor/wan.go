package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
)

func get(ctx context.Context, client *http.Client, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", target, res.StatusCode)
	}
	return body, nil
}

func publicIP(ctx context.Context, client *http.Client, ipURL string) (string, error) {
	body, err := get(ctx, client, ipURL)
	if err != nil {
		return "", fmt.Errorf("public ip: %w", err)
	}
	ip := strings.TrimSpace(string(body))
	if net.ParseIP(ip) == nil {
		return "", fmt.Errorf("public ip: unexpected answer %q", ip)
	}
	return ip, nil
}

func isMobile(ctx context.Context, client *http.Client, checkURL, ip string) (bool, error) {
	body, err := get(ctx, client, strings.ReplaceAll(checkURL, "{ip}", url.PathEscape(ip)))
	if err != nil {
		return false, fmt.Errorf("mobile check: %w", err)
	}
	var answer struct {
		Mobile bool `json:"mobile"`
	}
	if err := json.Unmarshal(body, &answer); err != nil {
		return false, fmt.Errorf("mobile check: %w", err)
	}
	return answer.Mobile, nil
}
