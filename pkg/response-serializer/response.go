package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const storedAtHeaderName = "Edgeguard-Stored-At"

// StoredResponse is a response as kept in the shared edge cache.
type StoredResponse struct {
	Response *http.Response
	// The value of the clock at the time the response was stored.
	StoredAt time.Time
}

// Age returns how long ago the response was stored.
func (s StoredResponse) Age(now time.Time) time.Duration {
	return now.Sub(s.StoredAt)
}

// BytesToStoredResponse reads a response previously written by StoredResponseToBytes.
func BytesToStoredResponse(b []byte) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := bytesToResponse(b)
	if err != nil {
		return sRes, err
	}
	sRes.Response = res
	if storedAt := res.Header.Get(storedAtHeaderName); storedAt != "" {
		storedAtInt, err := strconv.ParseInt(storedAt, 10, 64)
		if err != nil {
			return sRes, fmt.Errorf("malformed %s header: %w", storedAtHeaderName, err)
		}
		sRes.StoredAt = time.Unix(storedAtInt, 0)
	}
	// delete extra headers
	sRes.Response.Header.Del(storedAtHeaderName)
	return sRes, nil
}

// StoredResponseToBytes serializes the response in HTTP/1.1 wire format.
// The response body is consumed and replaced with an identical, unread body.
func StoredResponseToBytes(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	res.Header.Set(storedAtHeaderName, strconv.FormatInt(sRes.StoredAt.Unix(), 10))
	bts, err := responseToBytes(res)
	// remove the extra header just in case
	res.Header.Del(storedAtHeaderName)
	return bts, err
}

// bytesToResponse converts a byte slice to a http.Response.
func bytesToResponse(b []byte) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), nil)
}

// responseToBytes converts a response to a byte slice.
// It returns the HTTP/1.1 representation of the response
func responseToBytes(res *http.Response) ([]byte, error) {
	// write response to buffer
	buf := &bytes.Buffer{}
	if err := res.Write(buf); err != nil {
		return nil, fmt.Errorf("write response: %w", err)
	}
	// set response body back
	bts := buf.Bytes()
	clonedRes, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(bts)), res.Request)
	if err != nil {
		return nil, fmt.Errorf("read back response: %w", err)
	}
	body, err := io.ReadAll(clonedRes.Body)
	if err != nil {
		return nil, fmt.Errorf("read back body: %w", err)
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	// return buffer bytes
	return bts, nil
}
