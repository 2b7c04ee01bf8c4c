package cachecontrol

import (
	"net/http"
	"strings"
)

type CacheControl struct {
	m map[string]string
}

func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.m[directive]
	return val, ok
}

// Has reports whether the directive is present, with or without a value.
func (c CacheControl) Has(directive string) bool {
	_, ok := c.m[directive]
	return ok
}

// ParseCacheControl parses a Cache-Control header value.
// Directive names are case-insensitive and stored lowercased.
func ParseCacheControl(header string) CacheControl {
	m := make(map[string]string)
	for _, directive := range strings.Split(header, ",") {
		directive = strings.TrimSpace(directive)
		if directive == "" {
			continue
		}
		parts := strings.SplitN(directive, "=", 2)
		var val string
		if len(parts) > 1 {
			val = strings.Trim(parts[1], `"`)
		}
		m[strings.ToLower(parts[0])] = val
	}
	return CacheControl{m}
}

// Storable reports whether a shared cache may keep a copy of the response.
// It may not when the request or the response says no-store, the response is
// private or sets a cookie, or the request was authenticated and the response
// does not explicitly allow shared caching.
func Storable(req *http.Request, res *http.Response) bool {
	if ParseCacheControl(req.Header.Get("Cache-Control")).Has("no-store") {
		return false
	}
	cc := ParseCacheControl(res.Header.Get("Cache-Control"))
	if cc.Has("no-store") || cc.Has("private") {
		return false
	}
	if len(res.Header.Values("Set-Cookie")) > 0 {
		return false
	}
	return req.Header.Get("Authorization") == "" || mayStoreAuthenticated(cc)
}

func mayStoreAuthenticated(resCacheControl CacheControl) bool {
	return resCacheControl.Has("public") || resCacheControl.Has("s-maxage")
}
