package cachekey

import (
	"net/http"
	"strings"
)

// SyntheticScheme prefixes the shared cache keys of state values,
// so they can never collide with keys of stored responses.
const SyntheticScheme = "internal-cache://"

const (
	originSeparator = ":"
	methodSeparator = ":"
)

type CacheKeyer struct {
	// Unique identifier for the origin.
	// Usually this should be the origin - well - origin.
	OriginId string
	// Cache key prefix for this origin
	OriginPrefix string
}

func NewCacheKeyer(originId string) CacheKeyer {
	return CacheKeyer{
		OriginId:     originId,
		OriginPrefix: originId + originSeparator,
	}
}

// SyntheticKey returns the shared cache key for a durable state key.
func SyntheticKey(stateKey string) string {
	return SyntheticScheme + stateKey
}

// MethodPrefix gets the key prefix for the origin with the given method.
// E.g. prefix for all GET requests in the cache.
func (c CacheKeyer) MethodPrefix(method string) string {
	return c.OriginPrefix + method + methodSeparator
}

// GetKey returns the key under which the response to the request is stored.
// The requested host is part of the key, since one origin may serve many hosts.
func (c CacheKeyer) GetKey(r *http.Request) string {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return c.MethodPrefix(r.Method) + strings.ToLower(host) + r.URL.RequestURI()
}
