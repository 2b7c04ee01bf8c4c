// Package classify turns the outcome of an origin request into a fallback
// decision: pass the response on, serve a stale copy, or serve an error page.
package classify

import (
	"net/http"
	"slices"
)

type Kind int

const (
	// Pass leaves the origin response alone.
	Pass Kind = iota
	// ServedFromCache replaces the origin outcome with a stale copy.
	ServedFromCache
	// ErrorPage replaces the origin outcome with a rendered error page.
	ErrorPage
)

func (k Kind) String() string {
	switch k {
	case Pass:
		return "pass"
	case ServedFromCache:
		return "served_from_cache"
	case ErrorPage:
		return "error_page"
	}
	return "unknown"
}

// Category selects the copy and illustration of an error page.
type Category string

const (
	Generic     Category = "generic"
	Container   Category = "container"
	Box         Category = "box"
	Tunnel      Category = "tunnel"
	Maintenance Category = "maintenance"
)

// Decision is produced once per request.
type Decision struct {
	Kind Kind
	// Code and Category are set for ErrorPage.
	Code     int
	Category Category
	// Response is the stale copy for ServedFromCache, ready to be sent.
	Response *http.Response
	// Strategy names the stale lookup that produced Response.
	Strategy string
}

// Categories maps status codes to error page categories.
type Categories struct {
	Container []int `koanf:"container"`
	Box       []int `koanf:"box"`
	Tunnel    []int `koanf:"tunnel"`
}

// Of returns the category of a status code. The lists are checked in the
// order container, box, tunnel; a code in none of them is generic.
func (c Categories) Of(code int) Category {
	switch {
	case slices.Contains(c.Container, code):
		return Container
	case slices.Contains(c.Box, code):
		return Box
	case slices.Contains(c.Tunnel, code):
		return Tunnel
	}
	return Generic
}
