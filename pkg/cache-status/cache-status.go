// Package cachestatus builds Cache-Status header values (RFC 9211) for
// responses answered or passed on by edgeguard.
package cachestatus

import "fmt"

// Name is the cache identifier in the header.
const Name = "Edgeguard"

const Header = "Cache-Status"

type Status string

const (
	Hit Status = "hit"
	Fwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdMiss FwdReason = "miss"
)

type CacheStatus struct {
	status    Status
	detail    string
	fwdReason FwdReason
}

func (cs *CacheStatus) Hit() {
	cs.status = Hit
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.status = Fwd
	cs.fwdReason = reason
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs *CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", Name, cs.status)
	if cs.status == Fwd && cs.fwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.fwdReason)
	}
	if cs.detail != "" {
		status = status + "; detail=" + cs.detail
	}
	return status
}

// StaleHit is the header value of a stale copy served in place of a failed
// origin response.
func StaleHit(strategy string) string {
	cs := CacheStatus{}
	cs.Hit()
	cs.Detail(strategy)
	return cs.String()
}
