package cachestatus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheStatusString(t *testing.T) {
	tests := []struct {
		name   string
		build  func(cs *CacheStatus)
		expect string
	}{
		{"hit", func(cs *CacheStatus) { cs.Hit() }, "Edgeguard; hit"},
		{"fwd", func(cs *CacheStatus) { cs.Forward(FwdMiss) }, "Edgeguard; fwd=miss"},
		{"hit with detail", func(cs *CacheStatus) { cs.Hit(); cs.Detail("stored-copy") }, "Edgeguard; hit; detail=stored-copy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := CacheStatus{}
			tt.build(&cs)
			assert.Equal(t, tt.expect, cs.String())
		})
	}
	assert.Equal(t, "Edgeguard; hit; detail=refetch", StaleHit("refetch"))
}
