package octree

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/time/rate"
)

const (
	// DangerouslyDeepRecursion is the depth at which recursive walks give up
	// on a branch.
	DangerouslyDeepRecursion = 200

	// UnreasonablyDeepRecursion is the deepest level a decoded bitstream or a
	// client edit may address.
	UnreasonablyDeepRecursion = 29

	guardLogInterval = time.Minute
)

// depthGuard logs at most once per interval that a walk gave up because it
// went too deep.
type depthGuard struct {
	operation string
	sometimes rate.Sometimes
}

func newDepthGuard(operation string) *depthGuard {
	return &depthGuard{
		operation: operation,
		sometimes: rate.Sometimes{First: 1, Interval: guardLogInterval},
	}
}

func (g *depthGuard) trip(depth int) {
	g.sometimes.Do(func() {
		logs.Warn(errors.New("recursion too deep, bailing").
			WithTag("operation", g.operation).
			WithTag("depth", depth))
	})
}

var (
	recurseGuard    = newDepthGuard("recurse")
	deleteGuard     = newDepthGuard("safe_deep_delete")
	countGuard      = newDepthGuard("count")
	encodeGuard     = newDepthGuard("encode")
	decodeGuard     = newDepthGuard("decode")
	reaverageGuard  = newDepthGuard("reaverage")
	deleteCodeGuard = newDepthGuard("delete_octal_code")
)
