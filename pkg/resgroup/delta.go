package resgroup

import (
	"github.com/gabstv/go-bsdiff/pkg/bsdiff"
	"github.com/gabstv/go-bsdiff/pkg/bspatch"
)

// makeDelta computes the binary delta that transforms prev into next.
func makeDelta(prev, next []byte) ([]byte, error) {
	if prev == nil {
		prev = []byte{}
	}
	if next == nil {
		next = []byte{}
	}
	delta, err := bsdiff.Bytes(prev, next)
	if err != nil {
		return nil, errf(CodeFailedToCreatePatch, "%v", err)
	}
	return delta, nil
}

// applyDelta reconstructs next from prev and a delta.
func applyDelta(prev, delta []byte) ([]byte, error) {
	if prev == nil {
		prev = []byte{}
	}
	next, err := bspatch.Bytes(prev, delta)
	if err != nil {
		return nil, errf(CodeFailedToCreatePatch, "%v", err)
	}
	return next, nil
}
