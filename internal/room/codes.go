package room

import (
	"context"
	"fmt"
	"math/rand/v2"
)

const (
	minRoomCode           = 10000
	maxRoomCode           = 99999
	defaultRandomAttempts = 5
)

// TakenFunc reports whether a candidate code is already in use.
type TakenFunc func(ctx context.Context, code string) (bool, error)

// CodeGenerator picks unused room codes. It samples randomly a few times and
// then walks the whole range in order, so it only fails when every code in
// the range is taken.
type CodeGenerator struct {
	lo, hi         int
	randomAttempts int
	intN           func(n int) int
}

// NewCodeGenerator covers 10000-99999, so every code is five digits without
// a leading zero.
func NewCodeGenerator() *CodeGenerator {
	return newCodeGenerator(minRoomCode, maxRoomCode, defaultRandomAttempts)
}

func newCodeGenerator(lo, hi, randomAttempts int) *CodeGenerator {
	return &CodeGenerator{
		lo:             lo,
		hi:             hi,
		randomAttempts: randomAttempts,
		intN:           rand.IntN,
	}
}

// Generate returns the first code for which taken reports false.
func (g *CodeGenerator) Generate(ctx context.Context, taken TakenFunc) (string, error) {
	span := g.hi - g.lo + 1

	for i := 0; i < g.randomAttempts; i++ {
		code := formatCode(g.lo + g.intN(span))
		inUse, err := taken(ctx, code)
		if err != nil {
			return "", err
		}
		if !inUse {
			return code, nil
		}
	}

	for n := g.lo; n <= g.hi; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code := formatCode(n)
		inUse, err := taken(ctx, code)
		if err != nil {
			return "", err
		}
		if !inUse {
			return code, nil
		}
	}

	return "", ErrExhaustedCodeSpace
}

func formatCode(n int) string {
	return fmt.Sprintf("%05d", n)
}
