package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
)

const (
	numberFloor = 1_000_000_000
	numberSpan  = 9_000_000_000

	DefaultNumberAttempts = 10
)

// NumberChecker reports whether an active account already holds a number.
type NumberChecker interface {
	NumberExists(ctx context.Context, number string) (bool, error)
}

// NumberGenerator draws 10-digit account numbers at random and retries
// collisions a bounded number of times.
type NumberGenerator struct {
	checker  NumberChecker
	attempts int
	draw     func() int64
}

func NewNumberGenerator(checker NumberChecker, attempts int) *NumberGenerator {
	if attempts <= 0 {
		attempts = DefaultNumberAttempts
	}
	return &NumberGenerator{
		checker:  checker,
		attempts: attempts,
		draw:     func() int64 { return numberFloor + rand.Int63n(numberSpan) },
	}
}

// Assign draws numbers until one is free and claim accepts it. claim returns
// ErrNumberTaken when the number was taken between the check and the insert,
// which consumes an attempt like any other collision.
func (g *NumberGenerator) Assign(ctx context.Context, claim func(ctx context.Context, number string) error) (string, error) {
	var last error
	for i := 0; i < g.attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", storageError("assign account number", err)
		}

		number := fmt.Sprintf("%010d", g.draw())

		exists, err := g.checker.NumberExists(ctx, number)
		if err != nil {
			last = err
			continue
		}
		if exists {
			last = ErrNumberTaken
			continue
		}

		err = claim(ctx, number)
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, ErrNumberTaken) && IsClientError(err) {
			return "", err
		}
		last = err
	}
	return "", storageError(fmt.Sprintf("no free account number after %d attempts", g.attempts), last)
}
