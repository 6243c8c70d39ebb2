package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abkawan/bank-management/internal/ledger"
	"github.com/abkawan/bank-management/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvents struct {
	movements     chan models.Movement
	compensations []ledger.Compensation

	mu       sync.Mutex
	failures []error
}

func (f *fakeEvents) ConsumeMovements(ctx context.Context) (<-chan models.Movement, error) {
	return f.movements, nil
}

func (f *fakeEvents) ConsumeCompensations(ctx context.Context, handle func(context.Context, ledger.Compensation) error) error {
	for _, c := range f.compensations {
		err := handle(ctx, c)
		f.mu.Lock()
		f.failures = append(f.failures, err)
		f.mu.Unlock()
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeEvents) results() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.failures...)
}

type fakeRepairer struct {
	mu       sync.Mutex
	repaired []string
}

func (f *fakeRepairer) Repair(ctx context.Context, c ledger.Compensation) error {
	if c.Kind == "" {
		return errors.New("unknown compensation kind")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repaired = append(f.repaired, c.MovementID)
	return nil
}

func TestProcessorRepairsQueuedCompensations(t *testing.T) {
	events := &fakeEvents{
		movements: make(chan models.Movement),
		compensations: []ledger.Compensation{
			{Kind: ledger.ReverseDeposit, MovementID: "m-1"},
			{MovementID: "m-2"},
		},
	}
	repairer := &fakeRepairer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := NewProcessorService(events, repairer)
	require.NoError(t, svc.StartProcessor(ctx))

	events.movements <- models.Movement{ID: "m-1", Type: models.Deposit}

	assert.Eventually(t, func() bool { return len(events.results()) == 2 }, time.Second, 10*time.Millisecond)

	results := events.results()
	assert.NoError(t, results[0])
	assert.ErrorContains(t, results[1], "m-2")

	repairer.mu.Lock()
	defer repairer.mu.Unlock()
	assert.Equal(t, []string{"m-1"}, repairer.repaired)
}
