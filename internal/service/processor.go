package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/abkawan/bank-management/internal/ledger"
	"github.com/abkawan/bank-management/internal/models"
)

// EventSource delivers committed movements and queued compensations.
type EventSource interface {
	ConsumeMovements(ctx context.Context) (<-chan models.Movement, error)
	ConsumeCompensations(ctx context.Context, handle func(context.Context, ledger.Compensation) error) error
}

// Repairer applies a pending compensation.
type Repairer interface {
	Repair(ctx context.Context, c ledger.Compensation) error
}

// ProcessorService audits committed movements and drives queued
// compensations until they land.
type ProcessorService struct {
	events   EventSource
	repairer Repairer
}

// creates a new ProcessorService
func NewProcessorService(events EventSource, repairer Repairer) *ProcessorService {
	return &ProcessorService{
		events:   events,
		repairer: repairer,
	}
}

// StartProcessor starts both consumers and returns once they are registered.
func (s *ProcessorService) StartProcessor(ctx context.Context) error {
	movements, err := s.events.ConsumeMovements(ctx)
	if err != nil {
		return fmt.Errorf("failed to consume movements: %w", err)
	}

	// auditing movements in a goroutine
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-movements:
				if !ok {
					return
				}
				ledger.Audit("MOVEMENT", m)
			}
		}
	}()

	go func() {
		err := s.events.ConsumeCompensations(ctx, s.Repair)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Compensation consumer stopped: %v", err)
		}
	}()

	return nil
}

// Repair applies one queued compensation.
func (s *ProcessorService) Repair(ctx context.Context, c ledger.Compensation) error {
	if err := s.repairer.Repair(ctx, c); err != nil {
		return fmt.Errorf("failed to repair movement %s: %w", c.MovementID, err)
	}
	ledger.Audit("COMPENSATION_APPLIED", c)
	log.Printf("Successfully applied %s for movement %s", c.Kind, c.MovementID)
	return nil
}
