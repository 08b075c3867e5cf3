package inventory

import (
	"context"
	"fmt"
	"log/slog"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	ListQuants(ctx context.Context, filter QuantFilter) ([]Quant, error)
}

// Service answers stock-level questions.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Quants lists on-hand quantities for the requested locations.
func (s *Service) Quants(ctx context.Context, filter QuantFilter) ([]Quant, error) {
	if len(filter.LocationIDs) == 0 {
		return nil, ErrLocationsRequired
	}
	if filter.Quantity == "" {
		filter.Quantity = QuantityAvailable
	}
	if !filter.Quantity.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidQuantityFilter, filter.Quantity)
	}
	quants, err := s.repo.ListQuants(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("inventory: list quants: %w", err)
	}
	s.logger.Debug("inventory quants loaded",
		slog.Int("locations", len(filter.LocationIDs)),
		slog.String("filter", string(filter.Quantity)),
		slog.Int("rows", len(quants)))
	return quants, nil
}
