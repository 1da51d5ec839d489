package karma

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "karma.service.new"
	opAdd        = "karma.add"
	opTop        = "karma.top"
	opStats      = "karma.stats"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service maintains karma tallies for people, shows, and tracks.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Add grants karma to the named entity, creating the row on first sight.
func (s *Service) Add(ctx context.Context, name string, entityType EntityType, amount int64) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	id := EntityID(name, entityType)
	now := s.clock().UTC().Unix()

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entity Entity
		err := tx.Where("id = ?", id).Take(&entity).Error
		switch {
		case err == nil:
			entity.Karma += amount
			entity.BoostCount++
			entity.LastSeenSeconds = now
			return tx.Save(&entity).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			entity = Entity{
				ID:               id,
				Name:             name,
				Type:             entityType,
				Karma:            amount,
				BoostCount:       1,
				FirstSeenSeconds: now,
				LastSeenSeconds:  now,
			}
			return tx.Create(&entity).Error
		default:
			return err
		}
	})
	if txErr != nil {
		return newServiceError(opAdd, "transaction", txErr)
	}
	return nil
}

// AddBoost tallies one finalized boost: a point each for the sender, the
// show, and (when present) the track.
func (s *Service) AddBoost(ctx context.Context, sender, show, track string) error {
	if err := s.Add(ctx, sender, EntityPerson, 1); err != nil {
		return err
	}
	if err := s.Add(ctx, show, EntityShow, 1); err != nil {
		return err
	}
	return s.Add(ctx, track, EntityTrack, 1)
}

// Top returns the highest-karma entities, optionally filtered by type.
func (s *Service) Top(ctx context.Context, entityType EntityType, limit int) ([]Entity, error) {
	if limit <= 0 {
		limit = 10
	}
	query := s.db.WithContext(ctx).Order("karma DESC").Limit(limit)
	if entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	var entities []Entity
	if err := query.Find(&entities).Error; err != nil {
		return nil, newServiceError(opTop, "query", err)
	}
	return entities, nil
}

// Stats summarizes the whole karma table.
type Stats struct {
	Entities    int64 `json:"entities"`
	TotalKarma  int64 `json:"total_karma"`
	TotalBoosts int64 `json:"total_boosts"`
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	row := s.db.WithContext(ctx).Model(&Entity{}).
		Select("COUNT(*) AS entities, COALESCE(SUM(karma), 0) AS total_karma, COALESCE(SUM(boost_count), 0) AS total_boosts").
		Row()
	if err := row.Scan(&stats.Entities, &stats.TotalKarma, &stats.TotalBoosts); err != nil {
		return Stats{}, newServiceError(opStats, "scan", err)
	}
	return stats, nil
}
