package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/okian/sightline/pkg/logger"
)

// IdentityRepo manages enrolled subjects.
type IdentityRepo interface {
	Create(ctx context.Context, identity *Identity) (*Identity, error)
	GetByID(ctx context.Context, id int64) (*Identity, error)
	List(ctx context.Context, activeOnly bool) ([]*Identity, error)
	// ActiveIDs returns the set of active identity IDs for sync-time
	// filtering.
	ActiveIDs(ctx context.Context) (map[int64]struct{}, error)
	Deactivate(ctx context.Context, id int64) (bool, error)
}

type identityRepo struct {
	db  *gorm.DB
	log logger.Logger
}

// NewIdentityRepo creates a repository over db.
func NewIdentityRepo(db *gorm.DB) IdentityRepo {
	return &identityRepo{db: db, log: logger.Named("store.identity")}
}

func (r *identityRepo) Create(ctx context.Context, identity *Identity) (*Identity, error) {
	if err := r.db.WithContext(ctx).Create(identity).Error; err != nil {
		r.log.Error(ctx, "create identity failed",
			logger.String("name", identity.Name),
			logger.Error(err))
		return nil, err
	}
	return identity, nil
}

func (r *identityRepo) GetByID(ctx context.Context, id int64) (*Identity, error) {
	var identity Identity
	err := r.db.WithContext(ctx).First(&identity, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (r *identityRepo) List(ctx context.Context, activeOnly bool) ([]*Identity, error) {
	var out []*Identity
	q := r.db.WithContext(ctx).Order("id")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *identityRepo) ActiveIDs(ctx context.Context) (map[int64]struct{}, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&Identity{}).
		Where("active = ?", true).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (r *identityRepo) Deactivate(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Identity{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	if res.Error != nil {
		r.log.Error(ctx, "deactivate identity failed",
			logger.Int64("identity_id", id),
			logger.Error(res.Error))
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
