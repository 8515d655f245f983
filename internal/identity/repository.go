package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"private-chat/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists accounts and the approval list
type Repository interface {
	IsApproved(ctx context.Context, email string) (bool, error)
	AddApproved(ctx context.Context, emails []string) error
	CreateUser(ctx context.Context, user *models.User) error
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id uint) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
}

// GormRepository is the relational Repository
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) IsApproved(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ApprovedEmail{}).
		Where("email = ?", email).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check approval: %w", err)
	}
	return count > 0, nil
}

func (r *GormRepository) AddApproved(ctx context.Context, emails []string) error {
	if len(emails) == 0 {
		return nil
	}
	rows := make([]models.ApprovedEmail, 0, len(emails))
	for _, e := range emails {
		rows = append(rows, models.ApprovedEmail{Email: e})
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("add approved emails: %w", err)
	}
	return nil
}

func (r *GormRepository) CreateUser(ctx context.Context, user *models.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUserAlreadyExists
	}
	return err
}

func (r *GormRepository) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *GormRepository) UserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *GormRepository) UpdateUser(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

// MemoryRepository keeps accounts in process memory. It backs the
// "memory" store mode and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	approved map[string]struct{}
	users    map[uint]models.User
	nextID   uint
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		approved: make(map[string]struct{}),
		users:    make(map[uint]models.User),
	}
}

func (r *MemoryRepository) IsApproved(_ context.Context, email string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.approved[email]
	return ok, nil
}

func (r *MemoryRepository) AddApproved(_ context.Context, emails []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range emails {
		r.approved[e] = struct{}{}
	}
	return nil
}

// RemoveApproved drops emails from the approval list
func (r *MemoryRepository) RemoveApproved(emails ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range emails {
		delete(r.approved, e)
	}
}

func (r *MemoryRepository) CreateUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return ErrUserAlreadyExists
		}
	}
	r.nextID++
	user.ID = r.nextID
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryRepository) UserByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *MemoryRepository) UserByID(_ context.Context, id uint) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r *MemoryRepository) UpdateUser(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return ErrUserNotFound
	}
	r.users[user.ID] = *user
	return nil
}
