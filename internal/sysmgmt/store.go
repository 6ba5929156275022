package sysmgmt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/crudkit/internal/tasks"
)

// ErrUserNotFound is returned by user lookups without a match.
var ErrUserNotFound = errors.New("user not found")

var (
	_ tasks.ActionLogWriter  = (*Store)(nil)
	_ tasks.ActionLogCleaner = (*Store)(nil)
)

// Store handles the queries of the management backend that are not plain
// CRUD.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the management tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Entities()...); err != nil {
		return fmt.Errorf("failed to migrate management tables: %w", err)
	}
	return nil
}

// UserByUsername retrieves a user with its role.
func (s *Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	return s.firstUser(ctx, "username = ?", username)
}

// UserByID retrieves a user with its role.
func (s *Store) UserByID(ctx context.Context, id uint) (*User, error) {
	return s.firstUser(ctx, "id = ?", id)
}

func (s *Store) firstUser(ctx context.Context, query string, arg any) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Preload("Role.Modules").Where(query, arg).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// TouchLogin records a successful login.
func (s *Store) TouchLogin(ctx context.Context, id uint, at time.Time) error {
	return s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).
		UpdateColumn("last_login_at", at).Error
}

// SetPasswordHash replaces the stored password hash of a user.
func (s *Store) SetPasswordHash(ctx context.Context, id uint, hash string) error {
	return s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).
		UpdateColumn("password", hash).Error
}

// Permissions resolves the access of a user from its role.
func (s *Store) Permissions(ctx context.Context, userID uint) (*Permissions, error) {
	user, err := s.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return permissionsOf(user), nil
}

func permissionsOf(user *User) *Permissions {
	p := &Permissions{Modules: map[string][]string{}}
	if user.Role == nil {
		return p
	}
	if user.Role.Name == AdminRole {
		p.Admin = true
	}
	for _, m := range user.Role.Modules {
		p.Modules[m.Module] = append(p.Modules[m.Module], m.ActionList()...)
	}
	return p
}

// WriteActionLog persists one operation log entry.
func (s *Store) WriteActionLog(ctx context.Context, entry tasks.WriteActionLogTask) error {
	log := ActionLog{
		Username:  entry.Username,
		Module:    entry.Module,
		Action:    entry.Action,
		Result:    entry.Success,
		Request:   entry.Request,
		Response:  entry.Response,
		IP:        entry.IP,
		CreatedAt: entry.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&log).Error; err != nil {
		return fmt.Errorf("failed to write action log: %w", err)
	}
	return nil
}

// DeleteActionLogsBefore removes action logs created before cutoff and
// returns how many were deleted.
func (s *Store) DeleteActionLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&ActionLog{})
	return result.RowsAffected, result.Error
}
