package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/whiteboard/internal/auth"
	"github.com/charlesng35/whiteboard/internal/models"
	apperrors "github.com/charlesng35/whiteboard/pkg/errors"
)

// UserService mirrors identities issued by the external identity service.
type UserService struct {
	db *gorm.DB
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db}, nil
}

// ResolveIdentity maps verified token claims onto a user row. Claims carrying a user id
// are upserted so canvases can later be shared with them by email; email-only claims
// must match an existing user.
func (s *UserService) ResolveIdentity(ctx context.Context, claimed auth.Identity) (auth.Identity, error) {
	ctx = ensureContext(ctx)
	userID := strings.TrimSpace(claimed.UserID)
	email := normaliseEmail(claimed.Email)

	if userID == "" {
		user, err := s.FindByEmail(ctx, email)
		if err != nil {
			return auth.Identity{}, err
		}
		return auth.Identity{UserID: user.ID, Email: user.Email}, nil
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	switch {
	case err == nil:
		if email != "" && user.Email != email {
			if err := s.db.WithContext(ctx).Model(&user).Update("email", email).Error; err != nil {
				return auth.Identity{}, fmt.Errorf("user service: refresh email: %w", err)
			}
			user.Email = email
		}
		return auth.Identity{UserID: user.ID, Email: user.Email}, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return auth.Identity{}, fmt.Errorf("user service: load user: %w", err)
	}

	if email == "" {
		return auth.Identity{}, apperrors.ErrNotFound.WithMessage("User not found")
	}

	user = models.User{BaseModel: models.BaseModel{ID: userID}, Email: email}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return auth.Identity{}, apperrors.ErrValidation.WithMessage("Email already registered to another user").WithInternal(err)
		}
		return auth.Identity{}, fmt.Errorf("user service: create user: %w", err)
	}

	return auth.Identity{UserID: user.ID, Email: user.Email}, nil
}

// FindByEmail returns the user registered with email.
func (s *UserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx = ensureContext(ctx)
	email = normaliseEmail(email)
	if email == "" {
		return nil, apperrors.NewValidation("email is required")
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound.WithMessage("User not found")
		}
		return nil, fmt.Errorf("user service: find by email: %w", err)
	}
	return &user, nil
}
