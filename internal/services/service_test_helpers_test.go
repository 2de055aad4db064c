package services

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/whiteboard/internal/database/testutil"
	"github.com/charlesng35/whiteboard/internal/models"
)

type serviceFixture struct {
	db       *gorm.DB
	users    *UserService
	canvases *CanvasService
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	users, err := NewUserService(db)
	require.NoError(t, err)
	canvases, err := NewCanvasService(db, users)
	require.NoError(t, err)

	return &serviceFixture{db: db, users: users, canvases: canvases}
}

func (f *serviceFixture) createUser(t *testing.T, id, email string) models.User {
	t.Helper()

	user := models.User{BaseModel: models.BaseModel{ID: id}, Email: email}
	require.NoError(t, f.db.Create(&user).Error)
	return user
}
