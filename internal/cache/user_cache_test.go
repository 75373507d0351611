package cache

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"authorization-service/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) GetUsersByRole(ctx context.Context, roles []models.Role) ([]models.User, error) {
	args := m.Called(ctx, roles)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

func (m *MockDirectory) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestRoleKeyIsOrderIndependent(t *testing.T) {
	a := roleKey([]models.Role{models.RoleSupervisor, models.RoleAdmin})
	b := roleKey([]models.Role{models.RoleAdmin, models.RoleSupervisor})
	assert.Equal(t, a, b)
	assert.Equal(t, "authz:users:role:admin,supervisor", a)
}

func TestUserCache_WithoutRedisPassesThrough(t *testing.T) {
	next := new(MockDirectory)
	user := models.User{ID: uuid.New(), Roles: []models.Role{models.RoleEjecutivo}, IsActive: true}
	roles := []models.Role{models.RoleEjecutivo}
	next.On("GetUsersByRole", mock.Anything, roles).Return([]models.User{user}, nil).Twice()
	next.On("GetUser", mock.Anything, user.ID).Return(&user, nil).Once()
	next.On("GetUser", mock.Anything, mock.Anything).Return(nil, errors.New("not found"))

	c := NewUserCache(Connect("", quietLogger()), next, time.Minute, quietLogger())

	for i := 0; i < 2; i++ {
		users, err := c.GetUsersByRole(context.Background(), roles)
		require.NoError(t, err)
		assert.Len(t, users, 1)
	}

	got, err := c.GetUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = c.GetUser(context.Background(), uuid.New())
	assert.Error(t, err)

	assert.NoError(t, c.Invalidate(context.Background()))
	assert.NoError(t, c.Close())
	next.AssertExpectations(t)
}

func TestConnect_InvalidURL(t *testing.T) {
	assert.Nil(t, Connect("not a url", quietLogger()))
}
