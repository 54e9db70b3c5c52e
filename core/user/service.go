package user

import (
	"context"
	"errors"

	"github.com/trezcool/mahudhurio/core"
)

var ErrNotFound = errors.New("user not found")

type (
	// Repository reads the user directory. User lifecycle (registration,
	// credentials, bulk roster upload) is owned by the identity service;
	// CreateUser exists for seeding and tests only.
	Repository interface {
		CreateUser(ctx context.Context, usr User, exec ...core.DBExecutor) (User, error)
		GetUserByID(ctx context.Context, id string, exec ...core.DBExecutor) (User, error)
		GetUserByUsername(ctx context.Context, username string, exec ...core.DBExecutor) (User, error)
		FilterUsers(ctx context.Context, filter *QueryFilter, exec ...core.DBExecutor) ([]User, error)
	}

	Service interface {
		GetByID(ctx context.Context, id string) (User, error)
		GetByUsername(ctx context.Context, uname string) (User, error)
		Filter(ctx context.Context, filter *QueryFilter) ([]User, error)
	}

	service struct {
		repo Repository
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository) *service {
	return &service{repo: repo}
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *service) GetByUsername(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsername(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) Filter(ctx context.Context, filter *QueryFilter) ([]User, error) {
	return svc.repo.FilterUsers(ctx, filter)
}
