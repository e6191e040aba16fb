package service

import (
	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/internal/util"
)

// Catalog 课程目录：确认选课与授课关系
type Catalog interface {
	IsEnrolled(courseID, userID uint) (bool, error)
	IsInstructor(courseID, userID uint) (bool, error)
}

// Actor is the identity resolved by the identity provider for one request.
type Actor struct {
	UserID uint
	Role   model.UserRole
}

func ActorFromClaims(claims *util.Claims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{UserID: claims.UserID, Role: claims.Role}
}

func (a Actor) IsAdmin() bool {
	return a.Role == model.Admin
}

// requireInstructor 管理员直接放行
func requireInstructor(catalog Catalog, actor Actor, courseID uint) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role != model.Teacher {
		return util.ErrPermissionDenied
	}
	ok, err := catalog.IsInstructor(courseID, actor.UserID)
	if err != nil {
		return util.Transient(err)
	}
	if !ok {
		return util.ErrPermissionDenied
	}
	return nil
}

func requireEnrolled(catalog Catalog, actor Actor, courseID uint) error {
	if actor.IsAdmin() {
		return nil
	}
	ok, err := catalog.IsEnrolled(courseID, actor.UserID)
	if err != nil {
		return util.Transient(err)
	}
	if !ok {
		return util.ErrNotEnrolled
	}
	return nil
}
