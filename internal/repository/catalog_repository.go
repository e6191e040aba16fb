package repository

import (
	"quiz_engine_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogRepository 课程目录的本地镜像：选课与授课关系
type CatalogRepository struct {
	DB *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{DB: db}
}

func (r *CatalogRepository) IsEnrolled(courseID, userID uint) (bool, error) {
	var n int64
	err := r.DB.Model(&model.CourseEnrollment{}).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		Count(&n).Error
	return n > 0, err
}

func (r *CatalogRepository) IsInstructor(courseID, userID uint) (bool, error) {
	var n int64
	err := r.DB.Model(&model.CourseInstructor{}).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		Count(&n).Error
	return n > 0, err
}

func (r *CatalogRepository) Enroll(courseID, userID uint) error {
	return r.DB.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.CourseEnrollment{CourseID: courseID, UserID: userID}).Error
}

func (r *CatalogRepository) AssignInstructor(courseID, userID uint) error {
	return r.DB.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.CourseInstructor{CourseID: courseID, UserID: userID}).Error
}
