package model

type UserRole string

const (
	Student UserRole = "student"
	Teacher UserRole = "teacher"
	Admin   UserRole = "admin"
)

// CourseEnrollment 课程选课关系，由课程目录维护，本服务只读
type CourseEnrollment struct {
	BaseModel
	CourseID uint `gorm:"not null;uniqueIndex:idx_course_enrollments_course_user" json:"courseId"`
	UserID   uint `gorm:"not null;uniqueIndex:idx_course_enrollments_course_user;index" json:"userId"`
}

func (CourseEnrollment) TableName() string {
	return "course_enrollments"
}

// CourseInstructor 课程授课教师
type CourseInstructor struct {
	BaseModel
	CourseID uint `gorm:"not null;uniqueIndex:idx_course_instructors_course_user" json:"courseId"`
	UserID   uint `gorm:"not null;uniqueIndex:idx_course_instructors_course_user;index" json:"userId"`
}

func (CourseInstructor) TableName() string {
	return "course_instructors"
}
