package repository

import (
	"quiz_engine_backend/internal/model"

	"gorm.io/gorm"
)

type QuizRepository struct {
	DB *gorm.DB
}

func NewQuizRepository(db *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: db}
}

// WithTx returns a repository bound to tx.
func (r *QuizRepository) WithTx(tx *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: tx}
}

func orderedQuestions(db *gorm.DB) *gorm.DB {
	return db.Order("sort_order ASC, id ASC")
}

// Create 同时写入题目与选项
func (r *QuizRepository) Create(quiz *model.Quiz) error {
	return r.DB.Create(quiz).Error
}

func (r *QuizRepository) FindByID(id string) (*model.Quiz, error) {
	var quiz model.Quiz
	err := r.DB.First(&quiz, "id = ?", id).Error
	return &quiz, err
}

// FindWithQuestions loads questions and options in display order.
func (r *QuizRepository) FindWithQuestions(id string) (*model.Quiz, error) {
	var quiz model.Quiz
	err := r.DB.
		Preload("Questions", orderedQuestions).
		Preload("Questions.Options", orderedQuestions).
		First(&quiz, "id = ?", id).Error
	return &quiz, err
}

func (r *QuizRepository) ListByCourse(courseID uint) ([]model.Quiz, error) {
	var quizzes []model.Quiz
	err := r.DB.Where("course_id = ?", courseID).Order("created_at desc").Find(&quizzes).Error
	return quizzes, err
}

// Update 只写入 fields 中的列
func (r *QuizRepository) Update(id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.DB.Model(&model.Quiz{}).Where("id = ?", id).Updates(fields).Error
}

func (r *QuizRepository) Delete(id string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var questionIDs []string
		if err := tx.Model(&model.QuizQuestion{}).Where("quiz_id = ?", id).Pluck("id", &questionIDs).Error; err != nil {
			return err
		}
		if len(questionIDs) > 0 {
			if err := tx.Where("question_id IN ?", questionIDs).Delete(&model.QuizOption{}).Error; err != nil {
				return err
			}
			if err := tx.Where("quiz_id = ?", id).Delete(&model.QuizQuestion{}).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&model.Quiz{}, "id = ?", id).Error
	})
}

func (r *QuizRepository) CreateQuestion(question *model.QuizQuestion) error {
	return r.DB.Create(question).Error
}

func (r *QuizRepository) FindQuestion(quizID, questionID string) (*model.QuizQuestion, error) {
	var q model.QuizQuestion
	err := r.DB.Preload("Options", orderedQuestions).
		Where("quiz_id = ? AND id = ?", quizID, questionID).
		First(&q).Error
	return &q, err
}

// ReplaceQuestion 更新题目字段，并整体替换选项
func (r *QuizRepository) ReplaceQuestion(question *model.QuizQuestion) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("question_id = ?", question.ID).Delete(&model.QuizOption{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.QuizQuestion{}).Where("id = ?", question.ID).
			Select("question_type", "content", "points", "sort_order", "require_justification", "attachment_key", "explanation").
			Updates(question).Error; err != nil {
			return err
		}
		for i := range question.Options {
			question.Options[i].ID = ""
			question.Options[i].QuestionID = question.ID
		}
		if len(question.Options) == 0 {
			return nil
		}
		return tx.Create(&question.Options).Error
	})
}

func (r *QuizRepository) DeleteQuestion(questionID string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("question_id = ?", questionID).Delete(&model.QuizOption{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.QuizQuestion{}, "id = ?", questionID).Error
	})
}

func (r *QuizRepository) CountQuestions(quizID string) (int64, error) {
	var n int64
	err := r.DB.Model(&model.QuizQuestion{}).Where("quiz_id = ?", quizID).Count(&n).Error
	return n, err
}

// FindQuestionsUnscoped 包含已删除的题目与选项，用于回看历史作答
func (r *QuizRepository) FindQuestionsUnscoped(ids []string) ([]model.QuizQuestion, error) {
	var questions []model.QuizQuestion
	if len(ids) == 0 {
		return questions, nil
	}
	err := r.DB.Unscoped().
		Preload("Options", func(db *gorm.DB) *gorm.DB { return orderedQuestions(db.Unscoped()) }).
		Where("id IN ?", ids).
		Order("sort_order ASC, id ASC").
		Find(&questions).Error
	return questions, err
}
