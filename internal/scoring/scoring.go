// Package scoring grades a single answer against a stored question.
//
// Question types form a closed set. Each type is its own Item variant and
// Score / Validate dispatch with an exhaustive type switch, so a new type
// has to be handled everywhere before it compiles into a useful state.
package scoring

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"quiz_engine_backend/internal/model"
)

var ErrUnknownType = errors.New("unknown question type")

// Item is implemented only by the variants in this package.
type Item interface {
	QuestionID() string
	MaxPoints() float64
	Type() model.QuestionType
	sealed()
}

type base struct {
	ID     string
	Points float64
}

func (b base) QuestionID() string { return b.ID }
func (b base) MaxPoints() float64 { return b.Points }
func (base) sealed()              {}

// SingleChoice 单选：恰好一个正确选项
type SingleChoice struct {
	base
	Correct string
	Options map[string]bool
}

func (SingleChoice) Type() model.QuestionType { return model.QuestionSingleChoice }

// MultipleChoice 多选：全对才得分
type MultipleChoice struct {
	base
	Correct map[string]bool
	Options map[string]bool
}

func (MultipleChoice) Type() model.QuestionType { return model.QuestionMultipleChoice }

// TrueFalse compares option text, not ids, since learners submit the chosen label.
// The second option by sort_order is the negative one whatever its label
// ("False", "Falso", "No"); a justification is asked for when it is picked.
type TrueFalse struct {
	base
	CorrectText          string
	NegativeText         string
	RequireJustification bool
	Options              map[string]string // option id -> text
}

func (TrueFalse) Type() model.QuestionType { return model.QuestionTrueFalse }

// Text 主观题，永远进入人工评分
type Text struct {
	base
}

func (Text) Type() model.QuestionType { return model.QuestionText }

// FromQuestion builds the variant for a stored question.
func FromQuestion(q *model.QuizQuestion) (Item, error) {
	b := base{ID: q.ID, Points: q.Points}
	switch q.QuestionType {
	case model.QuestionSingleChoice:
		item := SingleChoice{base: b, Options: make(map[string]bool, len(q.Options))}
		for _, o := range q.Options {
			item.Options[o.ID] = true
			if o.IsCorrect {
				item.Correct = o.ID
			}
		}
		return item, nil
	case model.QuestionMultipleChoice:
		item := MultipleChoice{base: b, Correct: map[string]bool{}, Options: make(map[string]bool, len(q.Options))}
		for _, o := range q.Options {
			item.Options[o.ID] = true
			if o.IsCorrect {
				item.Correct[o.ID] = true
			}
		}
		return item, nil
	case model.QuestionTrueFalse:
		item := TrueFalse{base: b, RequireJustification: q.RequireJustification, Options: make(map[string]string, len(q.Options))}
		for _, o := range q.Options {
			item.Options[o.ID] = o.Text
			if o.IsCorrect {
				item.CorrectText = o.Text
			}
		}
		if ordered := byOrder(q.Options); len(ordered) > 1 {
			item.NegativeText = ordered[1].Text
		}
		return item, nil
	case model.QuestionText:
		return Text{base: b}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, q.QuestionType)
}

// Outcome is the auto-grading result of one answer.
type Outcome struct {
	QuestionID  string
	Type        model.QuestionType
	MaxPoints   float64
	Points      float64
	Correct     *bool // nil when correctness is left to an instructor
	NeedsManual bool
}

// Score grades a single answer. It never fails: malformed answers score zero,
// shape checks belong to Validate.
func Score(item Item, a model.Answer) Outcome {
	out := Outcome{QuestionID: item.QuestionID(), Type: item.Type(), MaxPoints: item.MaxPoints()}

	switch it := item.(type) {
	case SingleChoice:
		ok := len(a.OptionIDs) == 1 && a.OptionIDs[0] == it.Correct && it.Correct != ""
		out.mark(ok)
	case MultipleChoice:
		out.mark(len(it.Correct) > 0 && sameSet(a.OptionIDs, it.Correct))
	case TrueFalse:
		chosen := it.chosenText(a)
		ok := chosen != "" && normalize(chosen) == normalize(it.CorrectText)
		out.mark(ok)
		// 附带理由或缺少理由都交给人工复核，分数不变
		if it.RequireJustification && (strings.TrimSpace(a.Justification) != "" || it.pickedNegative(a)) {
			out.NeedsManual = true
		}
	case Text:
		out.NeedsManual = true
	default:
		panic(fmt.Sprintf("scoring: unhandled item %T", item))
	}
	return out
}

func (o *Outcome) mark(ok bool) {
	o.Correct = &ok
	if ok {
		o.Points = o.MaxPoints
	}
}

// Validate checks that the answer has the shape its question expects.
// An empty answer is valid here; completeness is the caller's concern.
func Validate(item Item, a model.Answer) error {
	switch it := item.(type) {
	case SingleChoice:
		if len(a.OptionIDs) > 1 {
			return errors.New("single choice accepts one option")
		}
		return knownOptions(a.OptionIDs, it.Options)
	case MultipleChoice:
		return knownOptions(a.OptionIDs, it.Options)
	case TrueFalse:
		if len(a.OptionIDs) > 1 {
			return errors.New("true/false accepts one option")
		}
		if a.Choice == "" && len(a.OptionIDs) == 1 {
			if _, ok := it.Options[a.OptionIDs[0]]; !ok {
				return fmt.Errorf("unknown option %s", a.OptionIDs[0])
			}
			return nil
		}
		if a.Choice != "" && !it.hasText(a.Choice) {
			return fmt.Errorf("choice %q is not an option", a.Choice)
		}
		return nil
	case Text:
		if len(a.OptionIDs) > 0 {
			return errors.New("text question takes no options")
		}
		return nil
	}
	return fmt.Errorf("%w: %T", ErrUnknownType, item)
}

// NeedsJustification reports whether a manual submit must carry a justification:
// the question asks for one and the learner picked the negative option.
func NeedsJustification(item Item, a model.Answer) bool {
	tf, ok := item.(TrueFalse)
	if !ok || !tf.RequireJustification {
		return false
	}
	return tf.pickedNegative(a) && strings.TrimSpace(a.Justification) == ""
}

// Totals 汇总一次作答
type Totals struct {
	AutoScore   float64
	MaxScore    float64
	NeedsManual bool
}

func Aggregate(outcomes []Outcome) Totals {
	var t Totals
	for _, o := range outcomes {
		t.MaxScore += o.MaxPoints
		t.AutoScore += o.Points
		if o.NeedsManual {
			t.NeedsManual = true
		}
	}
	return t
}

func (tf TrueFalse) chosenText(a model.Answer) string {
	if strings.TrimSpace(a.Choice) != "" {
		return a.Choice
	}
	if len(a.OptionIDs) == 1 {
		return tf.Options[a.OptionIDs[0]]
	}
	return ""
}

func (tf TrueFalse) pickedNegative(a model.Answer) bool {
	chosen := normalize(tf.chosenText(a))
	return chosen != "" && chosen == normalize(tf.NegativeText)
}

func (tf TrueFalse) hasText(s string) bool {
	for _, t := range tf.Options {
		if normalize(t) == normalize(s) {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// byOrder keeps the loaded order for equal sort_order values.
func byOrder(opts []model.QuizOption) []model.QuizOption {
	out := append([]model.QuizOption(nil), opts...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

func sameSet(selected []string, want map[string]bool) bool {
	seen := make(map[string]bool, len(selected))
	for _, id := range selected {
		if !want[id] {
			return false
		}
		seen[id] = true
	}
	return len(seen) == len(want)
}

func knownOptions(ids []string, options map[string]bool) error {
	for _, id := range ids {
		if !options[id] {
			return fmt.Errorf("unknown option %s", id)
		}
	}
	return nil
}
