package psychtest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/clinicsuite/clinic/internal/platform/apperr"
)

// QuestionKey is the response key of the question at index i.
func QuestionKey(i int) string { return strconv.Itoa(i) }

// ValidateQuestions checks a question set before it is stored as a version.
func ValidateQuestions(questions []Question) error {
	if len(questions) == 0 {
		return apperr.Validation("a test needs at least one question")
	}
	for i, q := range questions {
		if strings.TrimSpace(q.Text) == "" {
			return apperr.Validation("question %d: text is required", i)
		}
		if !q.Type.Valid() {
			return apperr.Validation("question %d: type must be %s, %s or %s", i, QuestionText, QuestionMultipleChoice, QuestionScale)
		}
		switch q.Type {
		case QuestionMultipleChoice:
			opts := lo.Map(q.Options, func(o string, _ int) string { return strings.TrimSpace(o) })
			if len(opts) < 2 || lo.Contains(opts, "") {
				return apperr.Validation("question %d: multiple choice needs at least two non-empty options", i)
			}
			if len(lo.Uniq(opts)) != len(opts) {
				return apperr.Validation("question %d: options must be unique", i)
			}
		case QuestionScale:
			if minV, maxV := q.Bounds(); minV >= maxV {
				return apperr.Validation("question %d: minValue must be below maxValue", i)
			}
		}
		if q.Type != QuestionMultipleChoice && len(q.Options) > 0 {
			return apperr.Validation("question %d: options are only allowed for %s", i, QuestionMultipleChoice)
		}
		if q.Type != QuestionScale && (q.MinValue != nil || q.MaxValue != nil) {
			return apperr.Validation("question %d: minValue/maxValue are only allowed for %s", i, QuestionScale)
		}
	}
	return nil
}

func blank(v interface{}) bool {
	switch a := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(a) == ""
	}
	return false
}

// ValidateResponses checks a submission against the question set. Required
// questions without an answer are reported together by index.
func ValidateResponses(questions []Question, responses Responses) error {
	for key := range responses {
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(questions) {
			return apperr.Validation("unknown question key %q", key)
		}
	}

	var missing []int
	var problems []string
	for i, q := range questions {
		ans, ok := responses[QuestionKey(i)]
		if !ok || blank(ans) {
			if q.Required {
				missing = append(missing, i)
			}
			continue
		}
		if err := checkAnswer(q, ans); err != nil {
			problems = append(problems, fmt.Sprintf("question %d: %s", i, err))
		}
	}

	if len(missing) > 0 {
		sort.Ints(missing)
		idx := lo.Map(missing, func(i int, _ int) string { return strconv.Itoa(i) })
		return apperr.Validation("missing answers for required questions: %s", strings.Join(idx, ", "))
	}
	if len(problems) > 0 {
		return apperr.Validation("%s", strings.Join(problems, "; "))
	}
	return nil
}

func checkAnswer(q Question, ans interface{}) error {
	switch q.Type {
	case QuestionText:
		if _, ok := ans.(string); !ok {
			return errors.New("answer must be text")
		}
	case QuestionMultipleChoice:
		s, ok := ans.(string)
		if !ok || !lo.Contains(q.Options, s) {
			return fmt.Errorf("answer must be one of %s", strings.Join(q.Options, ", "))
		}
	case QuestionScale:
		n, ok := scaleValue(ans)
		minV, maxV := q.Bounds()
		if !ok {
			return fmt.Errorf("answer must be a whole number between %d and %d", minV, maxV)
		}
		if n < minV || n > maxV {
			return fmt.Errorf("answer %d is outside %d..%d", n, minV, maxV)
		}
	}
	return nil
}

// scaleValue accepts JSON numbers and numeric strings holding an integer.
func scaleValue(v interface{}) (int, bool) {
	switch a := v.(type) {
	case float64:
		if a != math.Trunc(a) || math.IsInf(a, 0) {
			return 0, false
		}
		return int(a), true
	case int:
		return a, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(a))
		return n, err == nil
	}
	return 0, false
}
