package psychtest

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/clinicsuite/clinic/internal/platform/apperr"
)

// Frequency answers of the initial assessment, weighted 0 to 4.
var frequencyScale = []string{"Never", "Rarely", "Sometimes", "Often", "Always"}

type Subscale string

const (
	SubscaleAnxiousExperiences    Subscale = "anxious_experiences"
	SubscaleAnxiousThoughts       Subscale = "anxious_thoughts"
	SubscalePsychosomaticSymptoms Subscale = "psychosomatic_symptoms"
)

var subscaleOrder = []Subscale{SubscaleAnxiousExperiences, SubscaleAnxiousThoughts, SubscalePsychosomaticSymptoms}

// FormQuestion is a question of the initial assessment form. Scored
// questions belong to a subscale and take a frequency answer.
type FormQuestion struct {
	Key      string   `json:"key"`
	Text     string   `json:"text"`
	Type     string   `json:"type"`
	Subscale Subscale `json:"subscale,omitempty"`
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required"`
}

func (q FormQuestion) scored() bool { return q.Subscale != "" }

type Form struct {
	Title     string         `json:"title"`
	Questions []FormQuestion `json:"questions"`
}

func frequency(key string, sub Subscale, text string) FormQuestion {
	return FormQuestion{Key: key, Text: text, Type: "FREQUENCY", Subscale: sub, Options: frequencyScale, Required: true}
}

var initialForm = Form{
	Title: "Initial assessment",
	Questions: []FormQuestion{
		frequency("ae1", SubscaleAnxiousExperiences, "I feel tense or on edge."),
		frequency("ae2", SubscaleAnxiousExperiences, "I feel sudden waves of fear."),
		frequency("ae3", SubscaleAnxiousExperiences, "I avoid places or situations because they make me anxious."),
		frequency("ae4", SubscaleAnxiousExperiences, "I feel restless and unable to relax."),
		frequency("ae5", SubscaleAnxiousExperiences, "I feel that something bad is about to happen."),
		frequency("at1", SubscaleAnxiousThoughts, "I worry about many different things."),
		frequency("at2", SubscaleAnxiousThoughts, "I find it hard to stop worrying."),
		frequency("at3", SubscaleAnxiousThoughts, "I imagine the worst possible outcome."),
		frequency("at4", SubscaleAnxiousThoughts, "Thoughts keep me from falling asleep."),
		frequency("at5", SubscaleAnxiousThoughts, "I find it hard to concentrate because of my thoughts."),
		frequency("ps1", SubscalePsychosomaticSymptoms, "My heart races or pounds."),
		frequency("ps2", SubscalePsychosomaticSymptoms, "I have trouble breathing or feel short of breath."),
		frequency("ps3", SubscalePsychosomaticSymptoms, "I have headaches or muscle tension."),
		frequency("ps4", SubscalePsychosomaticSymptoms, "I have stomach problems or nausea."),
		frequency("ps5", SubscalePsychosomaticSymptoms, "I feel dizzy or light-headed."),
		{Key: "main_concern", Text: "What brings you to the clinic?", Type: "TEXT"},
		{Key: "previous_treatment", Text: "Have you been in treatment before? Please describe.", Type: "TEXT"},
	},
}

// InitialForm returns the initial assessment questionnaire.
func InitialForm() Form {
	f := initialForm
	f.Questions = append([]FormQuestion(nil), initialForm.Questions...)
	return f
}

type Interpretation string

const (
	InterpretationLow      Interpretation = "Low"
	InterpretationModerate Interpretation = "Moderate"
	InterpretationHigh     Interpretation = "High"
	InterpretationVeryHigh Interpretation = "Very High"
)

// Interpret bands score against maxScore: below a quarter is Low, below half
// Moderate, below three quarters High, otherwise Very High. Scores outside
// [0, maxScore] are clamped and a non-positive maximum is Low.
func Interpret(score, maxScore int) Interpretation {
	if maxScore <= 0 {
		return InterpretationLow
	}
	score = lo.Clamp(score, 0, maxScore)
	switch {
	case 4*score < maxScore:
		return InterpretationLow
	case 2*score < maxScore:
		return InterpretationModerate
	case 4*score < 3*maxScore:
		return InterpretationHigh
	default:
		return InterpretationVeryHigh
	}
}

type SubscaleScore struct {
	Name           Subscale       `json:"name"`
	Score          int            `json:"score"`
	MaxScore       int            `json:"max_score"`
	Interpretation Interpretation `json:"interpretation"`
}

type Assessment struct {
	ID             uuid.UUID         `json:"id"`
	PatientID      uuid.UUID         `json:"patient_id"`
	Responses      map[string]string `json:"responses"`
	Subscales      []SubscaleScore   `json:"subscales"`
	TotalScore     int               `json:"total_score"`
	MaxScore       int               `json:"max_score"`
	Interpretation Interpretation    `json:"interpretation"`
	SubmittedAt    time.Time         `json:"submitted_at"`
}

// Score validates the answers against form and aggregates them into
// subscales. Every scored question needs a frequency answer; text questions
// are optional and kept verbatim.
func Score(form Form, responses map[string]string) (subscales []SubscaleScore, total, maxScore int, err error) {
	known := lo.SliceToMap(form.Questions, func(q FormQuestion) (string, FormQuestion) { return q.Key, q })
	for key := range responses {
		if _, ok := known[key]; !ok {
			return nil, 0, 0, apperr.Validation("unknown question key %q", key)
		}
	}

	var missing []string
	byName := make(map[Subscale]*SubscaleScore)
	for _, q := range form.Questions {
		ans := strings.TrimSpace(responses[q.Key])
		if !q.scored() {
			if q.Required && ans == "" {
				missing = append(missing, q.Key)
			}
			continue
		}
		if ans == "" {
			missing = append(missing, q.Key)
			continue
		}
		weight := lo.IndexOf(q.Options, ans)
		if weight < 0 {
			return nil, 0, 0, apperr.Validation("question %s: answer must be one of %s", q.Key, strings.Join(q.Options, ", "))
		}
		s, ok := byName[q.Subscale]
		if !ok {
			s = &SubscaleScore{Name: q.Subscale}
			byName[q.Subscale] = s
		}
		s.Score += weight
		s.MaxScore += len(q.Options) - 1
	}
	if len(missing) > 0 {
		return nil, 0, 0, apperr.Validation("missing answers for required questions: %s", strings.Join(missing, ", "))
	}

	for _, name := range subscaleOrder {
		s, ok := byName[name]
		if !ok {
			continue
		}
		s.Interpretation = Interpret(s.Score, s.MaxScore)
		subscales = append(subscales, *s)
		total += s.Score
		maxScore += s.MaxScore
	}
	return subscales, total, maxScore, nil
}
