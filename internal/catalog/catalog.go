// Package catalog loads studies, task definitions and subjects from a YAML
// document. It is the ingestion boundary: text forms (cycle tags, operand
// symbols, ";"-joined values) are parsed here and never past it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"taskcycle/internal/model"
)

type Document struct {
	Studies     []StudyDoc      `yaml:"studies"`
	Definitions []DefinitionDoc `yaml:"definitions"`
	Subjects    []SubjectDoc    `yaml:"subjects"`
}

type StudyDoc struct {
	ID       string `yaml:"id"`
	Timezone string `yaml:"timezone"`
	NotifyAt string `yaml:"notify_at"`
}

type DefinitionDoc struct {
	ID        string    `yaml:"id"`
	Study     string    `yaml:"study"`
	CreatedAt time.Time `yaml:"created_at"`

	Cycle     string `yaml:"cycle"`
	Amount    string `yaml:"amount"`
	PerDay    int    `yaml:"per_day"`
	FirstHour int    `yaml:"first_hour"`

	ActivateAfterDays   int `yaml:"activate_after_days"`
	DeactivateAfterDays int `yaml:"deactivate_after_days"`
	ExpireAfterDays     int `yaml:"expire_after_days"`
	FinalizeAfterDays   int `yaml:"finalize_after_days"`

	Audience  string        `yaml:"audience"`
	FixedDate string        `yaml:"fixed_date"`
	Weekday   string        `yaml:"weekday"`
	SortOrder int           `yaml:"sort_order"`
	Condition *ConditionDoc `yaml:"condition"`
}

type ConditionDoc struct {
	Question   string `yaml:"question"`
	Option     string `yaml:"option"`
	Operand    string `yaml:"operand"`
	Combinator string `yaml:"combinator"`
	// Values are ";"-joined, as entered in the study designer.
	Values string `yaml:"values"`
}

type SubjectDoc struct {
	ID       string     `yaml:"id"`
	Study    string     `yaml:"study"`
	Team     string     `yaml:"team"`
	AnchorAt *time.Time `yaml:"anchor_at"`
}

// Defaults fill in study settings a document leaves out.
type Defaults struct {
	Location *time.Location
	NotifyAt time.Duration
}

// Catalog is a decoded, validated document.
type Catalog struct {
	Studies     []model.Study
	Definitions []model.TaskDefinition
	Subjects    []model.Subject
}

// Writer is the subset of storage Apply needs.
type Writer interface {
	PutStudy(ctx context.Context, s model.Study) error
	PutDefinition(ctx context.Context, d model.TaskDefinition) error
	PutSubject(ctx context.Context, s model.Subject) error
}

// Decode reads one YAML document. Unknown keys are errors. Every broken
// entry is reported, not just the first.
func Decode(r io.Reader, def Defaults) (Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("catalog: %w", err)
	}
	return doc.Convert(def)
}

func (doc Document) Convert(def Defaults) (Catalog, error) {
	var (
		out  Catalog
		errs []error
	)
	locs := map[string]*time.Location{}
	for _, sd := range doc.Studies {
		st, err := sd.convert(def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		locs[st.ID] = st.Loc()
		out.Studies = append(out.Studies, st)
	}
	for _, dd := range doc.Definitions {
		loc, ok := locs[dd.Study]
		if !ok {
			loc = def.Location
		}
		d, err := dd.convert(loc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out.Definitions = append(out.Definitions, d)
	}
	for _, sd := range doc.Subjects {
		if strings.TrimSpace(sd.ID) == "" || strings.TrimSpace(sd.Study) == "" {
			errs = append(errs, fmt.Errorf("subject %q: id and study are required", sd.ID))
			continue
		}
		out.Subjects = append(out.Subjects, model.Subject{ID: sd.ID, StudyID: sd.Study, TeamID: sd.Team, AnchorAt: sd.AnchorAt})
	}
	if err := errors.Join(errs...); err != nil {
		return Catalog{}, err
	}
	return out, nil
}

// Apply writes studies first so definitions and subjects can reference them.
func (c Catalog) Apply(ctx context.Context, w Writer) error {
	for _, s := range c.Studies {
		if err := w.PutStudy(ctx, s); err != nil {
			return fmt.Errorf("study %s: %w", s.ID, err)
		}
	}
	for _, d := range c.Definitions {
		if err := w.PutDefinition(ctx, d); err != nil {
			return fmt.Errorf("definition %s: %w", d.ID, err)
		}
	}
	for _, s := range c.Subjects {
		if err := w.PutSubject(ctx, s); err != nil {
			return fmt.Errorf("subject %s: %w", s.ID, err)
		}
	}
	return nil
}

func (sd StudyDoc) convert(def Defaults) (model.Study, error) {
	if strings.TrimSpace(sd.ID) == "" {
		return model.Study{}, errors.New("study: id is required")
	}
	st := model.Study{ID: sd.ID, Location: def.Location, NotifyAt: def.NotifyAt}
	if tz := strings.TrimSpace(sd.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return model.Study{}, fmt.Errorf("study %s: timezone %q: %w", sd.ID, tz, err)
		}
		st.Location = loc
	}
	if at := strings.TrimSpace(sd.NotifyAt); at != "" {
		d, err := parseClock(at)
		if err != nil {
			return model.Study{}, fmt.Errorf("study %s: %w", sd.ID, err)
		}
		st.NotifyAt = d
	}
	return st, nil
}

func (dd DefinitionDoc) convert(loc *time.Location) (model.TaskDefinition, error) {
	fail := func(format string, args ...any) (model.TaskDefinition, error) {
		return model.TaskDefinition{}, fmt.Errorf("%w: %s: %s", model.ErrInvalidDefinition, dd.ID, fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(dd.ID) == "" || strings.TrimSpace(dd.Study) == "" {
		return fail("id and study are required")
	}
	unit, err := model.ParseCycleUnit(dd.Cycle)
	if err != nil {
		return model.TaskDefinition{}, fmt.Errorf("%s: %w", dd.ID, err)
	}
	aud, err := model.ParseAudience(dd.Audience)
	if err != nil {
		return model.TaskDefinition{}, fmt.Errorf("%s: %w", dd.ID, err)
	}

	d := model.TaskDefinition{
		ID:                  dd.ID,
		StudyID:             dd.Study,
		CreatedAt:           dd.CreatedAt,
		Cycle:               model.Cycle{Unit: unit, PerDay: dd.PerDay, FirstHour: dd.FirstHour},
		ActivateAfterDays:   dd.ActivateAfterDays,
		DeactivateAfterDays: dd.DeactivateAfterDays,
		ExpireAfterDays:     dd.ExpireAfterDays,
		FinalizeAfterDays:   dd.FinalizeAfterDays,
		Audience:            aud,
		SortOrder:           dd.SortOrder,
	}
	if d.CreatedAt.IsZero() {
		return fail("created_at is required")
	}

	amount := strings.TrimSpace(dd.Amount)
	switch {
	case amount != "":
		n, err := strconv.Atoi(amount)
		if err != nil {
			return fail("cycle amount %q is not a number", dd.Amount)
		}
		d.Cycle.Amount = n
	case unit.Recurring():
		return fail("%s cycle without an amount", unit)
	}

	if fd := strings.TrimSpace(dd.FixedDate); fd != "" {
		if loc == nil {
			loc = time.UTC
		}
		t, err := time.ParseInLocation("2006-01-02", fd, loc)
		if err != nil {
			return fail("fixed_date %q: expected YYYY-MM-DD", dd.FixedDate)
		}
		d.FixedDate = t
	}
	if wd := strings.TrimSpace(dd.Weekday); wd != "" {
		w, ok := parseWeekday(wd)
		if !ok {
			return fail("unknown weekday %q", dd.Weekday)
		}
		d.Weekday = &w
	}
	if c := dd.Condition; c != nil {
		rule, err := c.convert()
		if err != nil {
			return model.TaskDefinition{}, fmt.Errorf("%s: %w", dd.ID, err)
		}
		d.Condition = &rule
	}
	if err := d.Validate(); err != nil {
		return model.TaskDefinition{}, err
	}
	return d, nil
}

func (cd ConditionDoc) convert() (model.ConditionRule, error) {
	op, err := model.ParseOperand(cd.Operand)
	if err != nil {
		return model.ConditionRule{}, err
	}
	comb, err := model.ParseCombinator(cd.Combinator)
	if err != nil {
		return model.ConditionRule{}, err
	}
	if strings.TrimSpace(cd.Question) == "" {
		return model.ConditionRule{}, fmt.Errorf("%w: source question is required", model.ErrInvalidRule)
	}
	return model.ConditionRule{
		Source:     model.QuestionRef{QuestionID: cd.Question, OptionID: cd.Option},
		Operand:    op,
		Combinator: comb,
		Values:     model.SplitValues(cd.Values, model.ValueSeparator),
	}, nil
}

func parseWeekday(s string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := d.String()
		if strings.EqualFold(s, name) || strings.EqualFold(s, name[:3]) {
			return d, true
		}
	}
	return 0, false
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("notify_at %q: expected HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
