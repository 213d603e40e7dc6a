// Package workflow creates task instances: bulk generation when a subject
// becomes active, single conditional instances once a branching rule is met,
// and the next instance of a recurring definition.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskcycle/internal/model"
	"taskcycle/internal/storage"
	"taskcycle/internal/task/condition"
	"taskcycle/internal/task/recurrence"
	logx "taskcycle/pkg/logx"
)

type Service struct {
	store storage.Store
	calc  *recurrence.Calculator
	log   logx.Logger
	now   func() time.Time
	newID func() string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDs replaces the uuid generator; tests use it for stable ids.
func WithIDs(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func New(store storage.Store, calc *recurrence.Calculator, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store: store,
		calc:  calc,
		log:   log.With(logx.String("comp", "workflow")),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	if s.calc == nil {
		s.calc = recurrence.New(s.log, s.now)
	}
	return s
}

type subjectContext struct {
	subject model.Subject
	study   model.Study
	defs    []model.TaskDefinition
}

func (s *Service) load(ctx context.Context, subjectID string) (subjectContext, error) {
	subj, err := s.store.Subject(ctx, subjectID)
	if err != nil {
		return subjectContext{}, fmt.Errorf("subject %s: %w", subjectID, err)
	}
	study, err := s.store.Study(ctx, subj.StudyID)
	if err != nil {
		return subjectContext{}, fmt.Errorf("study %s: %w", subj.StudyID, err)
	}
	defs, err := s.store.Definitions(ctx, study.ID)
	if err != nil {
		return subjectContext{}, fmt.Errorf("definitions of %s: %w", study.ID, err)
	}
	return subjectContext{subject: subj, study: study, defs: defs}, nil
}

// GenerateForSubject creates the dormant instances of every unconditional
// definition in the subject's study. Re-running it is harmless: instances
// already present for a (definition, subject, cycle) are kept.
func (s *Service) GenerateForSubject(ctx context.Context, subjectID string, onlyAnchorDependent bool) (int, error) {
	sc, err := s.load(ctx, subjectID)
	if err != nil {
		return 0, err
	}

	var batch []model.TaskInstance
	for _, def := range sc.defs {
		if def.Condition != nil {
			continue
		}
		plan, err := s.calc.Plan(recurrence.Input{
			Definition:          def,
			Subject:             sc.subject,
			Study:               sc.study,
			OnlyAnchorDependent: onlyAnchorDependent,
		})
		if err != nil {
			return 0, err
		}
		for _, due := range plan {
			batch = append(batch, s.instance(def, sc.subject, due))
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}

	var inserted int
	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		inserted, err = tx.InsertInstances(ctx, batch)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("generate for %s: %w", subjectID, err)
	}
	s.log.Info("instances generated",
		logx.String("subject", subjectID),
		logx.Int("planned", len(batch)),
		logx.Int("inserted", inserted),
	)
	return inserted, nil
}

// ActivateSubject records the subject's first qualifying activity and
// generates its anchor-dependent instances. Later calls keep the original
// anchor.
func (s *Service) ActivateSubject(ctx context.Context, subjectID string, at time.Time) (int, error) {
	var set bool
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		set, err = tx.SetSubjectAnchor(ctx, subjectID, at)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("activate %s: %w", subjectID, err)
	}
	if set {
		s.log.Info("subject anchored", logx.String("subject", subjectID), logx.Time("at", at))
	}
	return s.GenerateForSubject(ctx, subjectID, true)
}

// EvaluateConditions creates the single instance of every conditional
// definition whose rule the subject's latest answers satisfy. Definitions
// that already have an instance for the subject are skipped. A broken rule
// fails only its own definition.
func (s *Service) EvaluateConditions(ctx context.Context, subjectID string) (int, error) {
	sc, err := s.load(ctx, subjectID)
	if err != nil {
		return 0, err
	}

	var (
		batch []model.TaskInstance
		errs  []error
	)
	for _, def := range sc.defs {
		if def.Condition == nil {
			continue
		}
		existing, err := s.store.Instances(ctx, storage.InstanceFilter{SubjectID: subjectID, DefinitionID: def.ID})
		if err != nil {
			return 0, err
		}
		if len(existing) > 0 {
			continue
		}

		answers, found, err := s.store.LatestAnswers(ctx, subjectID, def.Condition.Source)
		if err != nil {
			return 0, err
		}
		if !found {
			continue
		}
		ok, err := condition.Satisfied(answers, *def.Condition)
		if err != nil {
			s.log.Warn("condition not evaluable", logx.String("definition", def.ID), logx.Err(err))
			errs = append(errs, fmt.Errorf("definition %s: %w", def.ID, err))
			continue
		}
		if !ok {
			continue
		}

		plan, err := s.calc.Plan(recurrence.Input{
			Definition:        def,
			Subject:           sc.subject,
			Study:             sc.study,
			InternalCondition: true,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, due := range plan {
			batch = append(batch, s.instance(def, sc.subject, due))
		}
	}

	var inserted int
	if len(batch) > 0 {
		err = s.store.WithTx(ctx, func(tx storage.Tx) error {
			inserted, err = tx.InsertInstances(ctx, batch)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("conditional instances for %s: %w", subjectID, err)
		}
		s.log.Info("conditional instances created", logx.String("subject", subjectID), logx.Int("inserted", inserted))
	}
	return inserted, errors.Join(errs...)
}

// ScheduleNext creates the instance following instanceID in its
// definition's cycle. created is false when the cycle has run past its
// deactivation window or the next instance already exists.
func (s *Service) ScheduleNext(ctx context.Context, instanceID string) (next model.TaskInstance, created bool, err error) {
	prior, err := s.store.Instance(ctx, instanceID)
	if err != nil {
		return model.TaskInstance{}, false, fmt.Errorf("instance %s: %w", instanceID, err)
	}
	def, err := s.store.Definition(ctx, prior.DefinitionID)
	if err != nil {
		return model.TaskInstance{}, false, fmt.Errorf("definition %s: %w", prior.DefinitionID, err)
	}
	sc, err := s.load(ctx, prior.SubjectID)
	if err != nil {
		return model.TaskInstance{}, false, err
	}

	due, ok, err := s.calc.Next(recurrence.Input{
		Definition:        def,
		Subject:           sc.subject,
		Study:             sc.study,
		InternalCondition: def.Condition != nil,
	}, prior)
	if err != nil {
		return model.TaskInstance{}, false, err
	}
	if !ok {
		return model.TaskInstance{}, false, nil
	}

	next = s.instance(def, sc.subject, due)
	var n int
	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		n, err = tx.InsertInstances(ctx, []model.TaskInstance{next})
		return err
	})
	if err != nil {
		return model.TaskInstance{}, false, fmt.Errorf("schedule next of %s: %w", instanceID, err)
	}
	return next, n > 0, nil
}

// Plan previews the dates definitionID would get for subjectID. Nothing is
// written.
func (s *Service) Plan(ctx context.Context, subjectID, definitionID string) ([]recurrence.Due, error) {
	sc, err := s.load(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	for _, def := range sc.defs {
		if def.ID != definitionID {
			continue
		}
		return s.calc.Plan(recurrence.Input{
			Definition:        def,
			Subject:           sc.subject,
			Study:             sc.study,
			InternalCondition: def.Condition != nil,
		})
	}
	return nil, fmt.Errorf("definition %s in study %s: %w", definitionID, sc.study.ID, storage.ErrNotFound)
}

func (s *Service) instance(def model.TaskDefinition, subj model.Subject, due recurrence.Due) model.TaskInstance {
	return model.TaskInstance{
		ID:           s.newID(),
		DefinitionID: def.ID,
		SubjectID:    subj.ID,
		StudyID:      def.StudyID,
		CycleIndex:   due.Index,
		IssuedAt:     due.At,
		Status:       model.StatusDormant,
		SortOrder:    def.SortOrder,
	}
}
