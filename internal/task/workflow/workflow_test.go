package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskcycle/internal/model"
	"taskcycle/internal/storage"
	"taskcycle/internal/task/recurrence"
	logx "taskcycle/pkg/logx"
)

var defCreated = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "wf.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.PutStudy(ctx, model.Study{ID: "study", Location: time.UTC, NotifyAt: 9 * time.Hour}))
	require.NoError(t, st.PutSubject(ctx, model.Subject{ID: "subj", StudyID: "study"}))

	seq := 0
	ids := func() string {
		seq++
		return fmt.Sprintf("i%02d", seq)
	}
	return New(st, recurrence.New(logx.Nop(), nil), logx.Nop(), WithIDs(ids)), st
}

func daily() model.TaskDefinition {
	return model.TaskDefinition{
		ID:                  "daily",
		StudyID:             "study",
		CreatedAt:           defCreated,
		Cycle:               model.Cycle{Unit: model.CycleDay, Amount: 1},
		DeactivateAfterDays: 2,
		ExpireAfterDays:     1,
	}
}

func TestActivateSubjectGeneratesAnchorDependent(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	require.NoError(t, st.PutDefinition(ctx, daily()))
	require.NoError(t, st.PutDefinition(ctx, model.TaskDefinition{
		ID:        "team",
		StudyID:   "study",
		CreatedAt: defCreated,
		Cycle:     model.Cycle{Unit: model.CycleOnce},
		Audience:  model.AudienceTeam,
	}))

	anchor := time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	n, err := svc.ActivateSubject(ctx, "subj", anchor)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	got, err := st.Instances(ctx, storage.InstanceFilter{SubjectID: "subj", DefinitionID: "daily"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, in := range got {
		require.Equal(t, i+1, in.CycleIndex)
		require.Equal(t, model.StatusDormant, in.Status)
		require.True(t, in.IssuedAt.Equal(time.Date(2024, 3, 10+i, 9, 0, 0, 0, time.UTC)), "got %s", in.IssuedAt)
	}

	// A later activity keeps the first anchor and creates nothing new.
	n, err = svc.ActivateSubject(ctx, "subj", anchor.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Zero(t, n)
	subj, err := st.Subject(ctx, "subj")
	require.NoError(t, err)
	require.True(t, subj.AnchorAt.Equal(anchor))

	// Full generation adds only the team instance.
	n, err = svc.GenerateForSubject(ctx, "subj", false)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestGenerateWithoutAnchor(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	require.NoError(t, st.PutDefinition(ctx, daily()))

	n, err := svc.GenerateForSubject(ctx, "subj", false)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = svc.GenerateForSubject(ctx, "missing", false)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEvaluateConditions(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	require.NoError(t, st.PutDefinition(ctx, daily()))
	q := model.QuestionRef{QuestionID: "smoker"}
	require.NoError(t, st.PutDefinition(ctx, model.TaskDefinition{
		ID:                "followup",
		StudyID:           "study",
		CreatedAt:         defCreated,
		Cycle:             model.Cycle{Unit: model.CycleDay, Amount: 1},
		ActivateAfterDays: 1,
		Condition:         &model.ConditionRule{Source: q, Operand: model.OpEqual, Values: []string{"yes"}},
	}))
	require.NoError(t, st.PutDefinition(ctx, model.TaskDefinition{
		ID:        "never",
		StudyID:   "study",
		CreatedAt: defCreated,
		Cycle:     model.Cycle{Unit: model.CycleOnce},
		Condition: &model.ConditionRule{Source: q, Operand: model.OpEqual, Values: []string{"maybe"}},
	}))

	anchor := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	_, err := svc.ActivateSubject(ctx, "subj", anchor)
	require.NoError(t, err)

	// Nothing answered yet.
	n, err := svc.EvaluateConditions(ctx, "subj")
	require.NoError(t, err)
	require.Zero(t, n)

	first, err := st.Instances(ctx, storage.InstanceFilter{SubjectID: "subj", DefinitionID: "daily"})
	require.NoError(t, err)
	require.NotEmpty(t, first)
	require.NoError(t, st.PutAnswer(ctx, model.AnswerValue{
		InstanceID: first[0].ID,
		Ref:        q,
		Values:     []string{"no", "yes"},
		RecordedAt: anchor.Add(2 * time.Hour),
	}))

	n, err = svc.EvaluateConditions(ctx, "subj")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := st.Instances(ctx, storage.InstanceFilter{SubjectID: "subj", DefinitionID: "followup"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 1, got[0].CycleIndex)
	require.True(t, got[0].IssuedAt.Equal(time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)))

	none, err := st.Instances(ctx, storage.InstanceFilter{SubjectID: "subj", DefinitionID: "never"})
	require.NoError(t, err)
	require.Empty(t, none)

	// Already created: a second pass is a no-op.
	n, err = svc.EvaluateConditions(ctx, "subj")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestScheduleNext(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	anchor := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, st.PutSubject(ctx, model.Subject{ID: "subj", StudyID: "study", AnchorAt: &anchor}))
	require.NoError(t, st.PutDefinition(ctx, model.TaskDefinition{
		ID:                  "weekly",
		StudyID:             "study",
		CreatedAt:           defCreated,
		Cycle:               model.Cycle{Unit: model.CycleWeek, Amount: 1},
		DeactivateAfterDays: 14,
	}))
	require.NoError(t, st.PutDefinition(ctx, model.TaskDefinition{
		ID:        "once",
		StudyID:   "study",
		CreatedAt: defCreated,
		Cycle:     model.Cycle{Unit: model.CycleOnce},
	}))

	require.NoError(t, st.PutInstance(ctx, model.TaskInstance{
		ID: "w1", DefinitionID: "weekly", SubjectID: "subj", StudyID: "study",
		CycleIndex: 1, IssuedAt: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), Status: model.StatusDue,
	}))

	next, created, err := svc.ScheduleNext(ctx, "w1")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, 2, next.CycleIndex)
	require.True(t, next.IssuedAt.Equal(time.Date(2024, 3, 17, 9, 0, 0, 0, time.UTC)))

	// Scheduling the same successor twice keeps the first row.
	_, created, err = svc.ScheduleNext(ctx, "w1")
	require.NoError(t, err)
	require.False(t, created)

	// The third week ends the window (activation + 14 days).
	_, created, err = svc.ScheduleNext(ctx, next.ID)
	require.NoError(t, err)
	require.True(t, created)
	all, err := st.Instances(ctx, storage.InstanceFilter{DefinitionID: "weekly"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	_, created, err = svc.ScheduleNext(ctx, all[2].ID)
	require.NoError(t, err)
	require.False(t, created)

	require.NoError(t, st.PutInstance(ctx, model.TaskInstance{
		ID: "o1", DefinitionID: "once", SubjectID: "subj", StudyID: "study",
		CycleIndex: 1, IssuedAt: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), Status: model.StatusDue,
	}))
	_, _, err = svc.ScheduleNext(ctx, "o1")
	require.ErrorIs(t, err, recurrence.ErrNoRecurrence)
}

func TestPlanPreviewsWithoutWriting(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	require.NoError(t, st.PutDefinition(ctx, daily()))
	_, err := svc.ActivateSubject(ctx, "subj", time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	plan, err := svc.Plan(ctx, "subj", "daily")
	require.NoError(t, err)
	require.Len(t, plan, 3)
	require.Equal(t, 3, plan[2].Index)
	require.True(t, plan[2].At.Equal(time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)))

	_, err = svc.Plan(ctx, "subj", "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)
}
