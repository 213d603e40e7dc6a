package sweep

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally/v4"
	"go.uber.org/mock/gomock"

	"taskcycle/internal/eventbus"
	"taskcycle/internal/model"
	"taskcycle/internal/storage"
	logx "taskcycle/pkg/logx"
)

var sweepNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func eligible(id string, status model.Status, issued time.Time) model.EligibleInstance {
	return model.EligibleInstance{
		TaskInstance: model.TaskInstance{
			ID: id, DefinitionID: "def", SubjectID: "subj", StudyID: "study",
			IssuedAt: issued, Status: status,
		},
		Unit:              model.CycleDay,
		Audience:          model.AudienceSubject,
		ExpireAfterDays:   2,
		FinalizeAfterDays: 3,
	}
}

// inTx makes the unit-of-work mock run fn against tx.
func inTx(uow *MockUnitOfWork, tx storage.Tx) *gomock.Call {
	return uow.EXPECT().WithTx(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, fn func(storage.Tx) error) error {
			return fn(tx)
		})
}

func counter(t *testing.T, scope tally.TestScope, name string) int64 {
	t.Helper()
	for _, c := range scope.Snapshot().Counters() {
		if c.Name() == name {
			return c.Value()
		}
	}
	return 0
}

func TestRunMixedBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	uow := NewMockUnitOfWork(ctrl)
	tx := storage.NewMockTx(ctrl)
	pub := NewMockPublisher(ctrl)
	scope := tally.NewTestScope("", nil)

	released := sweepNow.AddDate(0, 0, -4)
	finalize := eligible("fin", model.StatusReleasedOnce, sweepNow.AddDate(0, 0, -5))
	finalize.FirstReleasedAt = &released

	batch := []model.EligibleInstance{
		eligible("act", model.StatusDormant, sweepNow.Add(-time.Hour)),
		eligible("exp", model.StatusDue, sweepNow.AddDate(0, 0, -3)),
		finalize,
		eligible("later", model.StatusDormant, sweepNow.Add(time.Hour)),
	}

	inTx(uow, tx)
	tx.EXPECT().LoadEligibleInstances(gomock.Any(), sweepNow).Return(batch, nil)
	tx.EXPECT().SaveInstanceStatuses(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ups []model.StatusUpdate) ([]string, error) {
			require.Len(t, ups, 3)
			ids := make([]string, 0, len(ups))
			for _, u := range ups {
				ids = append(ids, u.InstanceID)
				if u.InstanceID == "fin" {
					require.NotNil(t, u.SecondReleasedAt)
					require.True(t, u.SecondReleasedAt.Equal(released))
				}
			}
			return ids, nil
		})
	tx.EXPECT().CopyAnswersForward(gomock.Any(), []string{"fin"}).Return(4, nil)
	tx.EXPECT().DeletePendingSchedulesAndQueueEntries(gomock.Any(), []string{"exp"}).Return(2, nil)

	gomock.InOrder(
		pub.EXPECT().Publish(gomock.Any(), eventbus.TopicInstanceActivated, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, ev model.LifecycleEvent) error {
				require.Equal(t, "act", ev.InstanceID)
				require.Equal(t, model.StatusDue, ev.Status)
				return nil
			}),
		pub.EXPECT().Publish(gomock.Any(), eventbus.TopicInstanceExpired, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ string, ev model.LifecycleEvent) error {
				require.Equal(t, "exp", ev.InstanceID)
				require.Equal(t, model.StatusExpired, ev.Status)
				return nil
			}),
	)

	s := New(uow, pub, logx.Nop(), WithClock(func() time.Time { return sweepNow }), WithScope(scope))
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, res.Scanned)
	require.Equal(t, 1, res.Activated)
	require.Equal(t, 1, res.Expired)
	require.Equal(t, 1, res.Finalized)
	require.Equal(t, 0, res.Stale)
	require.Equal(t, 4, res.AnswersCopied)
	require.Equal(t, 2, res.SchedulesDeleted)
	require.Equal(t, 3, res.Changed())

	require.EqualValues(t, 1, counter(t, scope, MetricActivated))
	require.EqualValues(t, 1, counter(t, scope, MetricExpired))
	require.EqualValues(t, 1, counter(t, scope, MetricFinalized))
	require.EqualValues(t, 0, counter(t, scope, MetricFailed))
	require.False(t, s.Running())
}

func TestRunSkipsStaleDecisions(t *testing.T) {
	ctrl := gomock.NewController(t)
	uow := NewMockUnitOfWork(ctrl)
	tx := storage.NewMockTx(ctrl)
	pub := NewMockPublisher(ctrl)

	batch := []model.EligibleInstance{
		eligible("a", model.StatusDormant, sweepNow.Add(-time.Minute)),
		eligible("b", model.StatusDue, sweepNow.AddDate(0, 0, -3)),
	}

	inTx(uow, tx)
	tx.EXPECT().LoadEligibleInstances(gomock.Any(), sweepNow).Return(batch, nil)
	// "b" was answered concurrently; only "a" is written.
	tx.EXPECT().SaveInstanceStatuses(gomock.Any(), gomock.Len(2)).Return([]string{"a"}, nil)
	pub.EXPECT().Publish(gomock.Any(), eventbus.TopicInstanceActivated, gomock.Any()).Return(nil)

	s := New(uow, pub, logx.Nop(), WithClock(func() time.Time { return sweepNow }))
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Activated)
	require.Equal(t, 0, res.Expired)
	require.Equal(t, 1, res.Stale)
}

func TestRunRollsBackOnCopyFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	uow := NewMockUnitOfWork(ctrl)
	tx := storage.NewMockTx(ctrl)
	pub := NewMockPublisher(ctrl)
	scope := tally.NewTestScope("", nil)

	released := sweepNow.AddDate(0, 0, -10)
	fin := eligible("fin", model.StatusReleasedOnce, sweepNow.AddDate(0, 0, -11))
	fin.FirstReleasedAt = &released
	batch := []model.EligibleInstance{
		eligible("act", model.StatusDormant, sweepNow.Add(-time.Minute)),
		fin,
	}

	boom := errors.New("disk full")
	inTx(uow, tx)
	tx.EXPECT().LoadEligibleInstances(gomock.Any(), sweepNow).Return(batch, nil)
	tx.EXPECT().SaveInstanceStatuses(gomock.Any(), gomock.Any()).Return([]string{"act", "fin"}, nil)
	tx.EXPECT().CopyAnswersForward(gomock.Any(), []string{"fin"}).Return(0, boom)
	// No Publish expectation: nothing is announced for a rolled back batch.

	s := New(uow, pub, logx.Nop(), WithClock(func() time.Time { return sweepNow }), WithScope(scope))
	res, err := s.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.Zero(t, res.Changed())
	require.EqualValues(t, 1, counter(t, scope, MetricFailed))
	require.EqualValues(t, 0, counter(t, scope, MetricActivated))
}

func TestRunLoadFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	uow := NewMockUnitOfWork(ctrl)
	tx := storage.NewMockTx(ctrl)

	boom := errors.New("locked")
	inTx(uow, tx)
	tx.EXPECT().LoadEligibleInstances(gomock.Any(), gomock.Any()).Return(nil, boom)

	s := New(uow, nil, logx.Nop())
	_, err := s.Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestRunPublishFailureIsLogged(t *testing.T) {
	ctrl := gomock.NewController(t)
	uow := NewMockUnitOfWork(ctrl)
	tx := storage.NewMockTx(ctrl)
	pub := NewMockPublisher(ctrl)

	inTx(uow, tx)
	tx.EXPECT().LoadEligibleInstances(gomock.Any(), gomock.Any()).
		Return([]model.EligibleInstance{eligible("act", model.StatusDormant, sweepNow.Add(-time.Minute))}, nil)
	tx.EXPECT().SaveInstanceStatuses(gomock.Any(), gomock.Any()).Return([]string{"act"}, nil)
	pub.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any()).Return(eventbus.ErrDropped)

	var buf bytes.Buffer
	s := New(uow, pub, logx.NewWriter(&buf, "debug"), WithClock(func() time.Time { return sweepNow }))
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Activated)
	require.Contains(t, buf.String(), "publish lifecycle event failed")
}

func TestRunEmptyBatchWritesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	uow := NewMockUnitOfWork(ctrl)
	tx := storage.NewMockTx(ctrl)

	inTx(uow, tx)
	tx.EXPECT().LoadEligibleInstances(gomock.Any(), gomock.Any()).
		Return([]model.EligibleInstance{eligible("later", model.StatusDormant, sweepNow.Add(time.Hour))}, nil)

	s := New(uow, NewMockPublisher(ctrl), logx.Nop(), WithClock(func() time.Time { return sweepNow }))
	res, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Scanned)
	require.Zero(t, res.Changed())
}

func TestRunRejectsOverlap(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := New(NewMockUnitOfWork(ctrl), nil, logx.Nop())
	s.running.Store(true)

	_, err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrInProgress)
	require.True(t, s.Running())
}

func TestRunAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "sweep.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.PutStudy(ctx, model.Study{ID: "study", Location: time.UTC}))
	require.NoError(t, st.PutDefinition(ctx, model.TaskDefinition{
		ID:              "def",
		StudyID:         "study",
		CreatedAt:       sweepNow.AddDate(0, -1, 0),
		Cycle:           model.Cycle{Unit: model.CycleDay, Amount: 1},
		ExpireAfterDays: 2,
	}))
	require.NoError(t, st.PutSubject(ctx, model.Subject{ID: "subj", StudyID: "study"}))

	for _, in := range []model.TaskInstance{
		{ID: "old", DefinitionID: "def", SubjectID: "subj", StudyID: "study", CycleIndex: 0, IssuedAt: sweepNow.AddDate(0, 0, -3), Status: model.StatusDue},
		{ID: "now", DefinitionID: "def", SubjectID: "subj", StudyID: "study", CycleIndex: 1, IssuedAt: sweepNow.Add(-time.Hour), Status: model.StatusDormant},
	} {
		require.NoError(t, st.PutInstance(ctx, in))
	}

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	s := New(st, eventbus.NewPublisher(bus, logx.Nop()), logx.Nop(), WithClock(func() time.Time { return sweepNow }))
	res, err := s.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Activated)
	require.Equal(t, 1, res.Expired)

	got, err := st.Instance(ctx, "old")
	require.NoError(t, err)
	require.Equal(t, model.StatusExpired, got.Status)
	got, err = st.Instance(ctx, "now")
	require.NoError(t, err)
	require.Equal(t, model.StatusDue, got.Status)

	topics := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-ch:
			topics[e.Topic] = true
		case <-time.After(time.Second):
			t.Fatal("event not published")
		}
	}
	require.True(t, topics[eventbus.TopicInstanceActivated])
	require.True(t, topics[eventbus.TopicInstanceExpired])

	// A second run finds nothing left to do.
	res, err = s.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Changed())
}
