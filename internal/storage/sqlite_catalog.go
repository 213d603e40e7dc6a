package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskcycle/internal/model"
)

func (s *sqliteStore) PutStudy(ctx context.Context, st model.Study) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO studies(id, timezone, notify_at_sec) VALUES(?,?,?)
		ON CONFLICT(id) DO UPDATE SET timezone=excluded.timezone, notify_at_sec=excluded.notify_at_sec`,
		st.ID, zoneName(st.Location), int64(st.NotifyAt/time.Second),
	)
	return err
}

func (s *sqliteStore) Study(ctx context.Context, id string) (model.Study, error) {
	var (
		tz     string
		notify int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT timezone, notify_at_sec FROM studies WHERE id = ?`, id).Scan(&tz, &notify)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Study{}, fmt.Errorf("study %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Study{}, err
	}
	loc, err := s.zones.load(tz)
	if err != nil {
		return model.Study{}, err
	}
	return model.Study{ID: id, Location: loc, NotifyAt: time.Duration(notify) * time.Second}, nil
}

func (s *sqliteStore) PutDefinition(ctx context.Context, d model.TaskDefinition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	var (
		fixed   any
		weekday any
		cq, co  any
		cop     any
		ccomb   any
		cvals   any
	)
	if d.Cycle.Unit == model.CycleFixedDate {
		fixed = toMillis(d.FixedDate)
	}
	if d.Weekday != nil {
		weekday = int(*d.Weekday)
	}
	if c := d.Condition; c != nil {
		cq, co = c.Source.QuestionID, c.Source.OptionID
		cop, ccomb = c.Operand.String(), c.Combinator.String()
		cvals = model.JoinValues(c.Values)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO definitions(id, study_id, created_at, cycle_unit, cycle_amount, cycle_per_day, cycle_first_hour,
			activate_after_days, deactivate_after_days, expire_after_days, finalize_after_days,
			audience, fixed_date, weekday, sort_order,
			cond_question, cond_option, cond_operand, cond_combinator, cond_values)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			study_id=excluded.study_id, created_at=excluded.created_at, cycle_unit=excluded.cycle_unit,
			cycle_amount=excluded.cycle_amount, cycle_per_day=excluded.cycle_per_day,
			cycle_first_hour=excluded.cycle_first_hour, activate_after_days=excluded.activate_after_days,
			deactivate_after_days=excluded.deactivate_after_days, expire_after_days=excluded.expire_after_days,
			finalize_after_days=excluded.finalize_after_days, audience=excluded.audience,
			fixed_date=excluded.fixed_date, weekday=excluded.weekday, sort_order=excluded.sort_order,
			cond_question=excluded.cond_question, cond_option=excluded.cond_option,
			cond_operand=excluded.cond_operand, cond_combinator=excluded.cond_combinator,
			cond_values=excluded.cond_values`,
		d.ID, d.StudyID, toMillis(d.CreatedAt), d.Cycle.Unit.String(), d.Cycle.Amount, d.Cycle.PerDay, d.Cycle.FirstHour,
		d.ActivateAfterDays, d.DeactivateAfterDays, d.ExpireAfterDays, d.FinalizeAfterDays,
		d.Audience.String(), fixed, weekday, d.SortOrder,
		cq, co, cop, ccomb, cvals,
	)
	return err
}

const definitionColumns = `id, study_id, created_at, cycle_unit, cycle_amount, cycle_per_day, cycle_first_hour,
	activate_after_days, deactivate_after_days, expire_after_days, finalize_after_days,
	audience, fixed_date, weekday, sort_order,
	cond_question, cond_option, cond_operand, cond_combinator, cond_values`

func (s *sqliteStore) Definition(ctx context.Context, id string) (model.TaskDefinition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+definitionColumns+` FROM definitions WHERE id = ?`, id)
	d, err := scanDefinition(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TaskDefinition{}, fmt.Errorf("definition %s: %w", id, ErrNotFound)
	}
	return d, err
}

func (s *sqliteStore) Definitions(ctx context.Context, studyID string) ([]model.TaskDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+definitionColumns+` FROM definitions WHERE study_id = ? ORDER BY sort_order, id`, studyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TaskDefinition
	for rows.Next() {
		d, err := scanDefinition(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDefinition(scan func(dest ...any) error) (model.TaskDefinition, error) {
	var (
		d                  model.TaskDefinition
		created            int64
		unit, audience     string
		fixed, weekday     sql.NullInt64
		cq, co, cop, ccomb sql.NullString
		cvals              sql.NullString
	)
	if err := scan(&d.ID, &d.StudyID, &created, &unit, &d.Cycle.Amount, &d.Cycle.PerDay, &d.Cycle.FirstHour,
		&d.ActivateAfterDays, &d.DeactivateAfterDays, &d.ExpireAfterDays, &d.FinalizeAfterDays,
		&audience, &fixed, &weekday, &d.SortOrder,
		&cq, &co, &cop, &ccomb, &cvals); err != nil {
		return model.TaskDefinition{}, err
	}

	var err error
	d.CreatedAt = fromMillis(created, time.UTC)
	if d.Cycle.Unit, err = model.ParseCycleUnit(unit); err != nil {
		return model.TaskDefinition{}, fmt.Errorf("definition %s: %w", d.ID, err)
	}
	if d.Audience, err = model.ParseAudience(audience); err != nil {
		return model.TaskDefinition{}, fmt.Errorf("definition %s: %w", d.ID, err)
	}
	if fixed.Valid {
		d.FixedDate = fromMillis(fixed.Int64, time.UTC)
	}
	if weekday.Valid {
		wd := time.Weekday(weekday.Int64)
		d.Weekday = &wd
	}
	if cop.Valid && strings.TrimSpace(cop.String) != "" {
		rule := model.ConditionRule{
			Source: model.QuestionRef{QuestionID: cq.String, OptionID: co.String},
			Values: model.SplitValues(cvals.String, model.ValueSeparator),
		}
		if rule.Operand, err = model.ParseOperand(cop.String); err != nil {
			return model.TaskDefinition{}, fmt.Errorf("definition %s: %w", d.ID, err)
		}
		if rule.Combinator, err = model.ParseCombinator(ccomb.String); err != nil {
			return model.TaskDefinition{}, fmt.Errorf("definition %s: %w", d.ID, err)
		}
		d.Condition = &rule
	}
	return d, nil
}

func (s *sqliteStore) PutSubject(ctx context.Context, sub model.Subject) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subjects(id, study_id, team_id, anchor_at) VALUES(?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET study_id=excluded.study_id, team_id=excluded.team_id, anchor_at=excluded.anchor_at`,
		sub.ID, sub.StudyID, sub.TeamID, nullMillis(sub.AnchorAt),
	)
	return err
}

func (s *sqliteStore) Subject(ctx context.Context, id string) (model.Subject, error) {
	sub := model.Subject{ID: id}
	var anchor sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT study_id, team_id, anchor_at FROM subjects WHERE id = ?`, id).
		Scan(&sub.StudyID, &sub.TeamID, &anchor)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subject{}, fmt.Errorf("subject %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Subject{}, err
	}
	sub.AnchorAt = ptrFromMillis(anchor, time.UTC)
	return sub, nil
}

func (s *sqliteStore) PutInstance(ctx context.Context, in model.TaskInstance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances(id, definition_id, subject_id, study_id, cycle_index, issued_at,
			first_released_at, second_released_at, status, sort_order)
		VALUES(?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			issued_at=excluded.issued_at, first_released_at=excluded.first_released_at,
			second_released_at=excluded.second_released_at, status=excluded.status, sort_order=excluded.sort_order`,
		in.ID, in.DefinitionID, in.SubjectID, in.StudyID, in.CycleIndex, toMillis(in.IssuedAt),
		nullMillis(in.FirstReleasedAt), nullMillis(in.SecondReleasedAt), in.Status.String(), in.SortOrder,
	)
	return err
}

const instanceColumns = `i.id, i.definition_id, i.subject_id, i.study_id, i.cycle_index, i.issued_at,
	i.first_released_at, i.second_released_at, i.status, i.sort_order, COALESCE(s.timezone, 'UTC')`

func (s *sqliteStore) Instance(ctx context.Context, id string) (model.TaskInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+`
		FROM instances i LEFT JOIN studies s ON s.id = i.study_id WHERE i.id = ?`, id)
	in, err := s.scanInstance(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return model.TaskInstance{}, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return in, err
}

func (s *sqliteStore) Instances(ctx context.Context, f InstanceFilter) ([]model.TaskInstance, error) {
	var (
		where []string
		args  []any
	)
	if f.SubjectID != "" {
		where = append(where, "i.subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.DefinitionID != "" {
		where = append(where, "i.definition_id = ?")
		args = append(args, f.DefinitionID)
	}
	if f.Status != 0 {
		where = append(where, "i.status = ?")
		args = append(args, f.Status.String())
	}
	q := `SELECT ` + instanceColumns + ` FROM instances i LEFT JOIN studies s ON s.id = i.study_id`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY i.definition_id, i.subject_id, i.cycle_index"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TaskInstance
	for rows.Next() {
		in, err := s.scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *sqliteStore) scanInstance(scan func(dest ...any) error) (model.TaskInstance, error) {
	var (
		in            model.TaskInstance
		issued        int64
		first, second sql.NullInt64
		status, tz    string
	)
	if err := scan(&in.ID, &in.DefinitionID, &in.SubjectID, &in.StudyID, &in.CycleIndex, &issued,
		&first, &second, &status, &in.SortOrder, &tz); err != nil {
		return model.TaskInstance{}, err
	}
	loc, err := s.zones.load(tz)
	if err != nil {
		return model.TaskInstance{}, err
	}
	if in.Status, err = model.ParseStatus(status); err != nil {
		return model.TaskInstance{}, fmt.Errorf("instance %s: %w", in.ID, err)
	}
	in.IssuedAt = fromMillis(issued, loc)
	in.FirstReleasedAt = ptrFromMillis(first, loc)
	in.SecondReleasedAt = ptrFromMillis(second, loc)
	return in, nil
}

func (s *sqliteStore) PutAnswer(ctx context.Context, a model.AnswerValue) error {
	if a.Slot == 0 {
		a.Slot = model.SlotFirstPass
	}
	if a.RecordedAt.IsZero() {
		a.RecordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO answers(instance_id, question_id, option_id, slot, vals, recorded_at) VALUES(?,?,?,?,?,?)
		ON CONFLICT(instance_id, question_id, option_id, slot) DO UPDATE SET vals=excluded.vals, recorded_at=excluded.recorded_at`,
		a.InstanceID, a.Ref.QuestionID, a.Ref.OptionID, int(a.Slot), model.JoinValues(a.Values), toMillis(a.RecordedAt),
	)
	return err
}

func (s *sqliteStore) Answers(ctx context.Context, instanceID string, slot model.Slot) ([]model.AnswerValue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT question_id, option_id, vals, recorded_at FROM answers
		 WHERE instance_id = ? AND slot = ? ORDER BY question_id, option_id`, instanceID, int(slot))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AnswerValue
	for rows.Next() {
		a := model.AnswerValue{InstanceID: instanceID, Slot: slot}
		var (
			vals string
			at   int64
		)
		if err := rows.Scan(&a.Ref.QuestionID, &a.Ref.OptionID, &vals, &at); err != nil {
			return nil, err
		}
		a.Values = model.SplitValues(vals, model.ValueSeparator)
		a.RecordedAt = fromMillis(at, time.UTC)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) LatestAnswers(ctx context.Context, subjectID string, ref model.QuestionRef) ([]string, bool, error) {
	var vals string
	err := s.db.QueryRowContext(ctx, `
		SELECT a.vals FROM answers a
		  JOIN instances i ON i.id = a.instance_id
		 WHERE i.subject_id = ? AND a.question_id = ? AND a.option_id = ?
		 ORDER BY a.recorded_at DESC, a.slot DESC, i.cycle_index DESC
		 LIMIT 1`, subjectID, ref.QuestionID, ref.OptionID).Scan(&vals)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return model.SplitValues(vals, model.ValueSeparator), true, nil
}

func (s *sqliteStore) AddReminder(ctx context.Context, r model.Reminder) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO reminders(id, instance_id, subject_id, remind_at) VALUES(?,?,?,?)`,
		r.ID, r.InstanceID, r.SubjectID, toMillis(r.RemindAt))
	return err
}

func (s *sqliteStore) Reminders(ctx context.Context, instanceID string) ([]model.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, subject_id, remind_at FROM reminders WHERE instance_id = ? ORDER BY remind_at`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reminder
	for rows.Next() {
		r := model.Reminder{InstanceID: instanceID}
		var at int64
		if err := rows.Scan(&r.ID, &r.SubjectID, &at); err != nil {
			return nil, err
		}
		r.RemindAt = fromMillis(at, time.UTC)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) EnqueueDelivery(ctx context.Context, d Delivery) error {
	if d.EnqueuedAt.IsZero() {
		d.EnqueuedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO delivery_queue(id, instance_id, subject_id, topic, payload, enqueued_at) VALUES(?,?,?,?,?,?)`,
		d.ID, d.InstanceID, d.SubjectID, d.Topic, d.Payload, toMillis(d.EnqueuedAt))
	return err
}

func (s *sqliteStore) Deliveries(ctx context.Context, instanceID string) ([]Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, subject_id, topic, payload, enqueued_at FROM delivery_queue WHERE instance_id = ? ORDER BY enqueued_at, id`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		d := Delivery{InstanceID: instanceID}
		var at int64
		if err := rows.Scan(&d.ID, &d.SubjectID, &d.Topic, &d.Payload, &at); err != nil {
			return nil, err
		}
		d.EnqueuedAt = fromMillis(at, time.UTC)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendEvent(ctx context.Context, e model.EventRecord) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO events(id, topic, instance_id, subject_id, study_id, status, at) VALUES(?,?,?,?,?,?,?)`,
		e.ID, e.Topic, e.InstanceID, e.SubjectID, e.StudyID, e.Status.String(), toMillis(e.At))
	return err
}

func (s *sqliteStore) Events(ctx context.Context, instanceID string) ([]model.EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, topic, subject_id, study_id, status, at FROM events WHERE instance_id = ? ORDER BY at, id`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		e := model.EventRecord{InstanceID: instanceID}
		var (
			status string
			at     int64
		)
		if err := rows.Scan(&e.ID, &e.Topic, &e.SubjectID, &e.StudyID, &status, &at); err != nil {
			return nil, err
		}
		if e.Status, err = model.ParseStatus(status); err != nil {
			return nil, err
		}
		e.At = fromMillis(at, time.UTC)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneEvents(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE at < ?`, toMillis(before))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
