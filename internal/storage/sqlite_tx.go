package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taskcycle/internal/model"
)

type sqliteTx struct {
	q     querier
	zones *zoneCache
}

func (t *sqliteTx) LoadEligibleInstances(ctx context.Context, now time.Time) ([]model.EligibleInstance, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT i.id, i.definition_id, i.subject_id, i.study_id, i.cycle_index, i.issued_at,
		       i.first_released_at, i.second_released_at, i.status, i.sort_order,
		       d.cycle_unit, d.audience, d.expire_after_days, d.finalize_after_days,
		       COALESCE(s.timezone, 'UTC')
		  FROM instances i
		  JOIN definitions d ON d.id = i.definition_id
		  LEFT JOIN studies s ON s.id = i.study_id
		 WHERE i.status IN (?,?,?,?) AND i.issued_at <= ?
		 ORDER BY i.issued_at, i.id`,
		model.StatusDormant.String(), model.StatusDue.String(),
		model.StatusInProgress.String(), model.StatusReleasedOnce.String(),
		toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("load eligible instances: %w", err)
	}
	defer rows.Close()

	var out []model.EligibleInstance
	for rows.Next() {
		var (
			e             model.EligibleInstance
			issued        int64
			first, second sql.NullInt64
			status, unit  string
			aud, tz       string
		)
		if err := rows.Scan(&e.ID, &e.DefinitionID, &e.SubjectID, &e.StudyID, &e.CycleIndex, &issued,
			&first, &second, &status, &e.SortOrder,
			&unit, &aud, &e.ExpireAfterDays, &e.FinalizeAfterDays, &tz); err != nil {
			return nil, err
		}
		loc, err := t.zones.load(tz)
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", e.ID, err)
		}
		if e.Status, err = model.ParseStatus(status); err != nil {
			return nil, fmt.Errorf("instance %s: %w", e.ID, err)
		}
		if e.Unit, err = model.ParseCycleUnit(unit); err != nil {
			return nil, fmt.Errorf("instance %s: %w", e.ID, err)
		}
		if e.Audience, err = model.ParseAudience(aud); err != nil {
			return nil, fmt.Errorf("instance %s: %w", e.ID, err)
		}
		e.Location = loc
		e.IssuedAt = fromMillis(issued, loc)
		e.FirstReleasedAt = ptrFromMillis(first, loc)
		e.SecondReleasedAt = ptrFromMillis(second, loc)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *sqliteTx) SaveInstanceStatuses(ctx context.Context, updates []model.StatusUpdate) ([]string, error) {
	if len(updates) == 0 {
		return nil, nil
	}
	stmt := `UPDATE instances
	            SET status = ?, second_released_at = COALESCE(?, second_released_at)
	          WHERE id = ? AND status = ?`

	applied := make([]string, 0, len(updates))
	for _, u := range updates {
		res, err := t.q.ExecContext(ctx, stmt, u.To.String(), nullMillis(u.SecondReleasedAt), u.InstanceID, u.From.String())
		if err != nil {
			return nil, fmt.Errorf("save status of %s: %w", u.InstanceID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			applied = append(applied, u.InstanceID)
		}
	}
	return applied, nil
}

func (t *sqliteTx) CopyAnswersForward(ctx context.Context, instanceIDs []string) (int, error) {
	total := 0
	for _, ids := range chunkIDs(instanceIDs) {
		args := append([]any{int(model.SlotFinalized), int(model.SlotFirstPass)}, stringArgs(ids)...)
		res, err := t.q.ExecContext(ctx, `
			INSERT OR IGNORE INTO answers(instance_id, question_id, option_id, slot, vals, recorded_at)
			SELECT instance_id, question_id, option_id, ?, vals, recorded_at
			  FROM answers
			 WHERE slot = ? AND instance_id IN (`+placeholders(len(ids))+`)`, args...)
		if err != nil {
			return total, fmt.Errorf("copy answers forward: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}

func (t *sqliteTx) DeletePendingSchedulesAndQueueEntries(ctx context.Context, instanceIDs []string) (int, error) {
	total := 0
	for _, ids := range chunkIDs(instanceIDs) {
		in := placeholders(len(ids))
		for _, table := range []string{"reminders", "delivery_queue"} {
			res, err := t.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE instance_id IN (`+in+`)`, stringArgs(ids)...)
			if err != nil {
				return total, fmt.Errorf("delete %s: %w", table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return total, err
			}
			total += int(n)
		}
	}
	return total, nil
}

func (t *sqliteTx) InsertInstances(ctx context.Context, instances []model.TaskInstance) (int, error) {
	total := 0
	for _, in := range instances {
		n, err := insertInstance(ctx, t.q, in)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (t *sqliteTx) SetSubjectAnchor(ctx context.Context, subjectID string, at time.Time) (bool, error) {
	res, err := t.q.ExecContext(ctx, `UPDATE subjects SET anchor_at = ? WHERE id = ? AND anchor_at IS NULL`, toMillis(at), subjectID)
	if err != nil {
		return false, fmt.Errorf("set anchor of %s: %w", subjectID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func insertInstance(ctx context.Context, q querier, in model.TaskInstance) (int, error) {
	res, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO instances(id, definition_id, subject_id, study_id, cycle_index, issued_at,
		first_released_at, second_released_at, status, sort_order)
		VALUES(?,?,?,?,?,?,?,?,?,?)`,
		in.ID, in.DefinitionID, in.SubjectID, in.StudyID, in.CycleIndex, toMillis(in.IssuedAt),
		nullMillis(in.FirstReleasedAt), nullMillis(in.SecondReleasedAt), in.Status.String(), in.SortOrder,
	)
	if err != nil {
		return 0, fmt.Errorf("insert instance %s: %w", in.ID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
