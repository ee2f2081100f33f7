package taskstore

import (
	"context"
	"database/sql"
)

// nextTaskTx implements invariant 4: the lowest-ordinal Task that is not
// done, from the lowest-ordinal Epic with any non-done task, ties broken by
// creation order. Read-consistent within the caller's transaction.
func nextTaskTx(ctx context.Context, tx *sql.Tx, projectID string) (*Task, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT t.id, t.epic_id, t.ordinal, t.title, t.description, t.status,
		       t.started_at, t.completed_at, t.created_at, t.archived
		FROM tasks t
		JOIN epics e ON e.id = t.epic_id
		WHERE e.project_id = ? AND e.archived = 0 AND t.archived = 0 AND t.status != 'done'
		ORDER BY e.ordinal ASC, t.ordinal ASC, t.created_at ASC
		LIMIT 1`, projectID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errStorage(err, "compute next task for project %s", projectID)
	}
	return task, nil
}

// ProjectProgressView reports task completion percentages for a project and
// each of its epics.
type ProjectProgressView struct {
	ProjectID    string
	TotalTasks   int
	DoneTasks    int
	EpicProgress []EpicProgressView
}

// EpicProgressView reports one epic's task completion percentage.
type EpicProgressView struct {
	EpicID     string
	TotalTasks int
	DoneTasks  int
}

// ProjectProgress computes progress percentages per project and epic.
func (s *Store) ProjectProgress(ctx context.Context, projectID string) (ProjectProgressView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, COUNT(t.id), COALESCE(SUM(CASE WHEN t.status = 'done' THEN 1 ELSE 0 END), 0)
		FROM epics e
		LEFT JOIN tasks t ON t.epic_id = e.id AND t.archived = 0
		WHERE e.project_id = ? AND e.archived = 0
		GROUP BY e.id
		ORDER BY e.ordinal ASC`, projectID)
	if err != nil {
		return ProjectProgressView{}, errStorage(err, "project progress for %s", projectID)
	}
	defer rows.Close()

	view := ProjectProgressView{ProjectID: projectID}
	for rows.Next() {
		var ep EpicProgressView
		if err := rows.Scan(&ep.EpicID, &ep.TotalTasks, &ep.DoneTasks); err != nil {
			return ProjectProgressView{}, errStorage(err, "scan epic progress for %s", projectID)
		}
		view.EpicProgress = append(view.EpicProgress, ep)
		view.TotalTasks += ep.TotalTasks
		view.DoneTasks += ep.DoneTasks
	}
	return view, rows.Err()
}

// QualityTrendEntry is one row of a project's quality trend, ordered by
// session_number.
type QualityTrendEntry struct {
	SessionNumber int
	CheckType     QualityCheckType
	Rating        int
}

// QualityTrend returns the ordered QualityCheck rows for a project across
// sessions, feeding the Quality Analyzer's "sessions since last deep
// review" counter.
func (s *Store) QualityTrend(ctx context.Context, projectID string) ([]QualityTrendEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sess.session_number, q.check_type, q.rating
		FROM quality_checks q
		JOIN sessions sess ON sess.id = q.session_id
		WHERE sess.project_id = ?
		ORDER BY sess.session_number ASC`, projectID)
	if err != nil {
		return nil, errStorage(err, "quality trend for %s", projectID)
	}
	defer rows.Close()

	var out []QualityTrendEntry
	for rows.Next() {
		var e QualityTrendEntry
		if err := rows.Scan(&e.SessionNumber, &e.CheckType, &e.Rating); err != nil {
			return nil, errStorage(err, "scan quality trend for %s", projectID)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
