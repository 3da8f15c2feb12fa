package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labreport/labreport/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

const reportCols = `r.id, r.test_start_date, r.test_end_date, r.status, r.created_by, r.assigned_to,
	r.signed_by, r.signed_at, r.approved_by, r.approved_at, r.created_at, r.updated_at`

func scanReport(row pgx.Row, extra ...interface{}) (*Report, error) {
	var rp Report
	dest := []interface{}{
		&rp.ID, &rp.TestStartDate, &rp.TestEndDate, &rp.Status, &rp.CreatedBy, &rp.AssignedTo,
		&rp.SignedBy, &rp.SignedAt, &rp.ApprovedBy, &rp.ApprovedAt, &rp.CreatedAt, &rp.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &rp, nil
}

func (r *repoPG) LockReport(ctx context.Context, id int64) (*Report, error) {
	rp, err := scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM reports r WHERE r.id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "report", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("lock report: %w", err)
	}
	return rp, nil
}

func (r *repoPG) InsertReport(ctx context.Context, rp *Report) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reports (test_start_date, test_end_date, status, created_by, assigned_to)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		rp.TestStartDate, rp.TestEndDate, rp.Status, rp.CreatedBy, rp.AssignedTo,
	).Scan(&rp.ID, &rp.CreatedAt, &rp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (r *repoPG) UpdateReport(ctx context.Context, rp *Report) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE reports SET test_start_date = $2, test_end_date = $3, status = $4, assigned_to = $5,
			signed_by = $6, signed_at = $7, approved_by = $8, approved_at = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		rp.ID, rp.TestStartDate, rp.TestEndDate, rp.Status, rp.AssignedTo,
		rp.SignedBy, rp.SignedAt, rp.ApprovedBy, rp.ApprovedAt,
	).Scan(&rp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &NotFoundError{Entity: "report", ID: rp.ID}
	}
	if err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	return nil
}

func (r *repoPG) InsertComment(ctx context.Context, c *Comment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO report_comments (report_id, user_id, comment, action_type)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		c.ReportID, c.UserID, c.Text, c.Action,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (r *repoPG) LoadState(ctx context.Context, reportID int64) (*State, error) {
	st := &State{}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, report_id, lab_type_id, sample_name, sample_amount, location, sample_date, sampled_by, status
		FROM samples WHERE report_id = $1 ORDER BY id`, reportID)
	if err != nil {
		return nil, fmt.Errorf("load samples: %w", err)
	}
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ID, &s.ReportID, &s.LabTypeID, &s.Name, &s.Amount, &s.Location,
			&s.SampleDate, &s.SampledBy, &s.Status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		st.Samples = append(st.Samples, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT si.id, si.sample_id, si.indicator_id, si.status
		FROM sample_indicators si JOIN samples s ON s.id = si.sample_id
		WHERE s.report_id = $1 ORDER BY si.id`, reportID)
	if err != nil {
		return nil, fmt.Errorf("load sample indicators: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var si SampleIndicator
		if err := rows.Scan(&si.ID, &si.SampleID, &si.IndicatorID, &si.Status); err != nil {
			return nil, fmt.Errorf("scan sample indicator: %w", err)
		}
		st.Indicators = append(st.Indicators, si)
	}
	return st, rows.Err()
}

// ApplyPlan writes a plan in two round trips: everything that does not depend
// on a generated sample id first, then the new assignments.
func (r *repoPG) ApplyPlan(ctx context.Context, p *Plan) error {
	b := &pgx.Batch{}
	if len(p.DeleteSamples) > 0 {
		b.Queue(`UPDATE samples SET status = 'deleted' WHERE id = ANY($1)`, p.DeleteSamples)
	}
	for _, s := range p.UpdateSamples {
		b.Queue(`
			UPDATE samples SET lab_type_id = $2, sample_name = $3, sample_amount = $4, location = $5,
				sample_date = $6, sampled_by = $7, status = $8
			WHERE id = $1`,
			s.ID, s.LabTypeID, s.Name, s.Amount, s.Location, s.SampleDate, s.SampledBy, s.Status)
	}
	if len(p.DeleteIndicators) > 0 {
		b.Queue(`UPDATE sample_indicators SET status = 'deleted' WHERE id = ANY($1)`, p.DeleteIndicators)
	}
	if len(p.RestoreIndicators) > 0 {
		b.Queue(`UPDATE sample_indicators SET status = 'pending' WHERE id = ANY($1)`, p.RestoreIndicators)
	}
	for _, ns := range p.InsertSamples {
		s := &ns.Sample
		b.Queue(`
			INSERT INTO samples (report_id, lab_type_id, sample_name, sample_amount, location, sample_date, sampled_by, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id`,
			s.ReportID, s.LabTypeID, s.Name, s.Amount, s.Location, s.SampleDate, s.SampledBy, s.Status,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&s.ID)
		})
	}
	if err := r.send(ctx, b); err != nil {
		return fmt.Errorf("apply sample changes: %w", err)
	}

	b = &pgx.Batch{}
	queue := func(si *SampleIndicator) {
		b.Queue(`
			INSERT INTO sample_indicators (sample_id, indicator_id, status)
			VALUES ($1, $2, $3)
			RETURNING id`,
			si.SampleID, si.IndicatorID, si.Status,
		).QueryRow(func(row pgx.Row) error {
			return row.Scan(&si.ID)
		})
	}
	for _, ns := range p.InsertSamples {
		for _, si := range ns.Indicators {
			si.SampleID = ns.Sample.ID
			queue(si)
		}
	}
	for _, si := range p.InsertIndicators {
		queue(si)
	}
	if err := r.send(ctx, b); err != nil {
		return fmt.Errorf("insert sample indicators: %w", err)
	}
	return nil
}

func (r *repoPG) send(ctx context.Context, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	return r.conn(ctx).SendBatch(ctx, b).Close()
}

func (r *repoPG) IndicatorRefs(ctx context.Context, ids []int64) (map[int64]IndicatorRef, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT si.id, s.report_id, (si.status <> 'deleted' AND s.status <> 'deleted')
		FROM sample_indicators si JOIN samples s ON s.id = si.sample_id
		WHERE si.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("lookup sample indicators: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]IndicatorRef, len(ids))
	for rows.Next() {
		var id int64
		var ref IndicatorRef
		if err := rows.Scan(&id, &ref.ReportID, &ref.Active); err != nil {
			return nil, err
		}
		out[id] = ref
	}
	return out, rows.Err()
}

// UpsertResults keeps one result per assignment. An update without a
// measured_at keeps the original timestamp.
func (r *repoPG) UpsertResults(ctx context.Context, items []ResultInput) error {
	b := &pgx.Batch{}
	for _, it := range items {
		b.Queue(`
			INSERT INTO test_results (sample_indicator_id, result_value, is_detected, is_within_limit, equipment_id, notes, measured_at)
			VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::timestamptz, NOW()))
			ON CONFLICT (sample_indicator_id) DO UPDATE SET
				result_value = EXCLUDED.result_value,
				is_detected = EXCLUDED.is_detected,
				is_within_limit = EXCLUDED.is_within_limit,
				equipment_id = EXCLUDED.equipment_id,
				notes = EXCLUDED.notes,
				measured_at = COALESCE($7::timestamptz, test_results.measured_at)`,
			it.SampleIndicatorID, it.Value, it.Detected, it.WithinLimit, it.EquipmentID, it.Notes, it.MeasuredAt)
	}
	if err := r.send(ctx, b); err != nil {
		return fmt.Errorf("upsert results: %w", err)
	}
	return nil
}

func (r *repoPG) CountIncomplete(ctx context.Context, reportID int64) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*)
		FROM sample_indicators si
		JOIN samples s ON s.id = si.sample_id
		LEFT JOIN test_results tr ON tr.sample_indicator_id = si.id
		WHERE s.report_id = $1
		  AND s.status <> 'deleted'
		  AND si.status <> 'deleted'
		  AND (tr.id IS NULL OR (tr.result_value IS NULL AND tr.is_detected IS NULL))`, reportID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count incomplete results: %w", err)
	}
	return n, nil
}

const summarySelect = `SELECT ` + reportCols + `,
	uc.full_name,
	COALESCE(ua.full_name, ''),
	ARRAY(SELECT DISTINCT lt.type_name FROM samples s JOIN lab_types lt ON lt.id = s.lab_type_id
		WHERE s.report_id = r.id AND s.status <> 'deleted' ORDER BY 1),
	ARRAY(SELECT DISTINCT s.sample_name FROM samples s
		WHERE s.report_id = r.id AND s.status <> 'deleted' ORDER BY 1),
	ARRAY(SELECT DISTINCT i.indicator_name FROM samples s
		JOIN sample_indicators si ON si.sample_id = s.id
		JOIN indicators i ON i.id = si.indicator_id
		WHERE s.report_id = r.id AND s.status <> 'deleted' AND si.status <> 'deleted' ORDER BY 1),
	(SELECT COUNT(*) FROM samples s WHERE s.report_id = r.id AND s.status <> 'deleted')
FROM reports r
JOIN users uc ON uc.id = r.created_by
LEFT JOIN users ua ON ua.id = r.assigned_to`

func (r *repoPG) summaries(ctx context.Context, sql string, args ...interface{}) ([]Summary, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var s Summary
		rp, err := scanReport(rows, &s.CreatedByName, &s.AssignedToName, &s.LabTypes, &s.SampleNames, &s.IndicatorNames, &s.SampleCount)
		if err != nil {
			return nil, fmt.Errorf("scan report summary: %w", err)
		}
		s.Report = *rp
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repoPG) ListReports(ctx context.Context, scope Scope, f ListFilter) ([]Summary, error) {
	var status *string
	if f.Status != nil {
		v := string(*f.Status)
		status = &v
	}
	return r.summaries(ctx, summarySelect+`
		WHERE r.status NOT IN ('deleted', 'approved')
		  AND ($1::text IS NULL OR r.status = $1)
		  AND ($2::date IS NULL OR r.test_start_date >= $2)
		  AND ($3::date IS NULL OR r.test_end_date <= $3)
		  AND ($4 OR r.created_by = $5
		       OR ($6 AND r.assigned_to = $5)
		       OR EXISTS (SELECT 1 FROM samples sc
		                  WHERE sc.report_id = r.id AND sc.status <> 'deleted' AND sc.lab_type_id = ANY($7)))
		ORDER BY r.created_at DESC, r.id DESC`,
		status, f.From, f.To, scope.All, scope.UserID, scope.IncludeAssigned, nonNil(scope.LabTypeIDs))
}

func (r *repoPG) ListArchive(ctx context.Context, q ArchiveQuery) ([]Summary, error) {
	return r.summaries(ctx, summarySelect+`
		WHERE r.status = $1
		  AND ($2::bigint IS NULL OR r.assigned_to = $2)
		ORDER BY COALESCE(r.approved_at, r.signed_at, r.updated_at) DESC, r.id DESC`,
		q.Status, q.AssignedTo)
}

func (r *repoPG) GetDetail(ctx context.Context, id int64) (*Detail, error) {
	rp, err := scanReport(r.conn(ctx).QueryRow(ctx, `SELECT `+reportCols+` FROM reports r WHERE r.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "report", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	d := &Detail{Report: *rp, Samples: []SampleDetail{}, Comments: []Comment{}}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, report_id, lab_type_id, sample_name, sample_amount, location, sample_date, sampled_by, status
		FROM samples WHERE report_id = $1 AND status <> 'deleted' ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("get samples: %w", err)
	}
	index := make(map[int64]int)
	seenLab := make(map[int64]bool)
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ID, &s.ReportID, &s.LabTypeID, &s.Name, &s.Amount, &s.Location,
			&s.SampleDate, &s.SampledBy, &s.Status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		index[s.ID] = len(d.Samples)
		d.Samples = append(d.Samples, SampleDetail{Sample: s, Indicators: []IndicatorDetail{}})
		if !seenLab[s.LabTypeID] {
			seenLab[s.LabTypeID] = true
			d.LabTypeIDs = append(d.LabTypeIDs, s.LabTypeID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT si.id, si.sample_id, si.indicator_id, si.status,
			i.id, i.indicator_name, COALESCE(i.unit, ''), COALESCE(i.test_method, ''), COALESCE(i.limit_value, ''), i.input_type,
			tr.id, tr.result_value, tr.is_detected, tr.is_within_limit, tr.equipment_id, tr.notes, tr.measured_at
		FROM sample_indicators si
		JOIN samples s ON s.id = si.sample_id
		JOIN indicators i ON i.id = si.indicator_id
		LEFT JOIN test_results tr ON tr.sample_indicator_id = si.id
		WHERE s.report_id = $1 AND s.status <> 'deleted' AND si.status <> 'deleted'
		ORDER BY si.id`, id)
	if err != nil {
		return nil, fmt.Errorf("get sample indicators: %w", err)
	}
	for rows.Next() {
		var (
			det      IndicatorDetail
			resultID *int64
			res      TestResult
		)
		if err := rows.Scan(&det.ID, &det.SampleID, &det.IndicatorID, &det.Status,
			&det.Indicator.ID, &det.Indicator.Name, &det.Indicator.Unit, &det.Indicator.TestMethod,
			&det.Indicator.LimitValue, &det.Indicator.InputType,
			&resultID, &res.Value, &res.Detected, &res.WithinLimit, &res.EquipmentID, &res.Notes, &res.MeasuredAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan sample indicator: %w", err)
		}
		if resultID != nil {
			res.ID = *resultID
			res.SampleIndicatorID = det.ID
			det.Result = &res
		}
		if i, ok := index[det.SampleID]; ok {
			d.Samples[i].Indicators = append(d.Samples[i].Indicators, det)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT c.id, c.report_id, c.user_id, COALESCE(u.full_name, ''), c.comment, c.action_type, c.created_at
		FROM report_comments c LEFT JOIN users u ON u.id = c.user_id
		WHERE c.report_id = $1
		ORDER BY c.created_at DESC, c.id DESC`, id)
	if err != nil {
		return nil, fmt.Errorf("get comments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.ReportID, &c.UserID, &c.UserName, &c.Text, &c.Action, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		d.Comments = append(d.Comments, c)
	}
	return d, rows.Err()
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
