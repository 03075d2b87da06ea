// Package repositories holds the PostgreSQL-backed stores of NaturaCheck.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/turtacn/NaturaCheck/internal/domain/eligibility"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/database/postgres"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/pkg/errors"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// VerdictRecord is a stored verdict with its bookkeeping columns.
type VerdictRecord struct {
	Verdict     *eligibility.CaseVerdict `json:"verdict"`
	Fingerprint string                   `json:"fingerprint"`
	Revision    int                      `json:"revision"`
	EvaluatedAt time.Time                `json:"evaluated_at"`
}

// VerdictFilter narrows List. Zero fields do not filter.
type VerdictFilter struct {
	Track       string
	Eligibility eligibility.Eligibility
	Limit       int
	Offset      int
}

// VerdictRepository persists the latest verdict per case plus a revision
// history.
type VerdictRepository struct {
	conn *postgres.Connection
	log  logging.Logger
}

// NewVerdictRepository creates a repository over conn.
func NewVerdictRepository(conn *postgres.Connection, log logging.Logger) *VerdictRepository {
	return &VerdictRepository{conn: conn, log: logging.OrNop(log)}
}

const upsertVerdictSQL = `
	INSERT INTO case_verdicts (
		case_id, track, eligibility, completeness, justification_source,
		missing_documents, weak_evidence, catalog_version, fingerprint, verdict, evaluated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	ON CONFLICT (case_id) DO UPDATE SET
		track = EXCLUDED.track,
		eligibility = EXCLUDED.eligibility,
		completeness = EXCLUDED.completeness,
		justification_source = EXCLUDED.justification_source,
		missing_documents = EXCLUDED.missing_documents,
		weak_evidence = EXCLUDED.weak_evidence,
		catalog_version = EXCLUDED.catalog_version,
		fingerprint = EXCLUDED.fingerprint,
		verdict = EXCLUDED.verdict,
		evaluated_at = NOW(),
		revision = case_verdicts.revision + 1
	RETURNING revision, evaluated_at`

const insertHistorySQL = `
	INSERT INTO case_verdict_history (case_id, revision, eligibility, fingerprint, verdict, evaluated_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

// Save upserts v and appends it to the history in one transaction.
func (r *VerdictRepository) Save(ctx context.Context, v *eligibility.CaseVerdict, fingerprint string) (*VerdictRecord, error) {
	if v == nil || v.CaseID == "" {
		return nil, errors.New(errors.ErrCodeCaseInvalid, "verdict without case id")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode verdict")
	}

	tx, err := r.conn.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to begin transaction")
	}

	rec := &VerdictRecord{Verdict: v, Fingerprint: fingerprint}
	err = tx.QueryRowContext(ctx, upsertVerdictSQL,
		v.CaseID, v.Track, string(v.Eligibility), v.CompletenessPercentage, string(v.JustificationSource),
		pq.Array(v.MissingDocuments), v.WeakEvidence, v.CatalogVersion, fingerprint, payload,
	).Scan(&rec.Revision, &rec.EvaluatedAt)
	if err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to upsert verdict")
	}

	if _, err := tx.ExecContext(ctx, insertHistorySQL,
		v.CaseID, rec.Revision, string(v.Eligibility), fingerprint, payload, rec.EvaluatedAt,
	); err != nil {
		_ = tx.Rollback()
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to append verdict history")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to commit transaction")
	}

	r.log.Debug("verdict stored",
		logging.CaseID(v.CaseID),
		logging.Eligibility(string(v.Eligibility)),
		logging.Int("revision", rec.Revision),
	)
	return rec, nil
}

// Get returns the latest verdict of caseID.
func (r *VerdictRepository) Get(ctx context.Context, caseID string) (*VerdictRecord, error) {
	row := r.conn.DB().QueryRowContext(ctx,
		`SELECT verdict, fingerprint, revision, evaluated_at FROM case_verdicts WHERE case_id = $1`, caseID)
	rec, err := scanRecord(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.New(errors.ErrCodeVerdictNotFound, "verdict not found").WithDetail(caseID)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// History returns up to limit revisions of caseID, newest first.
func (r *VerdictRepository) History(ctx context.Context, caseID string, limit int) ([]VerdictRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.conn.DB().QueryContext(ctx,
		`SELECT verdict, fingerprint, revision, evaluated_at FROM case_verdict_history
		 WHERE case_id = $1 ORDER BY revision DESC LIMIT $2`, caseID, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query verdict history")
	}
	return collect(rows)
}

// List returns the latest verdicts matching f, most recent first.
func (r *VerdictRepository) List(ctx context.Context, f VerdictFilter) ([]VerdictRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Track != "" {
		args = append(args, f.Track)
		where = append(where, "track = $"+strconv.Itoa(len(args)))
	}
	if f.Eligibility != "" {
		args = append(args, string(f.Eligibility))
		where = append(where, "eligibility = $"+strconv.Itoa(len(args)))
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}

	var sb strings.Builder
	sb.WriteString(`SELECT verdict, fingerprint, revision, evaluated_at FROM case_verdicts`)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, f.Limit)
	sb.WriteString(" ORDER BY evaluated_at DESC LIMIT $" + strconv.Itoa(len(args)))
	args = append(args, f.Offset)
	sb.WriteString(" OFFSET $" + strconv.Itoa(len(args)))

	rows, err := r.conn.DB().QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list verdicts")
	}
	return collect(rows)
}

// CountByEligibility tallies the latest verdicts per outcome.
func (r *VerdictRepository) CountByEligibility(ctx context.Context) (map[eligibility.Eligibility]int, error) {
	rows, err := r.conn.DB().QueryContext(ctx,
		`SELECT eligibility, COUNT(*) FROM case_verdicts GROUP BY eligibility`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count verdicts")
	}
	defer rows.Close()

	out := make(map[eligibility.Eligibility]int)
	for rows.Next() {
		var (
			e string
			n int
		)
		if err := rows.Scan(&e, &n); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan verdict count")
		}
		out[eligibility.Eligibility(e)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate verdict counts")
	}
	return out, nil
}

func scanRecord(s scanner) (*VerdictRecord, error) {
	var (
		payload []byte
		rec     VerdictRecord
	)
	if err := s.Scan(&payload, &rec.Fingerprint, &rec.Revision, &rec.EvaluatedAt); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan verdict")
	}
	var v eligibility.CaseVerdict
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode stored verdict")
	}
	rec.Verdict = &v
	return &rec, nil
}

func collect(rows *sql.Rows) ([]VerdictRecord, error) {
	defer rows.Close()
	out := []VerdictRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate verdicts")
	}
	return out, nil
}
