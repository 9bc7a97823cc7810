package repository

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaharzep/decision-extract/internal/common"
)

// DecisionRow is one input record for an extraction job. Extra selected
// columns land in Data and become addressable from prompt templates.
type DecisionRow struct {
	DecisionID string
	Language   string
	Data       map[string]any
}

// DecisionRepository fetches the rows a job runs against.
type DecisionRepository interface {
	FetchRows(ctx context.Context, query string, args ...any) ([]DecisionRow, error)
}

type decisionRepo struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewDecisionRepository(pool *pgxpool.Pool, log *slog.Logger) DecisionRepository {
	if log == nil {
		log = slog.Default()
	}
	return &decisionRepo{pool: pool, log: log}
}

// FetchRows runs the caller-supplied query. The result set must include
// decision_id and language columns; every other column is carried into Data
// under its own name.
func (r *decisionRepo) FetchRows(ctx context.Context, query string, args ...any) ([]DecisionRow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, common.WrapError(err, "query decision rows")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	idIdx, langIdx := -1, -1
	for i, fd := range fields {
		switch fd.Name {
		case "decision_id":
			idIdx = i
		case "language":
			langIdx = i
		}
	}
	if idIdx < 0 || langIdx < 0 {
		return nil, common.NewAppError("QUERY_SHAPE",
			"job query must select decision_id and language columns", common.ErrInvalidInput)
	}

	var out []DecisionRow
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, common.WrapError(err, "scan decision row")
		}
		row := DecisionRow{Data: make(map[string]any, len(fields))}
		for i, fd := range fields {
			v := values[i]
			switch i {
			case idIdx:
				if s, ok := v.(string); ok {
					row.DecisionID = s
				}
			case langIdx:
				if s, ok := v.(string); ok {
					row.Language = s
				}
			}
			row.Data[fd.Name] = v
		}
		if row.DecisionID == "" || row.Language == "" {
			return nil, common.NewAppError("QUERY_SHAPE",
				"decision_id and language must be non-empty strings", common.ErrInvalidInput)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapError(err, "iterate decision rows")
	}

	r.log.Info("repository.rows_fetched", "count", len(out))
	return out, nil
}
