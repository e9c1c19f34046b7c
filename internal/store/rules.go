package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"preflight/internal/domain"
)

// ReplaceRules swaps the stored rule list.
func (r Repo) ReplaceRules(ctx context.Context, tx *sql.Tx, rules []domain.Rule) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM rules`); err != nil {
		return err
	}
	for i, rule := range rules {
		var params any
		if p := rule.Params(); p != nil {
			raw, err := json.Marshal(p)
			if err != nil {
				return err
			}
			params = string(raw)
		}
		var priority any
		if rule.Priority != nil {
			priority = *rule.Priority
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO rules(id,type,name,description,priority,params_json,position)
VALUES (?,?,?,?,?,?,?)`,
			rule.ID, string(rule.Type), rule.Name, nullable(rule.Description), priority, params, i)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListRules(ctx context.Context) ([]domain.Rule, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,type,name,COALESCE(description,''),priority,COALESCE(params_json,'')
FROM rules ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Rule
	for rows.Next() {
		var (
			rule     domain.Rule
			priority sql.NullInt64
			params   string
		)
		if err := rows.Scan(&rule.ID, &rule.Type, &rule.Name, &rule.Description, &priority, &params); err != nil {
			return nil, err
		}
		if priority.Valid {
			p := int(priority.Int64)
			rule.Priority = &p
		}
		if params != "" {
			// round-trip through the union's own decoder
			raw, err := json.Marshal(struct {
				ID     string          `json:"id"`
				Type   domain.RuleType `json:"type"`
				Name   string          `json:"name"`
				Params json.RawMessage `json:"params"`
			}{rule.ID, rule.Type, rule.Name, json.RawMessage(params)})
			if err != nil {
				return nil, err
			}
			decoded := domain.Rule{}
			if err := json.Unmarshal(raw, &decoded); err != nil {
				return nil, err
			}
			decoded.Description = rule.Description
			decoded.Priority = rule.Priority
			rule = decoded
		}
		res = append(res, rule)
	}
	return res, rows.Err()
}

// UpsertWeights replaces the stored weight mapping.
func (r Repo) UpsertWeights(ctx context.Context, tx *sql.Tx, w domain.Weights) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM weights`); err != nil {
		return err
	}
	for name, weight := range w {
		if _, err := tx.ExecContext(ctx, `INSERT INTO weights(name,weight) VALUES (?,?)`, name, weight); err != nil {
			return err
		}
	}
	return nil
}

// GetWeights returns the stored mapping; ErrNotFound when none is set.
func (r Repo) GetWeights(ctx context.Context) (domain.Weights, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name,weight FROM weights`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	w := domain.Weights{}
	for rows.Next() {
		var name string
		var weight float64
		if err := rows.Scan(&name, &weight); err != nil {
			return nil, err
		}
		w[name] = weight
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(w) == 0 {
		return nil, ErrNotFound
	}
	return w, nil
}
