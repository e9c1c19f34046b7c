// Package store is the persistence layer: a SQLite-backed repository
// holding the current collections, their diagnostics, rules and weights.
// Collections are replaced wholesale per upload, never merged.
package store

import (
	"context"
	"database/sql"
	"errors"

	"preflight/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ReplaceClients drops the stored client collection and writes the new
// one in file order.
func (r Repo) ReplaceClients(ctx context.Context, tx *sql.Tx, clients []domain.Client) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM clients`); err != nil {
		return err
	}
	for i, c := range clients {
		_, err := tx.ExecContext(ctx, `INSERT INTO clients(position,client_id,client_name,priority_level,requested_task_ids,group_tag,attributes_json)
VALUES (?,?,?,?,?,?,?)`,
			i, c.ClientID, c.ClientName, c.PriorityLevel, nullable(c.RequestedTaskIDs), nullable(c.GroupTag), nullable(c.AttributesJSON))
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT client_id,client_name,priority_level,
COALESCE(requested_task_ids,''),COALESCE(group_tag,''),COALESCE(attributes_json,'')
FROM clients ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ClientID, &c.ClientName, &c.PriorityLevel, &c.RequestedTaskIDs, &c.GroupTag, &c.AttributesJSON); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) ReplaceWorkers(ctx context.Context, tx *sql.Tx, workers []domain.Worker) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM workers`); err != nil {
		return err
	}
	for i, w := range workers {
		_, err := tx.ExecContext(ctx, `INSERT INTO workers(position,worker_id,worker_name,skills,available_slots,max_load_per_phase,worker_group,qualification_level)
VALUES (?,?,?,?,?,?,?,?)`,
			i, w.WorkerID, w.WorkerName, nullable(w.Skills), nullable(w.AvailableSlots), w.MaxLoadPerPhase, nullable(w.WorkerGroup), w.QualificationLevel)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListWorkers(ctx context.Context) ([]domain.Worker, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT worker_id,worker_name,COALESCE(skills,''),
COALESCE(available_slots,''),max_load_per_phase,COALESCE(worker_group,''),qualification_level
FROM workers ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Worker
	for rows.Next() {
		var w domain.Worker
		if err := rows.Scan(&w.WorkerID, &w.WorkerName, &w.Skills, &w.AvailableSlots, &w.MaxLoadPerPhase, &w.WorkerGroup, &w.QualificationLevel); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) ReplaceTasks(ctx context.Context, tx *sql.Tx, tasks []domain.Task) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return err
	}
	for i, t := range tasks {
		_, err := tx.ExecContext(ctx, `INSERT INTO tasks(position,task_id,task_name,category,duration,required_skills,preferred_phases,max_concurrent)
VALUES (?,?,?,?,?,?,?,?)`,
			i, t.TaskID, t.TaskName, nullable(t.Category), t.Duration, nullable(t.RequiredSkills), nullable(t.PreferredPhases), t.MaxConcurrent)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id,task_name,COALESCE(category,''),duration,
COALESCE(required_skills,''),COALESCE(preferred_phases,''),max_concurrent
FROM tasks ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var t domain.Task
		if err := rows.Scan(&t.TaskID, &t.TaskName, &t.Category, &t.Duration, &t.RequiredSkills, &t.PreferredPhases, &t.MaxConcurrent); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// Collections loads all three datasets.
func (r Repo) Collections(ctx context.Context) (domain.Collections, error) {
	clients, err := r.ListClients(ctx)
	if err != nil {
		return domain.Collections{}, err
	}
	workers, err := r.ListWorkers(ctx)
	if err != nil {
		return domain.Collections{}, err
	}
	tasks, err := r.ListTasks(ctx)
	if err != nil {
		return domain.Collections{}, err
	}
	return domain.Collections{Clients: clients, Workers: workers, Tasks: tasks}, nil
}

// ReplaceDiagnostics swaps the diagnostic set for one scope ("clients",
// "workers", "tasks", "cross" or "rules") without touching the others.
func (r Repo) ReplaceDiagnostics(ctx context.Context, tx *sql.Tx, scope string, diags []domain.Diagnostic) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM diagnostics WHERE scope=?`, scope); err != nil {
		return err
	}
	for i, d := range diags {
		var row any
		if d.Row != nil {
			row = *d.Row
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO diagnostics(scope,position,type,message,entity,field,severity,row_index)
VALUES (?,?,?,?,?,?,?,?)`,
			scope, i, string(d.Type), d.Message, string(d.Entity), nullable(d.Field), string(d.Severity), row)
		if err != nil {
			return err
		}
	}
	return nil
}

// ListDiagnostics returns diagnostics for one scope, or all scopes when
// scope is empty.
func (r Repo) ListDiagnostics(ctx context.Context, scope string) ([]domain.Diagnostic, error) {
	query := `SELECT type,message,entity,COALESCE(field,''),severity,row_index FROM diagnostics`
	args := []any{}
	if scope != "" {
		query += ` WHERE scope=?`
		args = append(args, scope)
	}
	query += ` ORDER BY scope ASC, position ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Diagnostic
	for rows.Next() {
		var d domain.Diagnostic
		var rowIndex sql.NullInt64
		if err := rows.Scan(&d.Type, &d.Message, &d.Entity, &d.Field, &d.Severity, &rowIndex); err != nil {
			return nil, err
		}
		if rowIndex.Valid {
			n := int(rowIndex.Int64)
			d.Row = &n
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
