package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kemeter/ring/internal/controlplane/deployments"
)

const deploymentColumns = `id, created_at, updated_at, status, namespace, name, image, runtime, replicas, labels, secrets, instances`

type scanner interface {
	Scan(dest ...any) error
}

// Create inserts d, stamping CreatedAt and UpdatedAt.
func (s *Stores) Create(ctx context.Context, d deployments.Deployment) (deployments.Deployment, error) {
	now := s.now()
	d.CreatedAt, d.UpdatedAt = now, now
	labels, secrets, instances, err := encodeDeployment(d)
	if err != nil {
		return d, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deployment (`+deploymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, formatTime(d.CreatedAt), formatTime(d.UpdatedAt), string(d.Status), d.Namespace, d.Name,
		d.Image, d.Runtime, d.Replicas, labels, secrets, instances,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return d, fmt.Errorf("deployment %q: %w", d.ID, deployments.ErrAlreadyExists)
		}
		return d, fmt.Errorf("insert deployment: %w", err)
	}
	return d, nil
}

func (s *Stores) Find(ctx context.Context, id string) (deployments.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+deploymentColumns+` FROM deployment WHERE id = ?`, id)
	d, err := scanDeployment(row)
	if errors.Is(err, deployments.ErrNotFound) {
		return d, fmt.Errorf("deployment %q: %w", id, deployments.ErrNotFound)
	}
	return d, err
}

// FindAll returns deployments matching f ordered by creation time.
func (s *Stores) FindAll(ctx context.Context, f deployments.Filter) ([]deployments.Deployment, error) {
	var (
		where []string
		args  []any
	)
	if f.Namespace != "" {
		where = append(where, "namespace = ?")
		args = append(args, f.Namespace)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + deploymentColumns + ` FROM deployment`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []deployments.Deployment{}
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Update overwrites the mutable fields of d and stamps UpdatedAt.
func (s *Stores) Update(ctx context.Context, d deployments.Deployment) error {
	labels, secrets, instances, err := encodeDeployment(d)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE deployment
		 SET updated_at = ?, status = ?, namespace = ?, name = ?, image = ?, runtime = ?,
		     replicas = ?, labels = ?, secrets = ?, instances = ?
		 WHERE id = ?`,
		formatTime(s.now()), string(d.Status), d.Namespace, d.Name, d.Image, d.Runtime,
		d.Replicas, labels, secrets, instances, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("deployment %q: %w", d.ID, deployments.ErrNotFound)
	}
	return nil
}

// UpdateInstances writes the instance cache alone so a concurrent status or
// spec change is never overwritten.
func (s *Stores) UpdateInstances(ctx context.Context, id string, instances []string) error {
	if instances == nil {
		instances = []string{}
	}
	b, err := json.Marshal(instances)
	if err != nil {
		return fmt.Errorf("marshal instances: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE deployment SET instances = ?, updated_at = ? WHERE id = ?`,
		string(b), formatTime(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("update instances: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("deployment %q: %w", id, deployments.ErrNotFound)
	}
	return nil
}

func encodeDeployment(d deployments.Deployment) (labels, secrets, instances string, err error) {
	l := d.Labels
	if l == nil {
		l = deployments.LabelSet{}
	}
	sec := d.Secrets
	if sec == nil {
		sec = map[string]string{}
	}
	inst := d.Instances
	if inst == nil {
		inst = []string{}
	}
	lb, err := json.Marshal(l)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal labels: %w", err)
	}
	sb, err := json.Marshal(sec)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal secrets: %w", err)
	}
	ib, err := json.Marshal(inst)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal instances: %w", err)
	}
	return string(lb), string(sb), string(ib), nil
}

func scanDeployment(s scanner) (deployments.Deployment, error) {
	var (
		d                              deployments.Deployment
		created, updated, status       string
		labels, secrets, instancesJSON string
	)
	err := s.Scan(&d.ID, &created, &updated, &status, &d.Namespace, &d.Name, &d.Image, &d.Runtime,
		&d.Replicas, &labels, &secrets, &instancesJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, deployments.ErrNotFound
		}
		return d, fmt.Errorf("scan deployment: %w", err)
	}
	d.Status = deployments.Status(status)
	if d.CreatedAt, err = parseTime(created); err != nil {
		return d, fmt.Errorf("parse created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updated); err != nil {
		return d, fmt.Errorf("parse updated_at: %w", err)
	}
	if err := json.Unmarshal([]byte(labels), &d.Labels); err != nil {
		return d, fmt.Errorf("unmarshal labels: %w", err)
	}
	if err := json.Unmarshal([]byte(secrets), &d.Secrets); err != nil {
		return d, fmt.Errorf("unmarshal secrets: %w", err)
	}
	if err := json.Unmarshal([]byte(instancesJSON), &d.Instances); err != nil {
		return d, fmt.Errorf("unmarshal instances: %w", err)
	}
	return d, nil
}
