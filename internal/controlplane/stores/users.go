package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kemeter/ring/internal/controlplane/deployments"
)

const userColumns = `id, created_at, updated_at, status, username, password, token, login_at`

func (s *Stores) CreateUser(ctx context.Context, u deployments.User) (deployments.User, error) {
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, formatTime(u.CreatedAt), formatTime(u.UpdatedAt), u.Status, u.Username, u.PasswordHash, u.Token, nullTime(u),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return u, fmt.Errorf("user %q: %w", u.Username, deployments.ErrAlreadyExists)
		}
		return u, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *Stores) FindUser(ctx context.Context, id string) (deployments.User, error) {
	return s.findUser(ctx, "id = ?", id)
}

func (s *Stores) FindUserByUsername(ctx context.Context, username string) (deployments.User, error) {
	return s.findUser(ctx, "username = ?", username)
}

// FindUserByToken never matches the empty token.
func (s *Stores) FindUserByToken(ctx context.Context, token string) (deployments.User, error) {
	if token == "" {
		return deployments.User{}, fmt.Errorf("user: %w", deployments.ErrNotFound)
	}
	return s.findUser(ctx, "token = ?", token)
}

func (s *Stores) findUser(ctx context.Context, where string, arg any) (deployments.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM user WHERE `+where, arg)
	return scanUser(row)
}

func (s *Stores) FindAllUsers(ctx context.Context) ([]deployments.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM user ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []deployments.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Stores) UpdateUser(ctx context.Context, u deployments.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`UPDATE user SET updated_at = ?, status = ?, username = ?, password = ?, token = ?, login_at = ?
		 WHERE id = ?`,
		formatTime(s.now()), u.Status, u.Username, u.PasswordHash, u.Token, nullTime(u), u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q: %w", u.Username, deployments.ErrAlreadyExists)
		}
		return fmt.Errorf("update user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %q: %w", u.ID, deployments.ErrNotFound)
	}
	return nil
}

func (s *Stores) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM user WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("user %q: %w", id, deployments.ErrNotFound)
	}
	return nil
}

func nullTime(u deployments.User) sql.NullString {
	if u.LoginAt == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*u.LoginAt), Valid: true}
}

func scanUser(s scanner) (deployments.User, error) {
	var (
		u                deployments.User
		created, updated string
		loginAt          sql.NullString
	)
	err := s.Scan(&u.ID, &created, &updated, &u.Status, &u.Username, &u.PasswordHash, &u.Token, &loginAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return u, fmt.Errorf("user: %w", deployments.ErrNotFound)
		}
		return u, fmt.Errorf("scan user: %w", err)
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return u, fmt.Errorf("parse created_at: %w", err)
	}
	if u.UpdatedAt, err = parseTime(updated); err != nil {
		return u, fmt.Errorf("parse updated_at: %w", err)
	}
	if loginAt.Valid {
		t, err := parseTime(loginAt.String)
		if err != nil {
			return u, fmt.Errorf("parse login_at: %w", err)
		}
		u.LoginAt = &t
	}
	return u, nil
}
