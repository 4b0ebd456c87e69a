package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"authhub/internal/apperr"
	"authhub/internal/endpoints"
)

// EndpointStore implements endpoints.Store. Requirement lists are stored as
// jsonb arrays; a partial unique index keeps active triples unique.
type EndpointStore struct {
	db *sql.DB
}

var _ endpoints.Store = (*EndpointStore)(nil)

const endpointColumns = `id, service_name, path, method, description, is_public,
	required_permissions, required_roles, version, created_at, updated_at, deleted_at`

func scanEndpoint(row rowScanner) (endpoints.Endpoint, error) {
	var (
		e                 endpoints.Endpoint
		rawPerms, rawRole []byte
		deleted           sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.ServiceName, &e.Path, &e.Method, &e.Description, &e.IsPublic,
		&rawPerms, &rawRole, &e.Version, &e.CreatedAt, &e.UpdatedAt, &deleted); err != nil {
		return endpoints.Endpoint{}, err
	}
	if err := decodeList(rawPerms, &e.RequiredPermissions); err != nil {
		return endpoints.Endpoint{}, fmt.Errorf("decode required_permissions: %w", err)
	}
	if err := decodeList(rawRole, &e.RequiredRoles); err != nil {
		return endpoints.Endpoint{}, fmt.Errorf("decode required_roles: %w", err)
	}
	if deleted.Valid {
		t := deleted.Time
		e.DeletedAt = &t
	}
	return e, nil
}

func decodeList(raw []byte, dst *[]string) error {
	*dst = []string{}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func encodeList(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	return json.Marshal(values)
}

func (s *EndpointStore) Insert(ctx context.Context, e endpoints.Endpoint) error {
	perms, err := encodeList(e.RequiredPermissions)
	if err != nil {
		return err
	}
	roles, err := encodeList(e.RequiredRoles)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into endpoint_permissions (id, service_name, path, method, description, is_public,
			required_permissions, required_roles, version, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.ServiceName, e.Path, e.Method, e.Description, e.IsPublic, perms, roles, e.Version, e.CreatedAt, e.UpdatedAt)
	if isUniqueViolation(err) {
		return apperr.Errorf(apperr.DuplicateEndpoint,
			"endpoint %s %s on %s already registered", e.Method, e.Path, e.ServiceName)
	}
	return err
}

func (s *EndpointStore) Find(ctx context.Context, id string) (endpoints.Endpoint, error) {
	e, err := scanEndpoint(s.db.QueryRowContext(ctx, `
		select `+endpointColumns+` from endpoint_permissions
		where id = $1 and deleted_at is null
	`, id))
	if err != nil {
		return endpoints.Endpoint{}, noRows(err, fmt.Sprintf("endpoint %s not found", id))
	}
	return e, nil
}

func (s *EndpointStore) FindActive(ctx context.Context, service, path, method string) (endpoints.Endpoint, error) {
	e, err := scanEndpoint(s.db.QueryRowContext(ctx, `
		select `+endpointColumns+` from endpoint_permissions
		where service_name = $1 and path = $2 and method = $3 and deleted_at is null
	`, service, path, method))
	if err != nil {
		return endpoints.Endpoint{}, noRows(err, fmt.Sprintf("endpoint %s %s on %s not found", method, path, service))
	}
	return e, nil
}

func (s *EndpointStore) Update(ctx context.Context, e endpoints.Endpoint) error {
	perms, err := encodeList(e.RequiredPermissions)
	if err != nil {
		return err
	}
	roles, err := encodeList(e.RequiredRoles)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update endpoint_permissions
		set description = $2, is_public = $3, required_permissions = $4, required_roles = $5,
			version = $6, updated_at = $7
		where id = $1 and deleted_at is null
	`, e.ID, e.Description, e.IsPublic, perms, roles, e.Version, e.UpdatedAt)
	if err != nil {
		return err
	}
	return affected(res, fmt.Sprintf("endpoint %s not found", e.ID))
}

func (s *EndpointStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update endpoint_permissions set deleted_at = $2, updated_at = $2
		where id = $1 and deleted_at is null
	`, id, at)
	if err != nil {
		return err
	}
	return affected(res, fmt.Sprintf("endpoint %s not found", id))
}

func (s *EndpointStore) ListActive(ctx context.Context, service, method string) ([]endpoints.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+endpointColumns+` from endpoint_permissions
		where deleted_at is null
		  and ($1 = '' or service_name = $1)
		  and ($2 = '' or method = $2)
		order by id
	`, service, method)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]endpoints.Endpoint, 0)
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
