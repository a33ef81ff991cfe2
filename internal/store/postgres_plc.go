package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/c00lpeace/project-template-final/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// --- API Keys ---

func (q *queries) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (q *queries) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (q *queries) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- PLC master data ---

func (q *queries) GetPLC(ctx context.Context, id string) (*models.PLC, error) {
	var p models.PLC
	err := q.db.QueryRow(ctx,
		`SELECT c.id, c.plc_id, c.plc_name, pm.plant_name, pr.process_name, lm.line_name,
		   eg.equipment_group_name, c.unit, c.program_id, c.previous_program_id, c.is_active,
		   c.create_dt, c.create_user, c.update_dt
		 FROM plc c
		 LEFT JOIN plant_master pm ON pm.plant_id = c.plant_id_current
		 LEFT JOIN process_master pr ON pr.process_id = c.process_id_current
		 LEFT JOIN line_master lm ON lm.line_id = c.line_id_current
		 LEFT JOIN equipment_group_master eg ON eg.equipment_group_id = c.equipment_group_id_current
		 WHERE c.id = $1`, id,
	).Scan(&p.ID, &p.PLCID, &p.PLCName, &p.Plant, &p.Process, &p.Line,
		&p.EquipmentGroup, &p.Unit, &p.ProgramID, &p.PreviousProgramID, &p.IsActive,
		&p.CreateDT, &p.CreateUser, &p.UpdateDT)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plc: %w", err)
	}
	return &p, nil
}

// GetProgramIDByPLC returns the program mapped to an active PLC, or "" when
// the PLC has none.
func (q *queries) GetProgramIDByPLC(ctx context.Context, plcID string) (string, error) {
	var programID *string
	err := q.db.QueryRow(ctx,
		`SELECT program_id FROM plc WHERE plc_id = $1 AND is_active`, plcID).Scan(&programID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get program id by plc: %w", err)
	}
	if programID == nil {
		return "", nil
	}
	return *programID, nil
}

func (q *queries) ListPLCTreeRows(ctx context.Context) ([]models.PLCTreeRow, error) {
	rows, err := q.db.Query(ctx,
		`SELECT pm.plant_name, pr.process_name, lm.line_name, eg.equipment_group_name, c.unit,
		   c.plc_id, c.create_dt, c.create_user
		 FROM plc c
		 LEFT JOIN plant_master pm ON pm.plant_id = c.plant_id_current
		 LEFT JOIN process_master pr ON pr.process_id = c.process_id_current
		 LEFT JOIN line_master lm ON lm.line_id = c.line_id_current
		 LEFT JOIN equipment_group_master eg ON eg.equipment_group_id = c.equipment_group_id_current
		 WHERE c.is_active
		 ORDER BY pm.display_order NULLS LAST, pr.display_order NULLS LAST, lm.display_order NULLS LAST,
		   eg.display_order NULLS LAST, c.unit NULLS LAST, c.plc_id`)
	if err != nil {
		return nil, fmt.Errorf("list plc tree rows: %w", err)
	}
	defer rows.Close()

	result := []models.PLCTreeRow{}
	for rows.Next() {
		var r models.PLCTreeRow
		if err := rows.Scan(&r.PlantName, &r.ProcessName, &r.LineName, &r.EqGrpName, &r.Unit,
			&r.PLCID, &r.CreateDT, &r.CreateUser); err != nil {
			return nil, fmt.Errorf("scan plc tree row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
