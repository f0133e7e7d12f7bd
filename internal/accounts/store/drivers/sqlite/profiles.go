package sqlite

import (
	"context"
	"time"

	"github.com/meadowbrook/clinisec/internal/accounts/domain"
)

type profilesRepo struct {
	db dbtx
}

const profileColumns = `id, account_id, full_name, phone, address, created_at, updated_at`

func (r *profilesRepo) GetByID(ctx context.Context, id string) (domain.Profile, error) {
	var p domain.Profile
	err := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.AccountID, &p.FullName, &p.Phone, &p.Address, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Profile{}, mapNotFound(err)
	}
	return p, nil
}

func (r *profilesRepo) GetByAccountID(ctx context.Context, accountID string) (domain.Profile, error) {
	var p domain.Profile
	err := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE account_id = ?`, accountID).
		Scan(&p.ID, &p.AccountID, &p.FullName, &p.Phone, &p.Address, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Profile{}, mapNotFound(err)
	}
	return p, nil
}

func (r *profilesRepo) Create(ctx context.Context, p domain.Profile) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (id, account_id, full_name, phone, address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AccountID, p.FullName, p.Phone, p.Address, now, now,
	)
	return mapConstraint(err)
}
