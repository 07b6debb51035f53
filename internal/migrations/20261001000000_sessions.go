package migrations

import (
	"context"
	"fmt"

	"github.com/terraconstructs/authgate/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20261001000000, down_20261001000000)
}

// up_20261001000000 creates the sessions table
func up_20261001000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating sessions table...")

	_, err := db.NewCreateTable().
		Model((*models.Session)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_username ON sessions(username)`)
	if err != nil {
		return fmt.Errorf("failed to create sessions username index: %w", err)
	}

	// Sweeper deletes by expiry
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`)
	if err != nil {
		return fmt.Errorf("failed to create sessions expires_at index: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20261001000000 drops the sessions table
func down_20261001000000(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping sessions table...")

	_, err := db.NewDropTable().
		Model((*models.Session)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop sessions table: %w", err)
	}
	fmt.Println(" OK")

	return nil
}
