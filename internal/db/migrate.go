package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

// Extension and schema must exist before gorm can create vector columns;
// HNSW indexes need the tables.

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

type migrationStep struct {
	name string
	run  func(ctx context.Context) error
}

func (p *Pool) migrationSteps() []migrationStep {
	return []migrationStep{
		{name: "pre-auto-migrate", run: func(ctx context.Context) error {
			return p.execMigrationSQL(ctx, preAutoMigrateSQL)
		}},
		{name: "auto-migrate content models", run: func(ctx context.Context) error {
			return p.gdb.WithContext(ctx).AutoMigrate(autoMigrateModels()...)
		}},
		{name: "post-auto-migrate", run: func(ctx context.Context) error {
			return p.execMigrationSQL(ctx, postAutoMigrateSQL)
		}},
	}
}

func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	for _, step := range p.migrationSteps() {
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

func (p *Pool) execMigrationSQL(ctx context.Context, sqlText string) error {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return nil
	}
	return p.gdb.WithContext(ctx).Exec(trimmed).Error
}
