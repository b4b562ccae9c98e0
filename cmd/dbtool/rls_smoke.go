package main

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spf13/cobra"
)

var tenantTables = []string{
	"warehouse.products",
	"warehouse.locations",
	"warehouse.lp_counters",
	"warehouse.license_plates",
	"warehouse.genealogy_edges",
	"warehouse.settings",
	"production.work_orders",
	"production.operations",
	"production.operation_logs",
	"production.settings",
}

func newRLSSmokeCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rls-smoke",
		Short: "Check that tenant isolation fails closed on postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			conn, err := pgx.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer conn.Close(context.Background())

			if err := rlsSmoke(ctx, conn); err != nil {
				return fmt.Errorf("[rls-smoke] %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "[rls-smoke] OK")
			return nil
		},
	}
}

func rlsSmoke(ctx context.Context, conn *pgx.Conn) error {
	_ = tryEnsureRole(ctx, conn, "app_nobypassrls")

	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	_ = trySetRole(ctx, tx, "app_nobypassrls")
	for _, stmt := range []string{
		`CREATE TEMP TABLE rls_smoke (tenant_id uuid NOT NULL, val text NOT NULL);`,
		`ALTER TABLE rls_smoke ENABLE ROW LEVEL SECURITY;`,
		`ALTER TABLE rls_smoke FORCE ROW LEVEL SECURITY;`,
		`CREATE POLICY tenant_isolation ON rls_smoke
USING (tenant_id = public.current_tenant_id())
WITH CHECK (tenant_id = public.current_tenant_id());`,
	} {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	if err := expectFailure(ctx, tx, "sp_failclosed", `SELECT count(*) FROM rls_smoke;`, tenantContextMissing); err != nil {
		return fmt.Errorf("expected fail-closed error when app.current_tenant is missing: %w", err)
	}
	for _, table := range tenantTables {
		if !validSQLIdent(table) {
			return fmt.Errorf("invalid table name: %s", table)
		}
		if err := expectFailure(ctx, tx, "sp_table", `SELECT count(*) FROM `+table+`;`, tenantContextMissing); err != nil {
			return fmt.Errorf("%s: expected fail-closed error without tenant: %w", table, err)
		}
	}

	tenantA := "00000000-0000-0000-0000-00000000000a"
	tenantB := "00000000-0000-0000-0000-00000000000b"
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantA); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO rls_smoke (tenant_id, val) VALUES ($1, 'a');`, tenantA); err != nil {
		return err
	}
	if err := expectFailure(ctx, tx, "sp_cross_insert", `INSERT INTO rls_smoke (tenant_id, val) VALUES ('`+tenantB+`', 'b');`, ""); err != nil {
		return fmt.Errorf("expected RLS rejection on cross-tenant insert: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM rls_smoke;`).Scan(&count); err != nil {
		return err
	}
	if count != 1 {
		return fmt.Errorf("expected count=1 under tenant A, got %d", count)
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantB); err != nil {
		return err
	}
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM rls_smoke;`).Scan(&count); err != nil {
		return err
	}
	if count != 0 {
		return fmt.Errorf("expected count=0 under tenant B, got %d", count)
	}
	return nil
}

const tenantContextMissing = "RLS_TENANT_CONTEXT_MISSING"

var errNoFailure = errors.New("statement succeeded")

// expectFailure runs stmt inside a savepoint and reports errNoFailure when it
// does not error. A non-empty wantMsg must match the postgres error message.
func expectFailure(ctx context.Context, tx pgx.Tx, savepoint string, stmt string, wantMsg string) error {
	if _, err := tx.Exec(ctx, `SAVEPOINT `+savepoint+`;`); err != nil {
		return err
	}
	_, execErr := tx.Exec(ctx, stmt)
	if _, err := tx.Exec(ctx, `ROLLBACK TO SAVEPOINT `+savepoint+`;`); err != nil {
		return err
	}
	if execErr == nil {
		return errNoFailure
	}
	if wantMsg == "" {
		return nil
	}
	if msg, ok := pgErrorMessage(execErr); !ok || msg != wantMsg {
		return execErr
	}
	return nil
}

func pgErrorMessage(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	return pgErr.Message, true
}

func tryEnsureRole(ctx context.Context, conn *pgx.Conn, role string) error {
	if !validSQLIdent(role) {
		return fmt.Errorf("invalid role: %s", role)
	}

	stmt := fmt.Sprintf(`DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%s') THEN
    EXECUTE 'CREATE ROLE %s NOBYPASSRLS';
  END IF;
END
$$;`, role, role)
	if _, err := conn.Exec(ctx, stmt); err != nil {
		return err
	}
	for _, schema := range []string{"public", "warehouse", "production"} {
		_, _ = conn.Exec(ctx, `GRANT USAGE ON SCHEMA `+schema+` TO `+role+`;`)
		_, _ = conn.Exec(ctx, `GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA `+schema+` TO `+role+`;`)
		_, _ = conn.Exec(ctx, `GRANT EXECUTE ON ALL FUNCTIONS IN SCHEMA `+schema+` TO `+role+`;`)
	}
	return nil
}

func trySetRole(ctx context.Context, tx pgx.Tx, role string) bool {
	if _, err := tx.Exec(ctx, `SET ROLE `+role+`;`); err != nil {
		return false
	}
	return true
}

var reSQLIdent = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

func validSQLIdent(s string) bool {
	return reSQLIdent.MatchString(s)
}
