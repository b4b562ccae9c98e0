package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/monopilot/monopilot/internal/config"
	"github.com/monopilot/monopilot/internal/server"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/monopilot/monopilot/modules/warehouse/services"
	"github.com/monopilot/monopilot/pkg/httperr"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const seedActor = "dbtool"

type seedFile struct {
	Version int          `yaml:"version"`
	Tenants []seedTenant `yaml:"tenants"`
}

type seedTenant struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Domains   []string       `yaml:"domains"`
	Products  []seedProduct  `yaml:"products"`
	Locations []seedLocation `yaml:"locations"`
}

type seedProduct struct {
	Code       string `yaml:"code"`
	Name       string `yaml:"name"`
	DefaultUoM string `yaml:"default_uom"`
}

type seedLocation struct {
	WarehouseID string `yaml:"warehouse_id"`
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
}

func loadSeedFile(path string) (seedFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return seedFile{}, err
	}
	var s seedFile
	if err := yaml.Unmarshal(b, &s); err != nil {
		return seedFile{}, fmt.Errorf("seed: %w", err)
	}
	if s.Version != 1 {
		return seedFile{}, fmt.Errorf("seed: unsupported version %d", s.Version)
	}
	seen := map[string]bool{}
	for i, t := range s.Tenants {
		if _, err := uuid.Parse(t.ID); err != nil {
			return seedFile{}, fmt.Errorf("seed: tenants[%d]: invalid id %q", i, t.ID)
		}
		if strings.TrimSpace(t.Name) == "" {
			return seedFile{}, fmt.Errorf("seed: tenants[%d]: name is required", i)
		}
		for j, d := range t.Domains {
			d = strings.ToLower(strings.TrimSpace(d))
			if d == "" {
				return seedFile{}, fmt.Errorf("seed: tenants[%d].domains[%d]: empty hostname", i, j)
			}
			if seen[d] {
				return seedFile{}, fmt.Errorf("seed: duplicate domain %q", d)
			}
			seen[d] = true
			s.Tenants[i].Domains[j] = d
		}
	}
	return s, nil
}

func newSeedCmd(f *rootFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load tenants and warehouse catalog rows from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			seed, err := loadSeedFile(file)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			stores, err := server.OpenStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			var tenants tenantWriter
			if cfg.StoreDriver == config.DriverPostgres {
				conn, err := pgx.Connect(ctx, cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer conn.Close(context.Background())
				tenants = pgTenantWriter{conn: conn}
			}
			return applySeed(ctx, cmd.OutOrStdout(), stores, tenants, seed)
		},
	}
	cmd.Flags().StringVar(&file, "file", "config/seed/dev.yaml", "seed file")
	return cmd
}

type tenantWriter interface {
	UpsertTenant(ctx context.Context, t seedTenant) error
}

type pgTenantWriter struct {
	conn *pgx.Conn
}

func (w pgTenantWriter) UpsertTenant(ctx context.Context, t seedTenant) error {
	tx, err := w.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
INSERT INTO public.tenants (id, name) VALUES ($1, $2)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, is_active = true;`, t.ID, t.Name); err != nil {
		return err
	}
	for _, d := range t.Domains {
		if _, err := tx.Exec(ctx, `
INSERT INTO public.tenant_domains (hostname, tenant_id) VALUES ($1, $2)
ON CONFLICT (hostname) DO UPDATE SET tenant_id = EXCLUDED.tenant_id;`, d, t.ID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// applySeed is idempotent: catalog rows that already exist are skipped.
func applySeed(ctx context.Context, out io.Writer, stores *server.Stores, tenants tenantWriter, seed seedFile) error {
	rules, err := services.NewQAWarningRules()
	if err != nil {
		return err
	}
	catalog := services.NewLicensePlates(stores.Warehouse, rules)

	for _, t := range seed.Tenants {
		if tenants != nil {
			if err := tenants.UpsertTenant(ctx, t); err != nil {
				return fmt.Errorf("seed: tenant %s: %w", t.ID, err)
			}
		}
		var created, skipped int
		for _, p := range t.Products {
			_, err := catalog.CreateProduct(ctx, t.ID, types.Product{Code: p.Code, Name: p.Name, DefaultUoM: p.DefaultUoM})
			switch {
			case err == nil:
				created++
			case httperr.HasCode(err, httperr.CodeConflict):
				skipped++
			default:
				return fmt.Errorf("seed: tenant %s product %s: %w", t.ID, p.Code, err)
			}
		}
		for _, l := range t.Locations {
			_, err := catalog.CreateLocation(ctx, t.ID, types.Location{WarehouseID: l.WarehouseID, Code: l.Code, Name: l.Name})
			switch {
			case err == nil:
				created++
			case httperr.HasCode(err, httperr.CodeConflict):
				skipped++
			default:
				return fmt.Errorf("seed: tenant %s location %s: %w", t.ID, l.Code, err)
			}
		}
		_, _ = fmt.Fprintf(out, "[seed] tenant %s (%s): created=%d skipped=%d\n", t.ID, t.Name, created, skipped)
	}
	return nil
}
