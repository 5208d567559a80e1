package main

import (
	"fmt"
	"os"
	"time"

	"essay-grader/internal/database"
	"essay-grader/internal/services"

	"github.com/spf13/cobra"
)

func postgresDSN(flag string) (string, error) {
	dsn := flag
	if dsn == "" {
		dsn = os.Getenv("POSTGRES_DSN")
	}
	if dsn == "" || dsn == database.MemoryDSN {
		return "", fmt.Errorf("a PostgreSQL DSN is required (--postgres-dsn or POSTGRES_DSN)")
	}
	return dsn, nil
}

func newCodesCmd() *cobra.Command {
	var (
		dsn        string
		count      int
		points     int
		expireDays int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "codes",
		Short: "Generate beta redeem codes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := postgresDSN(dsn)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pool, err := database.NewPool(ctx, dsn)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := services.NewPointsService(database.NewAccountStore(pool))
			codes, expireAt, err := svc.GenerateBetaCodes(ctx, count, points, expireDays)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(map[string]interface{}{"count": len(codes), "expireAt": expireAt, "codes": codes})
			}
			for _, code := range codes {
				fmt.Println(code)
			}
			fmt.Fprintf(os.Stderr, "%d codes, expire %s\n", len(codes), expireAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "postgres-dsn", "", "PostgreSQL DSN (defaults to POSTGRES_DSN)")
	cmd.Flags().IntVar(&count, "count", 10, "number of codes (1-200)")
	cmd.Flags().IntVar(&points, "points", 100, "points per code")
	cmd.Flags().IntVar(&expireDays, "expire-days", 0, "days until expiry (default 30)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of one code per line")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the accounts schema to PostgreSQL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsn, err := postgresDSN(dsn)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			pool, err := database.NewPool(ctx, dsn)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := database.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Println("migrations complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "postgres-dsn", "", "PostgreSQL DSN (defaults to POSTGRES_DSN)")
	return cmd
}
