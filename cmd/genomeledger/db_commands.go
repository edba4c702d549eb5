package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/seqmarket/genomeledger/service/db"
	"github.com/seqmarket/genomeledger/service/ledger"
	"github.com/urfave/cli/v2"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the database schema",
		Action: func(c *cli.Context) error {
			pool, closer, err := getPool(c)
			if err != nil {
				return err
			}
			defer closer()

			if err := db.Migrate(context.Background(), pool); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println("schema applied")
			return nil
		},
	}
}

func listGenomesCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-genomes",
		Usage:   "List registered genome records",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "owner",
				Aliases: []string{"o"},
				Usage:   "Filter by owner public key",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of records",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			genomes, err := store.ListGenomes(context.Background(), db.ListGenomesParams{
				Owner: c.String("owner"),
				Limit: int32(c.Int("limit")),
			})
			if err != nil {
				return fmt.Errorf("failed to list genomes: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(genomes)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOWNER\tSTORAGE\tDELETED\tCREATED")
			for _, g := range genomes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
					g.ID,
					g.Owner,
					g.StorageID,
					g.Deleted,
					g.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d genomes\n", len(genomes))
			return nil
		},
	}
}

func getGenomeCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-genome",
		Usage:     "Get genome record details",
		Aliases:   []string{"get"},
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: genome id")
			}

			id := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			genome, err := store.GetGenome(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to get genome: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(genome)
			}

			// Pretty output
			fmt.Printf("ID:         %s\n", genome.ID)
			fmt.Printf("Owner:      %s\n", genome.Owner)
			fmt.Printf("Storage:    %s\n", genome.StorageID)
			fmt.Printf("Metadata:   %s\n", genome.Metadata)
			fmt.Printf("Deleted:    %t\n", genome.Deleted)
			fmt.Printf("Created:    %s\n", genome.CreatedAt.Format(time.RFC3339))

			return nil
		},
	}
}

func listTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transactions",
		Usage:   "List transfer offers",
		Aliases: []string{"txs"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "genome",
				Aliases: []string{"g"},
				Usage:   "Filter by genome id",
			},
			&cli.StringFlag{
				Name:  "seller",
				Usage: "Filter by seller public key",
			},
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (created, executed, cancelled)",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of transactions",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			status := ledger.Status(c.String("status"))
			if status != "" && !status.Valid() {
				return fmt.Errorf("invalid status %q", status)
			}

			transactions, err := store.ListTransactions(context.Background(), db.ListTransactionsParams{
				GenomeID: c.String("genome"),
				Seller:   c.String("seller"),
				Status:   status,
				Limit:    int32(c.Int("limit")),
			})
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(transactions)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tGENOME\tSTATUS\tPRICE\tSELLER\tBUYER\tCREATED")
			for _, t := range transactions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					t.ID,
					t.GenomeID,
					t.Status,
					t.Price,
					t.Seller,
					formatOptionalKey(t.Buyer),
					t.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transactions\n", len(transactions))
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	pool, closer, err := getPool(c)
	if err != nil {
		return nil, nil, err
	}

	// The CLI only reads; the policy never applies.
	store := db.NewStore(pool, ledger.DefaultPolicy())
	return store, closer, nil
}

func getPool(c *cli.Context) (*pgxpool.Pool, func(), error) {
	// Try to get from parent context first (for global flags)
	dbURL := c.String("database-url")
	if dbURL == "" && c.App != nil {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, func() { pool.Close() }, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Helper function to format an optional public key
func formatOptionalKey(key *string) string {
	if key != nil && *key != "" {
		return *key
	}
	return "-"
}
