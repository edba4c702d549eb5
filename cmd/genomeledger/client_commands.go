package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/seqmarket/genomeledger/client"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the genomeledger service",
		Subcommands: []*cli.Command{
			registerGenomeCommand(),
			deleteGenomeCommand(),
			genomesCommand(),
			sellCommand(),
			buyCommand(),
			cancelCommand(),
			transactionsCommand(),
		},
	}
}

// getClient builds an API client from the global server-url flag.
func getClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func registerGenomeCommand() *cli.Command {
	return &cli.Command{
		Name:      "register-genome",
		Usage:     "Register a new genome record",
		ArgsUsage: "STORAGE_ID OWNER",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "metadata",
				Aliases: []string{"m"},
				Usage:   "Metadata blob to attach to the record (typically JSON)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: storage id and owner public key")
			}

			cl := getClient(c)
			genome, err := cl.RegisterGenome(context.Background(), c.Args().Get(0), c.String("metadata"), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to register genome: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(genome)
			}

			fmt.Printf("Registered genome %s\n", genome.ID)
			fmt.Printf("  Owner:   %s\n", genome.Owner)
			fmt.Printf("  Storage: %s\n", genome.StorageID)
			return nil
		},
	}
}

func deleteGenomeCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete-genome",
		Usage:     "Soft-delete a genome record (owner only)",
		ArgsUsage: "GENOME_ID ACTOR",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: genome id and actor public key")
			}

			cl := getClient(c)
			if err := cl.DeleteGenome(context.Background(), c.Args().Get(0), c.Args().Get(1)); err != nil {
				return fmt.Errorf("failed to delete genome: %w", err)
			}

			fmt.Printf("Deleted genome %s\n", c.Args().Get(0))
			return nil
		},
	}
}

func genomesCommand() *cli.Command {
	return &cli.Command{
		Name:  "genomes",
		Usage: "List genome records",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "owner",
				Aliases: []string{"o"},
				Usage:   "Filter by owner public key",
			},
		},
		Action: func(c *cli.Context) error {
			cl := getClient(c)
			genomes, err := cl.ListGenomes(context.Background(), c.String("owner"))
			if err != nil {
				return fmt.Errorf("failed to list genomes: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(genomes)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOWNER\tSTORAGE\tDELETED\tCREATED")
			for _, g := range genomes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
					g.ID, g.Owner, g.StorageID, g.Deleted, g.CreatedAt.Format(time.RFC3339))
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d genomes\n", len(genomes))
			return nil
		},
	}
}

func sellCommand() *cli.Command {
	return &cli.Command{
		Name:      "sell",
		Usage:     "Open a transfer offer for a genome record",
		ArgsUsage: "GENOME_ID SELLER",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:     "price",
				Aliases:  []string{"p"},
				Usage:    "Asking price in base units",
				Required: true,
			},
			&cli.Int64Flag{
				Name:    "duration",
				Aliases: []string{"d"},
				Usage:   "Offer validity window in seconds (0 = never expires)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: genome id and seller public key")
			}

			cl := getClient(c)
			txn, err := cl.CreateTransaction(context.Background(),
				c.Args().Get(0), c.Uint64("price"), c.Int64("duration"), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to create transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(txn)
			}

			printTransaction(txn)
			return nil
		},
	}
}

func buyCommand() *cli.Command {
	return &cli.Command{
		Name:      "buy",
		Usage:     "Execute a transfer offer as a buyer",
		ArgsUsage: "TRANSACTION_ID BUYER",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: transaction id and buyer public key")
			}

			cl := getClient(c)
			txn, err := cl.ExecuteTransaction(context.Background(), c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to execute transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(txn)
			}

			printTransaction(txn)
			return nil
		},
	}
}

func cancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a transfer offer (seller only under the default policy)",
		ArgsUsage: "TRANSACTION_ID AUTHORITY",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires two arguments: transaction id and authority public key")
			}

			cl := getClient(c)
			txn, err := cl.CancelTransaction(context.Background(), c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to cancel transaction: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(txn)
			}

			printTransaction(txn)
			return nil
		},
	}
}

func transactionsCommand() *cli.Command {
	return &cli.Command{
		Name:    "transactions",
		Aliases: []string{"txns"},
		Usage:   "List transfer offers",
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
			},
		},
		Action: func(c *cli.Context) error {
			cl := getClient(c)
			txns, err := cl.ListTransactions(context.Background(), client.ListTransactionsOptions{
				GenomeID: c.String("genome"),
				Seller:   c.String("seller"),
				Status:   c.String("status"),
				Limit:    c.Int("limit"),
			})
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(txns)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tGENOME\tSTATUS\tPRICE\tSELLER\tBUYER\tCREATED")
			for _, t := range txns {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					t.ID, t.GenomeID, t.Status, t.Price, t.Seller,
					formatOptionalKey(t.Buyer), t.CreatedAt.Format(time.RFC3339))
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d transactions\n", len(txns))
			return nil
		},
	}
}

func printTransaction(txn *client.Transaction) {
	fmt.Printf("Transaction: %s\n", txn.ID)
	fmt.Printf("  Genome:    %s\n", txn.GenomeID)
	fmt.Printf("  Status:    %s\n", txn.Status)
	fmt.Printf("  Price:     %d\n", txn.Price)
	fmt.Printf("  Seller:    %s\n", txn.Seller)
	if txn.Buyer != nil {
		fmt.Printf("  Buyer:     %s\n", *txn.Buyer)
	}
	fmt.Printf("  Created:   %s\n", txn.CreatedAt.Format(time.RFC3339))
	if txn.ExpiresAt != nil {
		fmt.Printf("  Expires:   %s\n", txn.ExpiresAt.Format(time.RFC3339))
	}
	if txn.ExecutedAt != nil {
		fmt.Printf("  Executed:  %s\n", txn.ExecutedAt.Format(time.RFC3339))
	}
}
