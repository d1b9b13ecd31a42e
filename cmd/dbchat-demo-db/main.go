package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/duckmesh/dbchat/internal/config"
	"github.com/duckmesh/dbchat/internal/database"
	"github.com/duckmesh/dbchat/internal/demodb"
)

func main() {
	direction := flag.String("direction", "up", "demo dataset direction: up|down|status")
	steps := flag.Int("steps", 0, "number of versions; 0 means all for up, 1 for down")
	flag.Parse()

	cfg, err := config.LoadFromEnv("dbchat-demo-db")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	runner := demodb.NewRunner(database.Dialect(cfg.Database.Driver))
	switch *direction {
	case "up":
		applied, err := runner.Up(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "demo dataset up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d demo version(s)\n", applied)
	case "down":
		rolledBack, err := runner.Down(ctx, db, *steps)
		if err != nil {
			fmt.Fprintf(os.Stderr, "demo dataset down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("rolled back %d demo version(s)\n", rolledBack)
	case "status":
		status, err := runner.Status(ctx, db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "demo dataset status failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied: %v\npending: %v\n", status.Applied, status.Pending)
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}
}
