package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ms-coupons/internal/config"
	"ms-coupons/internal/coupon/db"
	"ms-coupons/internal/database"
	"ms-coupons/internal/database/migrations"
	"ms-coupons/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	command := flag.String("cmd", "up", "migration command: up, down, to, version, schema")
	target := flag.Uint("version", 0, "target version for -cmd=to")
	seed := flag.Bool("seed", false, "apply seed migrations with -cmd=up")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger("coupon-migrate", cfg.LogLevel)
	defer log.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	// schema builds the tables from the bun models, for throwaway databases
	// that never see the SQL migrations.
	if *command == "schema" {
		if err := db.CreateSchema(ctx, bunDB); err != nil {
			log.Fatal("MIGRATE", err.Error())
		}
		log.Info("MIGRATE", "Schema created from models")
		return
	}

	opts := migrations.MigrateOptions{
		MigrationsDir: cfg.Migrations.Dir,
		SeedData:      *seed || cfg.Migrations.SeedData,
	}
	runner := migrations.NewRunner(bunDB, opts, log)
	defer runner.Close()

	switch *command {
	case "up":
		err = runner.RunMigrations()
	case "down":
		err = runner.MigrateDown()
	case "to":
		err = runner.MigrateTo(*target)
	case "version":
		var version uint
		var dirty bool
		version, dirty, err = runner.Version()
		if err == nil {
			fmt.Printf("version=%d dirty=%t\n", version, dirty)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", *command)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	log.Info("MIGRATE", fmt.Sprintf("%s complete", *command))
}
