// Command migrate applies or rolls back the embedded database schema.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"

	"omnirelay-go/internal/config"
	"omnirelay-go/internal/constants"
	"omnirelay-go/internal/store/migrations"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	down := flag.Int("down", 0, "roll back this many migrations instead of migrating up")
	version := flag.Bool("version", false, "print the current schema version and exit")
	flag.Parse()

	if err := run(*configPath, *down, *version); err != nil {
		log.WithError(err).Fatal("migration failed")
	}
}

func run(configPath string, down int, version bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.Storage.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), constants.StoreConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	switch {
	case version:
		v, dirty, err := migrations.Version(db)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "version=%d dirty=%v\n", v, dirty)
		return nil
	case down > 0:
		if err := migrations.Down(db, down); err != nil {
			return err
		}
		log.WithField("steps", down).Info("rolled back")
		return nil
	default:
		if err := migrations.Up(db); err != nil {
			return err
		}
		log.Info("schema up to date")
		return nil
	}
}
