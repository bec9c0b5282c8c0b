package infra

import (
	"database/sql"
	"log"

	"github.com/tnqbao/gau-music-dispatch/config"
	_ "modernc.org/sqlite"
)

// SQLiteClient backs the single-host deployment. WAL mode lets the status
// endpoints read while the dispatcher writes.
type SQLiteClient struct {
	DB *sql.DB
}

func InitSQLiteClient(cfg *config.EnvConfig) *SQLiteClient {
	db, err := OpenSQLite(cfg.SQLite.Path)
	if err != nil {
		log.Fatalf("SQLite open failed: %v", err)
	}
	log.Println("Opened SQLite database:", cfg.SQLite.Path)
	return &SQLiteClient{DB: db}
}

func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}
