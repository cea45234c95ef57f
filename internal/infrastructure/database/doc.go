// Package database holds the SQLite store behind the session journal.
//
// Open creates the file (mode 0600) and its directory, enables WAL and a
// busy timeout, and limits the pool to one connection. Migrations are read
// from MigrationsFS, which the migrations package fills with its embedded
// SQL files:
//
//	import _ "github.com/nerrad567/mqtt-session/migrations"
//
//	db, err := database.OpenMigrated(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
// Migration files are named YYYYMMDD_HHMMSS_description.{up,down}.sql and
// are applied oldest first, one transaction each. Changes are additive: new
// columns must be nullable or carry a default.
package database
