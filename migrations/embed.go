// Package migrations carries the journal schema. Importing it registers the
// embedded SQL files with the database package:
//
//	import _ "github.com/nerrad567/mqtt-session/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/mqtt-session/internal/infrastructure/database"
)

//go:embed *.sql
var sqlFiles embed.FS

func init() {
	database.MigrationsFS = sqlFiles
	database.MigrationsDir = "."
}
