// Package database opens the rules engine's SQLite file and applies its
// schema migrations.
//
// Scenes, automations, the run history and (with the sqlite state store)
// the last known device snapshots all live in one database. Repositories
// take the embedded *sql.DB directly.
//
// Migrations are plain SQL files read from an fs.FS, normally the one
// embedded by the top-level migrations package:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry a default,
// and every .up.sql file has a matching .down.sql.
package database
