package main

import (
	"database/sql"
	"embed"

	"github.com/trezcool/goose"

	"github.com/trezcool/mahudhurio/fs"
)

// mockable
var gooseRunFunc = func(command string, db *sql.DB, fsys embed.FS, dir string, args ...string) error {
	return goose.RunFS(command, db, fsys, dir, args...)
}

func (cli *commandLine) migrate(args []string) error {
	arguments := make([]string, 0)
	if len(args) > 1 {
		arguments = append(arguments, args[1:]...)
	}
	return gooseRunFunc(args[0], cli.db, appfs.FS, "migrations", arguments...)
}
