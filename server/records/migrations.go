package records

import (
	"strings"

	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log, driver string) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	primaryKey := "INTEGER PRIMARY KEY"
	if driver == dbh.DriverPostgres {
		primaryKey = "BIGSERIAL PRIMARY KEY"
	}

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx, strings.ReplaceAll(
		`
		CREATE TABLE record(
			id $PK,
			doctor_email TEXT NOT NULL,
			name TEXT NOT NULL,
			surname TEXT NOT NULL,
			age INT NOT NULL,
			mobile_no TEXT NOT NULL,
			prediction TEXT NOT NULL,
			pneumonia_percentage TEXT NOT NULL,
			normal_percentage TEXT NOT NULL,
			date BIGINT NOT NULL,
			saliency_map_url TEXT NOT NULL,
			image_url TEXT NOT NULL
		);
		CREATE INDEX idx_record_doctor_email_date ON record(doctor_email, date);
		`, "$PK", primaryKey)))

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		ALTER TABLE record ADD COLUMN model_used TEXT NOT NULL DEFAULT '';
		ALTER TABLE record ADD COLUMN confidence DOUBLE PRECISION NOT NULL DEFAULT 0;
		`))

	return migs
}
