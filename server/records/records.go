// Package records is the per-doctor store of prediction records
package records

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("record not found")

type DB struct {
	Log logs.Log
	DB  *gorm.DB
}

// Open or create the record database, and run migrations
func Open(log logs.Log, config dbh.DBConfig) (*DB, error) {
	if config.Driver == dbh.DriverSqlite {
		os.MkdirAll(filepath.Dir(config.Database), 0755)
	}
	log.Infof("Opening record DB (%v)", config.LogSafeDescription())
	db, err := dbh.OpenDB(log, config, Migrations(log, config.Driver), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open record database: %w", err)
	}
	return &DB{
		Log: log,
		DB:  db,
	}, nil
}

func (d *DB) Close() {
	if sqlDB, err := d.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

// Add inserts rec, and sets rec.ID.
// If rec.Date is zero, it is set to the current time.
func (d *DB) Add(rec *Record) error {
	if rec.DoctorEmail == "" {
		return errors.New("Record has no doctor email")
	}
	if rec.Date.IsZero() {
		rec.Date = dbh.MakeIntTime(time.Now())
	}
	rec.ID = 0
	tx := d.DB.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()
	if err := tx.Create(rec).Error; err != nil {
		return err
	}
	return tx.Commit().Error
}

// List returns the records of one doctor, newest first
func (d *DB) List(doctorEmail string) ([]Record, error) {
	recs := []Record{}
	err := d.DB.Where("doctor_email = ?", doctorEmail).Order("date DESC, id DESC").Find(&recs).Error
	return recs, err
}

// ListAll returns the records of all doctors, newest first
func (d *DB) ListAll() ([]Record, error) {
	recs := []Record{}
	err := d.DB.Order("date DESC, id DESC").Find(&recs).Error
	return recs, err
}

func (d *DB) Get(doctorEmail string, id int64) (*Record, error) {
	return get(d.DB, doctorEmail, id)
}

func get(db *gorm.DB, doctorEmail string, id int64) (*Record, error) {
	rec := Record{}
	err := db.Where("doctor_email = ? AND id = ?", doctorEmail, id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update applies patch to the record, and returns the updated record
func (d *DB) Update(doctorEmail string, id int64, patch *Patch) (*Record, error) {
	tx := d.DB.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()
	rec, err := get(tx, doctorEmail, id)
	if err != nil {
		return nil, err
	}
	if cols := patch.columns(); len(cols) != 0 {
		if err := tx.Model(rec).Updates(cols).Error; err != nil {
			return nil, err
		}
	}
	rec, err = get(tx, doctorEmail, id)
	if err != nil {
		return nil, err
	}
	return rec, tx.Commit().Error
}

func (d *DB) Delete(doctorEmail string, id int64) error {
	res := d.DB.Where("doctor_email = ? AND id = ?", doctorEmail, id).Delete(&Record{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
