// Package store persists saved banners in sqlite.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"tomgalvin.uk/phogobanner/internal/banner"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

//go:embed resources/sql/schema.sql
var schema string

var ErrNotFound = errors.New("banner not found")

type BannerRepository struct {
	Db *sql.DB
}

// Open opens (creating if needed) the database at path and makes sure the
// schema exists. ":memory:" gives a private in-memory database.
func Open(path string) (*BannerRepository, error) {
	dsn := "file:" + path
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("Couldn't open database:\n%w", err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database otherwise
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("Couldn't initialise database:\n%w", err)
	}
	return &BannerRepository{Db: db}, nil
}

func (r *BannerRepository) Close() error {
	return r.Db.Close()
}

const bannerColumns = `id, uuid, name, created_at, updated_at, markup, orientation, density, align, dither`

type scanner interface {
	Scan(dest ...any) error
}

func scanBanner(s scanner) (*Banner, error) {
	var b Banner
	var uuidString, orientation, align string
	var createdAt, updatedAt int64
	if err := s.Scan(&b.Id, &uuidString, &b.Name, &createdAt, &updatedAt,
		&b.Markup, &orientation, &b.Density, &align, &b.Dither); err != nil {
		return nil, err
	}

	var err error
	if b.Uuid, err = uuid.Parse(uuidString); err != nil {
		return nil, fmt.Errorf("Stored banner has a bad UUID %q:\n%w", uuidString, err)
	}
	if b.Orientation, err = banner.ParseOrientation(orientation); err != nil {
		return nil, err
	}
	if b.Align, err = banner.ParseAlign(align); err != nil {
		return nil, err
	}
	b.CreatedAt = time.UnixMilli(createdAt).UTC()
	b.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &b, nil
}

// Get returns the banner with the given UUID, or nil if there isn't one
func (r *BannerRepository) Get(u uuid.UUID) (*Banner, error) {
	row := r.Db.QueryRow(`
		SELECT `+bannerColumns+`
		FROM banner
		WHERE uuid = ?`, u.String())

	b, err := scanBanner(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("Failed to read banner:\n%w", err)
	}
	return b, nil
}

// List returns every saved banner, newest first
func (r *BannerRepository) List() ([]Banner, error) {
	var count int
	if err := r.Db.QueryRow(`SELECT COUNT(1) FROM banner`).Scan(&count); err != nil {
		return nil, fmt.Errorf("Failed to count banners:\n%w", err)
	}

	banners := make([]Banner, count)
	n, err := QueryAndScanRows(r.Db, `
		SELECT `+bannerColumns+`
		FROM banner
		ORDER BY created_at DESC, id DESC`, banners, func(rows *sql.Rows, b *Banner) error {
		scanned, err := scanBanner(rows)
		if err != nil {
			return err
		}
		*b = *scanned
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to list banners:\n%w", err)
	}
	return banners[:n], nil
}

// QueryAndScanRows scans each row of the query into the preallocated results,
// returning how many rows were read. It stops at len(results) rows.
func QueryAndScanRows[T any](db *sql.DB, query string, results []T, scanRow func(*sql.Rows, *T) error, args ...any) (int, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return 0, fmt.Errorf("Query execution failed:\n%w", err)
	}
	defer rows.Close()

	count := 0
	for ; count < len(results) && rows.Next(); count++ {
		if err := scanRow(rows, &results[count]); err != nil {
			return count, fmt.Errorf("Row scanning failed:\n%w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return count, fmt.Errorf("Error iterating rows:\n%w", err)
	}
	return count, nil
}

// Run operations in a transaction, committing afterward, or rolling back if the
// passed function returns an error
func (r *BannerRepository) Transact(f func(*sql.Tx) error) error {
	tx, err := r.Db.Begin()
	if err != nil {
		return fmt.Errorf("Failed to begin transaction:\n%w", err)
	}

	if err := f(tx); err != nil {
		if err2 := tx.Rollback(); err2 != nil {
			return fmt.Errorf("Failed to roll back transaction: %w\n\nAfter handling: %v", err2, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Failed to commit transaction:\n%w", err)
	}
	return nil
}

// Create inserts b, filling in its Id, and its Uuid and timestamps when unset
func (r *BannerRepository) Create(tx *sql.Tx, b *Banner) error {
	if b.Uuid == uuid.Nil {
		b.Uuid = uuid.New()
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = b.CreatedAt

	row := tx.QueryRow(`
		INSERT INTO banner(uuid, name, created_at, updated_at, markup, orientation, density, align, dither)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`,
		b.Uuid.String(), b.Name, b.CreatedAt.UnixMilli(), b.UpdatedAt.UnixMilli(),
		b.Markup, b.Orientation.String(), int(b.Density.Clamp()), b.Align.String(), b.Dither)
	if err := row.Scan(&b.Id); err != nil {
		return fmt.Errorf("Failed to insert banner:\n%w", err)
	}
	return nil
}

// Update replaces the stored fields of the banner with UUID u
func (r *BannerRepository) Update(tx *sql.Tx, u uuid.UUID, b *Banner) error {
	b.UpdatedAt = time.Now().UTC()
	row := tx.QueryRow(`
		UPDATE banner
		SET name = ?, updated_at = ?, markup = ?, orientation = ?, density = ?, align = ?, dither = ?
		WHERE uuid = ?
		RETURNING id, created_at`,
		b.Name, b.UpdatedAt.UnixMilli(), b.Markup, b.Orientation.String(),
		int(b.Density.Clamp()), b.Align.String(), b.Dither, u.String())

	var createdAt int64
	if err := row.Scan(&b.Id, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("No banner with UUID %s:\n%w", u, ErrNotFound)
		}
		return fmt.Errorf("Couldn't update banner:\n%w", err)
	}
	b.Uuid = u
	b.CreatedAt = time.UnixMilli(createdAt).UTC()
	return nil
}

func (r *BannerRepository) Delete(tx *sql.Tx, u uuid.UUID) error {
	res, err := tx.Exec(`DELETE FROM banner WHERE uuid = ?`, u.String())
	if err != nil {
		return fmt.Errorf("Couldn't delete banner:\n%w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("Couldn't delete banner:\n%w", err)
	} else if n == 0 {
		return fmt.Errorf("No banner with UUID %s:\n%w", u, ErrNotFound)
	}
	return nil
}
