package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator verifies that a migrated database has the shape the room
// store expects.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check in order and returns the first failure.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	if err := v.ValidateIndexes(); err != nil {
		return err
	}
	return v.ValidateConstraints()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"rooms":             "Room state storage",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// types.RoomRecord and the rooms table
func (v *SchemaValidator) ValidateTableStructure() error {
	roomColumns := map[string]string{
		"room_code":     "TEXT",
		"created_at":    "DATETIME",
		"transcript":    "TEXT",
		"student_count": "INTEGER",
		"updated_at":    "DATETIME",
	}

	if err := v.validateColumns("rooms", roomColumns); err != nil {
		return fmt.Errorf("rooms table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that the expiry sweep index exists
func (v *SchemaValidator) ValidateIndexes() error {
	exists, err := v.objectExists("index", "idx_rooms_created_at")
	if err != nil {
		return fmt.Errorf("error checking index idx_rooms_created_at: %w", err)
	}
	if !exists {
		return fmt.Errorf("required index idx_rooms_created_at does not exist")
	}
	return nil
}

// ValidateConstraints verifies that the room code check constraint is enforced.
// The probe runs inside a transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(`INSERT INTO rooms (room_code, created_at) VALUES ('abcde', CURRENT_TIMESTAMP)`)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: rooms.room_code")
	}

	_, err = tx.Exec(`INSERT INTO rooms (room_code, created_at, student_count) VALUES ('00000', CURRENT_TIMESTAMP, -1)`)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: rooms.student_count")
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
