package store

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryStore returns a migrated store on a private in-memory SQLite database. Intended for tests.
func MemoryStore() *Store {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}
	sqldb, err := db.DB()
	if err != nil {
		panic(err)
	}
	// every connection to ":memory:" is a separate database
	sqldb.SetMaxOpenConns(1)
	s, err := New(db, 1)
	if err != nil {
		panic(err)
	}
	if err := s.Migrate(); err != nil {
		panic(err)
	}
	return s
}
