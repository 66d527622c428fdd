package sqlite

import (
	"database/sql"
	"errors"
)

// Store pairs the single write connection with a reader pool on the same
// database file.
type Store struct {
	*Writer
	*Reader
}

// Open creates the schema and opens both connections.
func Open(dbPath string) (*Store, error) {
	w, err := New(WriterConfig{DBPath: dbPath})
	if err != nil {
		return nil, err
	}
	r, err := NewReader(dbPath)
	if err != nil {
		w.Close()
		return nil, err
	}
	return &Store{Writer: w, Reader: r}, nil
}

// DB returns the write connection for health checks.
func (s *Store) DB() *sql.DB { return s.Writer.DB() }

// Close closes the reader, then the writer.
func (s *Store) Close() error {
	return errors.Join(s.Reader.Close(), s.Writer.Close())
}
