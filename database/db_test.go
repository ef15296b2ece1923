package database

import (
	"github.com/DATA-DOG/go-sqlmock"
)

// newTestDataSource returns a Datasource backed by sqlmock, with the
// cache disabled so tests exercise the SQL paths directly.
func newTestDataSource() (Datasource, sqlmock.Sqlmock, error) {
	db, mock, err := sqlmock.New()
	if err != nil {
		return Datasource{}, nil, err
	}
	return Datasource{Conn: db, Cache: nil}, mock, nil
}
