//go:build !sqlite
// +build !sqlite

package storage

import "errors"

func openSQLite(cfg Config) (Store, error) {
	_ = cfg
	return nil, errors.New("sqlite storage not built: build with -tags sqlite")
}
