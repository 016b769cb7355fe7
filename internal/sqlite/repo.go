package sqlite

import (
	"github.com/jmoiron/sqlx"

	"github.com/bidwatch/lotkeeper/internal/lotkeeper"
)

// Ensure Repo implements the Repository interface
var _ lotkeeper.Repository = (*Repo)(nil)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}
