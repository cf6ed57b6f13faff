package repository

import (
	"context"
	"database/sql"
	"time"

	"extruderctl"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*extruderctl.User, error)
}

type EventRepo interface {
	Append(ctx context.Context, e extruderctl.Event) error
	List(ctx context.Context, from, to time.Time, typ string) ([]extruderctl.Event, error)
}

type AlarmStore interface {
	Save(records []extruderctl.AlarmRecord) error
	Load() ([]extruderctl.AlarmRecord, error)
}

type Repository struct {
	EventRepo EventRepo
	Alarms    AlarmStore
	Auth      Authorization
}

func NewRepository(db *sql.DB, alarmPath string) *Repository {
	return &Repository{
		EventRepo: NewEventSQLite(db),
		Alarms:    NewAlarmFile(alarmPath),
		Auth:      NewUserRepository(db),
	}
}
