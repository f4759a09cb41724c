package domain

import "time"

// Build - ссылка на нативную сборку приложения
type Build struct {
	ID        int64     `json:"id" db:"id"`
	Version   string    `json:"version" db:"version"`
	Channel   string    `json:"channel" db:"channel"`
	Platform  Platform  `json:"platform" db:"platform"`
	Link      string    `json:"link" db:"link"`
	CreatedAt time.Time `json:"-" db:"created_at"`
	UpdatedAt time.Time `json:"-" db:"updated_at"`
}

type BuildFilter struct {
	Platform Platform
	Version  string
	Channel  string
	Page     int
	Limit    int
}

func (f BuildFilter) Offset() int {
	if f.Page > 1 {
		return (f.Page - 1) * f.Limit
	}
	return 0
}

type BuildList struct {
	Rows  []Build `json:"rows"`
	Count int     `json:"count"`
}
