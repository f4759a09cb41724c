package domain

import "time"

// Updater - привязка устройства к манифесту
type Updater struct {
	ID         int64     `json:"id" db:"id"`
	UpdaterID  string    `json:"updaterId" db:"updater_id"`
	ManifestID int64     `json:"manifestId" db:"manifest_id"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

// Repinned сообщает, переназначалось ли устройство после создания привязки
func (u *Updater) Repinned() bool {
	return !u.UpdatedAt.Equal(u.CreatedAt)
}

type PinRequest struct {
	UpdaterID      string
	RuntimeVersion string
	ReleaseName    string
	Platform       Platform
}

type UpdaterWithManifest struct {
	UpdaterID string          `json:"updaterId"`
	Manifest  ManifestSummary `json:"manifest"`
}
