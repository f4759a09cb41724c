package domain

import (
	"time"

	"github.com/google/uuid"
)

type ElectronPlatform string

const (
	ElectronWindows      ElectronPlatform = ".nupkg"
	ElectronMacX64       ElectronPlatform = "x64.zip"
	ElectronMacArm       ElectronPlatform = "arm64.zip"
	ElectronWindowsSetup ElectronPlatform = ".exe"
	ElectronMacX64Dmg    ElectronPlatform = "x64.dmg"
	ElectronMacArmDmg    ElectronPlatform = "arm64.dmg"
)

var ElectronPlatforms = []ElectronPlatform{
	ElectronWindows,
	ElectronMacX64,
	ElectronMacArm,
	ElectronWindowsSetup,
	ElectronMacX64Dmg,
	ElectronMacArmDmg,
}

func ParseElectronPlatform(s string) (ElectronPlatform, bool) {
	for _, p := range ElectronPlatforms {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// ElectronRelease - релиз десктопного приложения, артефакты которого
// хранятся в релизах GitHub
type ElectronRelease struct {
	ID                int64            `json:"id" db:"id"`
	UUID              uuid.UUID        `json:"uuid" db:"uuid"`
	Version           string           `json:"version" db:"version"`
	GithubReleaseName string           `json:"githubReleaseName" db:"github_release_name"`
	Platform          ElectronPlatform `json:"platform" db:"platform"`
	ReleaseName       string           `json:"releaseName" db:"release_name"`
	CreatedAt         time.Time        `json:"createdAt" db:"created_at"`
	DeletedAt         *time.Time       `json:"deletedAt,omitempty" db:"deleted_at"`
}

type ElectronReleaseQuery struct {
	Platform    ElectronPlatform
	Version     string
	ReleaseName string
}
