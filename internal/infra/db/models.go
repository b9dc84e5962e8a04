package db

import "time"

type LogEntryModel struct {
	ID             int64     `gorm:"primaryKey"`
	LogIndex       int64     `gorm:"uniqueIndex;not null"`
	PackageName    string    `gorm:"index;not null"`
	PackageFamily  string    `gorm:"index;not null"`
	ArtifactHash   string    `gorm:"index;not null"`
	SignerIdentity string    `gorm:"index;not null"`
	SigningTime    time.Time `gorm:"index;not null"`
	CertValidFrom  time.Time `gorm:"not null"`
	CertValidUntil time.Time `gorm:"not null"`
	LoggedAt       time.Time `gorm:"not null"`
}

type PolicyModel struct {
	Identity           string `gorm:"primaryKey"`
	AuthorizedPackages []byte `gorm:"type:jsonb;not null"`
	Description        string
	ExpiresAt          *time.Time
	UpdatedAt          time.Time `gorm:"not null"`
}
