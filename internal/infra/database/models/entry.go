package models

type SetupEntry struct {
	SetupID          string `json:"setupID" gorm:"primaryKey;type:text"`
	ID               string `json:"id" gorm:"primaryKey;type:text"`
	Position         int    `json:"position" gorm:"type:integer;not null"`
	RawInput         string `json:"rawInput" gorm:"type:text"`
	Kind             string `json:"kind" gorm:"type:text;not null"`
	CanonicalAddress string `json:"canonicalAddress" gorm:"type:text"`
	DisplayName      string `json:"displayName" gorm:"type:text"`
	Resolving        bool   `json:"resolving" gorm:"type:boolean;not null;default:false"`
}
