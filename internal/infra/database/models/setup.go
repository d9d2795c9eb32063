package models

import (
	"time"

	"github.com/lib/pq"
)

type Setup struct {
	ID                   string         `json:"id" gorm:"primaryKey;type:text"`
	Stage                string         `json:"stage" gorm:"type:text;not null;index"`
	RetryStage           string         `json:"retryStage" gorm:"type:text;not null"`
	SharedAccountAddress string         `json:"sharedAccountAddress" gorm:"type:text;index"`
	Owners               pq.StringArray `json:"owners" gorm:"type:text[]"`
	Threshold            int            `json:"threshold" gorm:"type:integer;not null;default:0"`
	FundingTxHashes      pq.StringArray `json:"fundingTxHashes" gorm:"type:text[]"`
	FundedWei            string         `json:"fundedWei" gorm:"type:text"`
	TokenName            string         `json:"tokenName" gorm:"type:text"`
	TokenSymbol          string         `json:"tokenSymbol" gorm:"type:text"`
	TokenAddress         string         `json:"tokenAddress" gorm:"type:text"`
	TokenTxHash          string         `json:"tokenTxHash" gorm:"type:text"`
	LastError            string         `json:"lastError" gorm:"type:text"`
	Entries              []SetupEntry   `json:"entries" gorm:"foreignKey:SetupID;references:ID;constraint:OnDelete:CASCADE;"`
	CDate                time.Time      `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
	MDate                time.Time      `json:"mdate" gorm:"type:timestamp with time zone;not null;default:clock_timestamp()"`
}
