package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/sharedbag/internal/domain"
	"github.com/totegamma/sharedbag/internal/infra/database/models"
)

type SetupRepository struct {
	db *gorm.DB
}

func NewSetupRepository(db *gorm.DB) *SetupRepository {
	return &SetupRepository{db: db}
}

// Save upserts the setup and replaces its entry list.
func (r *SetupRepository) Save(ctx context.Context, state domain.GroupSetupState) error {
	setup := toModel(state)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Omit("Entries").Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"stage",
				"retry_stage",
				"shared_account_address",
				"owners",
				"threshold",
				"funding_tx_hashes",
				"funded_wei",
				"token_name",
				"token_symbol",
				"token_address",
				"token_tx_hash",
				"last_error",
				"m_date",
			}),
		}).Create(&setup).Error
		if err != nil {
			return err
		}

		if err := tx.Where("setup_id = ?", setup.ID).Delete(&models.SetupEntry{}).Error; err != nil {
			return err
		}
		if len(setup.Entries) == 0 {
			return nil
		}
		return tx.Create(&setup.Entries).Error
	})
}

func (r *SetupRepository) Get(ctx context.Context, id string) (domain.GroupSetupState, error) {
	var setup models.Setup
	err := r.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("id = ?", id).
		Take(&setup).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.GroupSetupState{}, domain.NotFoundError{Resource: "setup"}
		}
		return domain.GroupSetupState{}, err
	}

	return fromModel(setup)
}

func toModel(state domain.GroupSetupState) models.Setup {
	entries := make([]models.SetupEntry, len(state.Entries))
	for i, e := range state.Entries {
		entries[i] = models.SetupEntry{
			SetupID:          state.ID,
			ID:               e.ID,
			Position:         i,
			RawInput:         e.RawInput,
			Kind:             e.Kind.String(),
			CanonicalAddress: e.CanonicalAddress,
			DisplayName:      e.DisplayName,
			Resolving:        e.Resolving,
		}
	}

	mdate := state.UpdatedAt
	if mdate.IsZero() {
		mdate = time.Now()
	}

	return models.Setup{
		ID:                   state.ID,
		Stage:                state.Stage.String(),
		RetryStage:           state.RetryStage.String(),
		SharedAccountAddress: state.SharedAccountAddress,
		Owners:               state.Owners,
		Threshold:            state.Threshold,
		FundingTxHashes:      state.FundingTxHashes,
		FundedWei:            state.FundedWei,
		TokenName:            state.TokenName,
		TokenSymbol:          state.TokenSymbol,
		TokenAddress:         state.TokenAddress,
		TokenTxHash:          state.TokenTxHash,
		LastError:            state.LastError,
		Entries:              entries,
		MDate:                mdate,
	}
}

func fromModel(setup models.Setup) (domain.GroupSetupState, error) {
	stage, err := domain.ParseStage(setup.Stage)
	if err != nil {
		return domain.GroupSetupState{}, err
	}
	retry, err := domain.ParseStage(setup.RetryStage)
	if err != nil {
		return domain.GroupSetupState{}, err
	}

	entries := make([]domain.IdentityEntry, len(setup.Entries))
	for i, e := range setup.Entries {
		kind, err := domain.ParseKind(e.Kind)
		if err != nil {
			return domain.GroupSetupState{}, err
		}
		entries[i] = domain.IdentityEntry{
			ID:               e.ID,
			RawInput:         e.RawInput,
			Kind:             kind,
			CanonicalAddress: e.CanonicalAddress,
			DisplayName:      e.DisplayName,
			Resolving:        e.Resolving,
		}
	}

	return domain.GroupSetupState{
		ID:                   setup.ID,
		Stage:                stage,
		RetryStage:           retry,
		Entries:              entries,
		SharedAccountAddress: setup.SharedAccountAddress,
		Owners:               []string(setup.Owners),
		Threshold:            setup.Threshold,
		FundingTxHashes:      []string(setup.FundingTxHashes),
		FundedWei:            setup.FundedWei,
		TokenName:            setup.TokenName,
		TokenSymbol:          setup.TokenSymbol,
		TokenAddress:         setup.TokenAddress,
		TokenTxHash:          setup.TokenTxHash,
		LastError:            setup.LastError,
		UpdatedAt:            setup.MDate,
	}, nil
}
