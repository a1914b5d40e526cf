package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// fundingModel is the gorm mapping of the fundings table used by the SQLite backend.
type fundingModel struct {
	ID                 string `gorm:"primaryKey"`
	EventReceived      bool   `gorm:"index;not null;default:false"`
	CurrencyCode       string
	FiatAmount         int64
	TxSender           string `gorm:"index"`
	CardToken          string `gorm:"index"`
	CardLastFour       string
	CardExpMonth       string
	CardExpYear        string
	CardState          string
	CardPAN            string `gorm:"column:card_pan"`
	CardCVV            string `gorm:"column:card_cvv"`
	AuthorizationToken string
	Cleared            bool `gorm:"not null;default:false"`
	ClearingDebugID    string
	CreatedAt          time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime:false"`
}

func (fundingModel) TableName() string {
	return "fundings"
}

// SQLiteLedger stores fundings in a local SQLite file through gorm. The
// connection pool must be limited to one connection so writers are serialised.
type SQLiteLedger struct {
	db *gorm.DB
}

// NewSQLiteLedger constructs a gorm-backed ledger and migrates its table.
func NewSQLiteLedger(db *gorm.DB) (*SQLiteLedger, error) {
	if err := db.AutoMigrate(&fundingModel{}); err != nil {
		return nil, err
	}
	return &SQLiteLedger{db: db}, nil
}

// Create inserts a funding record.
func (l *SQLiteLedger) Create(ctx context.Context, funding Funding) error {
	now := time.Now().UTC()
	if funding.CreatedAt.IsZero() {
		funding.CreatedAt = now
	}
	if funding.UpdatedAt.IsZero() {
		funding.UpdatedAt = funding.CreatedAt
	}
	model := toModel(funding)
	if err := l.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateFunding
		}
		return err
	}
	return nil
}

// Get fetches a funding record by identifier.
func (l *SQLiteLedger) Get(ctx context.Context, id string) (Funding, error) {
	var model fundingModel
	if err := l.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Funding{}, ErrFundingNotFound
		}
		return Funding{}, err
	}
	return model.toFunding(), nil
}

// Mutate runs the read-modify-write inside one gorm transaction.
func (l *SQLiteLedger) Mutate(ctx context.Context, id string, upsert bool, fn MutateFunc) (Funding, error) {
	var out Funding
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model fundingModel
		err := tx.First(&model, "id = ?", id).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if !upsert {
				return ErrFundingNotFound
			}
			model = toModel(newFunding(id, time.Now().UTC()))
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		}

		funding := model.toFunding()
		if err := fn(&funding); err != nil {
			return err
		}
		funding.ID = id
		funding.UpdatedAt = time.Now().UTC()

		updated := toModel(funding)
		if err := tx.Save(&updated).Error; err != nil {
			return err
		}
		out = funding
		return nil
	})
	if err != nil {
		return Funding{}, err
	}
	return out, nil
}

func toModel(f Funding) fundingModel {
	return fundingModel{
		ID:                 f.ID,
		EventReceived:      f.EventReceived,
		CurrencyCode:       f.CurrencyCode,
		FiatAmount:         f.FiatAmount,
		TxSender:           f.TxSender,
		CardToken:          f.CardToken,
		CardLastFour:       f.CardLastFour,
		CardExpMonth:       f.CardExpMonth,
		CardExpYear:        f.CardExpYear,
		CardState:          f.CardState,
		CardPAN:            f.CardPAN,
		CardCVV:            f.CardCVV,
		AuthorizationToken: f.AuthorizationToken,
		Cleared:            f.Cleared,
		ClearingDebugID:    f.ClearingDebugID,
		CreatedAt:          f.CreatedAt,
		UpdatedAt:          f.UpdatedAt,
	}
}

func (m fundingModel) toFunding() Funding {
	return Funding{
		ID:                 m.ID,
		EventReceived:      m.EventReceived,
		CurrencyCode:       m.CurrencyCode,
		FiatAmount:         m.FiatAmount,
		TxSender:           m.TxSender,
		CardToken:          m.CardToken,
		CardLastFour:       m.CardLastFour,
		CardExpMonth:       m.CardExpMonth,
		CardExpYear:        m.CardExpYear,
		CardState:          m.CardState,
		CardPAN:            m.CardPAN,
		CardCVV:            m.CardCVV,
		AuthorizationToken: m.AuthorizationToken,
		Cleared:            m.Cleared,
		ClearingDebugID:    m.ClearingDebugID,
		CreatedAt:          m.CreatedAt.UTC(),
		UpdatedAt:          m.UpdatedAt.UTC(),
	}
}
