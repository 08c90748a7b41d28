package sqlitestore

import (
	"time"

	"github.com/tyemirov/tgcalendar/internal/store"
)

type userRecord struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	ChatID     int64     `gorm:"column:chat_id;uniqueIndex;not null"`
	Nick       *string   `gorm:"column:nick"`
	Email      *string   `gorm:"column:email"`
	ProviderID *string   `gorm:"column:provider_id;uniqueIndex"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (userRecord) TableName() string {
	return "users"
}

type tokenRecord struct {
	ID           int64      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID       int64      `gorm:"column:user_id;not null;uniqueIndex"`
	User         userRecord `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
	AccessToken  string     `gorm:"column:access_token;not null"`
	RefreshToken *string    `gorm:"column:refresh_token"`
	TokenType    string     `gorm:"column:token_type;not null;default:Bearer"`
	Expiry       *time.Time `gorm:"column:expiry"`
	Scopes       *string    `gorm:"column:scopes"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (tokenRecord) TableName() string {
	return "tokens"
}

func toUserDomain(record userRecord) *store.User {
	return &store.User{
		ID:         record.ID,
		ChatID:     record.ChatID,
		Nick:       record.Nick,
		Email:      record.Email,
		ProviderID: record.ProviderID,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
}

func toTokenDomain(record tokenRecord) *store.Token {
	return &store.Token{
		ID:           record.ID,
		UserID:       record.UserID,
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		TokenType:    record.TokenType,
		Expiry:       record.Expiry,
		Scopes:       record.Scopes,
		CreatedAt:    record.CreatedAt,
		UpdatedAt:    record.UpdatedAt,
	}
}
