// Package storage is the relational collaborator of the realtime core:
// user lookups, message persistence and the rate-limit window query.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nearme/backend/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("record not found")

type Storage interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	UserExists(ctx context.Context, userID string) (bool, error)
	UpdateLastActive(ctx context.Context, userID string, at time.Time) error
	UpdateLocation(ctx context.Context, userID string, lat, lng float64) error
	SetAccountTier(ctx context.Context, userID string, tier models.AccountTier) error

	CountRecentMessages(ctx context.Context, userID string, since time.Time) (int64, error)
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetConversation(ctx context.Context, userA, userB string, limit int) ([]models.Message, error)
	MarkMessagesRead(ctx context.Context, readerID string, messageIDs []string) (int64, error)
}

type Service struct {
	DB *gorm.DB
}

var _ Storage = (*Service)(nil)

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

// Migrate creates the tables the core reads and writes.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(&models.User{}, &models.Message{})
}

// GetUserByID returns ErrNotFound when the user does not exist.
func (s *Service) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	return &user, nil
}

func (s *Service) UserExists(ctx context.Context, userID string) (bool, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check user %s: %w", userID, err)
	}
	return count > 0, nil
}

func (s *Service) UpdateLastActive(ctx context.Context, userID string, at time.Time) error {
	return s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_active_at", at).Error
}

func (s *Service) UpdateLocation(ctx context.Context, userID string, lat, lng float64) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"latitude":  lat,
			"longitude": lng,
		})
	if res.Error != nil {
		return fmt.Errorf("update location for %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) SetAccountTier(ctx context.Context, userID string, tier models.AccountTier) error {
	if !tier.Valid() {
		return fmt.Errorf("unknown account tier %q", tier)
	}
	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Update("account_tier", tier)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountRecentMessages counts messages sent by userID strictly after since.
func (s *Service) CountRecentMessages(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("sender_id = ? AND created_at > ?", userID, since).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count messages for %s: %w", userID, err)
	}
	return count, nil
}

// SaveMessage inserts msg. The ID is filled by the model hook when empty.
func (s *Service) SaveMessage(ctx context.Context, msg *models.Message) error {
	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("save message from %s: %w", msg.SenderID, err)
	}
	return nil
}

// GetConversation returns up to limit messages between the pair, oldest first.
func (s *Service) GetConversation(ctx context.Context, userA, userB string, limit int) ([]models.Message, error) {
	var history []models.Message
	err := s.DB.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", userA, userB, userB, userA).
		Order("created_at desc").
		Limit(limit).
		Find(&history).Error
	if err != nil {
		return nil, fmt.Errorf("conversation %s/%s: %w", userA, userB, err)
	}
	// Newest page was selected; hand it back in chronological order.
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	return history, nil
}

// MarkMessagesRead flips isRead on the listed messages addressed to readerID.
// Ids of messages readerID did not receive are ignored.
func (s *Service) MarkMessagesRead(ctx context.Context, readerID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res := s.DB.WithContext(ctx).Model(&models.Message{}).
		Where("id IN ? AND receiver_id = ? AND is_read = ?", messageIDs, readerID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("mark read for %s: %w", readerID, res.Error)
	}
	return res.RowsAffected, nil
}
