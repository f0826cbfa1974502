package database

import (
	"context"
	"errors"
	"fmt"

	"subscription-api/internal/models"

	"gorm.io/gorm"
)

// ErrProfileNotFound is returned when no profile row matches
var ErrProfileNotFound = errors.New("profile not found")

// ProfileStore provides profile, admin registry and block list operations
type ProfileStore struct {
	db *gorm.DB
}

// NewProfileStore creates a new profile store
func NewProfileStore(db *gorm.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// GetProfile gets a profile by user id
func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Where("id = ?", userID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// FindBySubscriptionID gets the profile holding a subscription
func (s *ProfileStore) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Profile, error) {
	var profile models.Profile
	err := s.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// ListProfiles returns every profile ordered by creation time
func (s *ProfileStore) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	var profiles []models.Profile
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&profiles).Error
	return profiles, err
}

// SaveProfile creates or replaces a profile
func (s *ProfileStore) SaveProfile(ctx context.Context, profile *models.Profile) error {
	return s.db.WithContext(ctx).Save(profile).Error
}

// ApplySubscription writes the result of a completed signup to the user's profile
func (s *ProfileStore) ApplySubscription(ctx context.Context, userID string, sub models.ProfileSubscription) error {
	updates := map[string]interface{}{
		"subscription_id":      sub.SubscriptionID,
		"subscription_status":  sub.SubscriptionStatus,
		"cancel_at_period_end": false,
		"plan_id":              sub.PlanID,
		"trial_end":            sub.TrialEnd,
	}
	if sub.StripeCustomerID != "" {
		updates["stripe_customer_id"] = sub.StripeCustomerID
	}

	result := s.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update profile %s: %w", userID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// MirrorBySubscriptionID copies provider state to the profile holding the subscription
func (s *ProfileStore) MirrorBySubscriptionID(ctx context.Context, subscriptionID string, mirror models.SubscriptionMirror) error {
	return s.mirror(ctx, "subscription_id = ?", subscriptionID, mirror)
}

// MirrorByUserID copies provider state to the profile of the given user
func (s *ProfileStore) MirrorByUserID(ctx context.Context, userID string, mirror models.SubscriptionMirror) error {
	return s.mirror(ctx, "id = ?", userID, mirror)
}

func (s *ProfileStore) mirror(ctx context.Context, query string, arg string, mirror models.SubscriptionMirror) error {
	updates := map[string]interface{}{
		"subscription_status": mirror.Status,
	}
	if mirror.CancelAtPeriodEnd != nil {
		updates["cancel_at_period_end"] = *mirror.CancelAtPeriodEnd
	}
	if mirror.TrialEnd != nil {
		updates["trial_end"] = *mirror.TrialEnd
	}

	result := s.db.WithContext(ctx).Model(&models.Profile{}).Where(query, arg).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update profile where %s %q: %w", query, arg, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// IsAdmin reports whether the user is in the admin registry
func (s *ProfileStore) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Admin{}).Where("user_id = ?", userID).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AddAdmin grants the admin capability
func (s *ProfileStore) AddAdmin(ctx context.Context, userID string) error {
	admin := models.Admin{UserID: userID}
	return s.db.WithContext(ctx).Where("user_id = ?", userID).FirstOrCreate(&admin).Error
}

// SetBlocked blocks or unblocks a user
func (s *ProfileStore) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	if blocked {
		row := models.BlockedUser{UserID: userID}
		return s.db.WithContext(ctx).Where("user_id = ?", userID).FirstOrCreate(&row).Error
	}
	return s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.BlockedUser{}).Error
}

// BlockedUserIDs returns the set of blocked user ids
func (s *ProfileStore) BlockedUserIDs(ctx context.Context) (map[string]bool, error) {
	var rows []models.BlockedUser
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}

	blocked := make(map[string]bool, len(rows))
	for _, row := range rows {
		blocked[row.UserID] = true
	}
	return blocked, nil
}
