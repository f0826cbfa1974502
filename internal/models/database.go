package models

import (
	"time"
)

// BaseModel provides common fields for registry tables
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Profile mirrors one auth user and a denormalized copy of their subscription.
// Subscription fields are written after the billing provider has been mutated,
// so they can lag behind the provider.
type Profile struct {
	ID       string `json:"id" gorm:"primaryKey;size:64"` // auth user id
	Email    string `json:"email" gorm:"size:255;index"`
	FullName string `json:"full_name" gorm:"size:255"`

	SubscriptionID     *string    `json:"subscription_id" gorm:"size:255;index"`
	SubscriptionStatus string     `json:"subscription_status" gorm:"size:32;index"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	PlanID             string     `json:"plan_id" gorm:"size:255"`
	TrialEnd           *time.Time `json:"trial_end"`
	StripeCustomerID   string     `json:"stripe_customer_id" gorm:"size:255"`

	LastSignInAt *time.Time `json:"last_sign_in_at"`
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Profile) TableName() string {
	return "profiles"
}

// Admin marks a user as holding the admin capability
type Admin struct {
	BaseModel
	UserID string `json:"user_id" gorm:"uniqueIndex;size:64;not null"`
}

func (Admin) TableName() string {
	return "admins"
}

// BlockedUser marks a user as blocked by an admin
type BlockedUser struct {
	BaseModel
	UserID string `json:"user_id" gorm:"uniqueIndex;size:64;not null"`
}

func (BlockedUser) TableName() string {
	return "blocked_users"
}
