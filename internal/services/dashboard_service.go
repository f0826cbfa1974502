package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"subscription-api/internal/models"
	"subscription-api/pkg/logging"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	dashboardCacheKey   = "dashboard:snapshot"
	dashboardVersionKey = "dashboard:version"
	signupMonths        = 6
)

// Dashboard filters
const (
	FilterAll      = "all"
	FilterActive   = "active"
	FilterTrialing = "trialing"
	FilterCanceled = "canceled"
	FilterBlocked  = "blocked"
)

// DashboardStore is the part of the profile store read by the dashboard
type DashboardStore interface {
	ListProfiles(ctx context.Context) ([]models.Profile, error)
	BlockedUserIDs(ctx context.Context) (map[string]bool, error)
	SetBlocked(ctx context.Context, userID string, blocked bool) error
}

// PlanPricing identifies the recurring plans and their prices
type PlanPricing struct {
	MonthlyID    string
	MonthlyPrice float64
	YearlyID     string
	YearlyPrice  float64
}

// AdminUser is one row of the admin user table
type AdminUser struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	FullName           string     `json:"full_name"`
	SubscriptionID     *string    `json:"subscription_id"`
	SubscriptionStatus string     `json:"subscription_status"`
	CancelAtPeriodEnd  bool       `json:"cancel_at_period_end"`
	PlanID             string     `json:"plan_id"`
	TrialEnd           *time.Time `json:"trial_end"`
	LastSignInAt       *time.Time `json:"last_sign_in_at"`
	CreatedAt          time.Time  `json:"created_at"`
	IsBlocked          bool       `json:"is_blocked"`
}

// DashboardStats are the headline subscription figures
type DashboardStats struct {
	Total          int     `json:"total"`
	Active         int     `json:"active"`
	Trialing       int     `json:"trialing"`
	Canceled       int     `json:"canceled"`
	ConversionRate float64 `json:"conversion_rate"`
	MRR            float64 `json:"mrr"`
	ChurnRate      float64 `json:"churn_rate"`
}

// MonthlySignups counts profiles created in one calendar month
type MonthlySignups struct {
	Month string `json:"month"` // YYYY-MM
	Count int    `json:"count"`
}

// DashboardSnapshot is the full user set with its derived figures
type DashboardSnapshot struct {
	Users          []AdminUser      `json:"users"`
	Stats          DashboardStats   `json:"stats"`
	SignupsByMonth []MonthlySignups `json:"signups_by_month"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// DashboardView is a snapshot with search and filter applied to its users
type DashboardView struct {
	Stats          DashboardStats   `json:"stats"`
	SignupsByMonth []MonthlySignups `json:"signups_by_month"`
	Users          []AdminUser      `json:"users"`
	Matched        int              `json:"matched"`
	GeneratedAt    time.Time        `json:"generated_at"`
}

// ConversionRate is active/(active+canceled) as a percentage, 0 without active users
func ConversionRate(active, canceled int) float64 {
	if active == 0 {
		return 0
	}
	return float64(active) / float64(active+canceled) * 100
}

// ChurnRate is canceled/(active+canceled) as a percentage
func ChurnRate(active, canceled int) float64 {
	total := active + canceled
	if total == 0 {
		return 0
	}
	return float64(canceled) / float64(total) * 100
}

// MonthlyRecurringRevenue estimates MRR from active plan counts
func MonthlyRecurringRevenue(monthly, yearly int, pricing PlanPricing) float64 {
	return float64(monthly)*pricing.MonthlyPrice + float64(yearly)*pricing.YearlyPrice/12
}

// ComputeStats derives the headline figures from the user set
func ComputeStats(users []AdminUser, pricing PlanPricing) DashboardStats {
	stats := DashboardStats{Total: len(users)}
	var monthly, yearly int
	for _, u := range users {
		switch u.SubscriptionStatus {
		case models.StatusActive:
			stats.Active++
			switch u.PlanID {
			case pricing.MonthlyID:
				monthly++
			case pricing.YearlyID:
				yearly++
			}
		case models.StatusTrialing:
			stats.Trialing++
		case models.StatusCanceled:
			stats.Canceled++
		}
	}
	stats.ConversionRate = ConversionRate(stats.Active, stats.Canceled)
	stats.ChurnRate = ChurnRate(stats.Active, stats.Canceled)
	stats.MRR = MonthlyRecurringRevenue(monthly, yearly, pricing)
	return stats
}

// SignupsByMonth counts signups per calendar month for the months ending
// with the one containing now, oldest first.
func SignupsByMonth(users []AdminUser, now time.Time, months int) []MonthlySignups {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)

	series := make([]MonthlySignups, months)
	for i := range series {
		series[i].Month = first.AddDate(0, i, 0).Format("2006-01")
	}
	for _, u := range users {
		created := u.CreatedAt.UTC()
		if created.Before(first) {
			continue
		}
		idx := (created.Year()-first.Year())*12 + int(created.Month()) - int(first.Month())
		if idx >= 0 && idx < months {
			series[idx].Count++
		}
	}
	return series
}

// ValidateFilter checks a dashboard filter value. Empty means all.
func ValidateFilter(filter string) error {
	switch filter {
	case "", FilterAll, FilterActive, FilterTrialing, FilterCanceled, FilterBlocked:
		return nil
	}
	return validationError("Invalid filter: " + filter)
}

// FilterUsers applies a case-insensitive search over email and name, then
// the status or blocked filter.
func FilterUsers(users []AdminUser, search, filter string) ([]AdminUser, error) {
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}
	search = strings.ToLower(strings.TrimSpace(search))

	result := make([]AdminUser, 0, len(users))
	for _, u := range users {
		if search != "" &&
			!strings.Contains(strings.ToLower(u.Email), search) &&
			!strings.Contains(strings.ToLower(u.FullName), search) {
			continue
		}
		switch filter {
		case "", FilterAll:
		case FilterBlocked:
			if !u.IsBlocked {
				continue
			}
		default:
			if u.SubscriptionStatus != filter {
				continue
			}
		}
		result = append(result, u)
	}
	return result, nil
}

// DashboardService aggregates the admin dashboard. Snapshots are cached in
// Redis when available and concurrent rebuilds share one computation.
type DashboardService struct {
	store   DashboardStore
	cache   *redis.Client
	ttl     time.Duration
	pricing PlanPricing
	group   singleflight.Group
	now     func() time.Time
}

// NewDashboardService creates a new dashboard service. cache may be nil.
func NewDashboardService(store DashboardStore, cache *redis.Client, ttl time.Duration, pricing PlanPricing) *DashboardService {
	return &DashboardService{
		store:   store,
		cache:   cache,
		ttl:     ttl,
		pricing: pricing,
		now:     time.Now,
	}
}

// View returns the dashboard with search and filter applied
func (s *DashboardService) View(ctx context.Context, search, filter string) (*DashboardView, error) {
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}

	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	users, err := FilterUsers(snapshot.Users, search, filter)
	if err != nil {
		return nil, err
	}
	return &DashboardView{
		Stats:          snapshot.Stats,
		SignupsByMonth: snapshot.SignupsByMonth,
		Users:          users,
		Matched:        len(users),
		GeneratedAt:    snapshot.GeneratedAt,
	}, nil
}

// Snapshot returns the cached snapshot or rebuilds it. A snapshot is stored
// under the cache version read before the build, so one that raced an
// invalidation is never served.
func (s *DashboardService) Snapshot(ctx context.Context) (*DashboardSnapshot, error) {
	version, cacheable := s.version(ctx)
	if cacheable {
		if snapshot, ok := s.cached(ctx, version); ok {
			return snapshot, nil
		}
	}

	// shared by every waiting caller, so it must not end with the first one
	buildCtx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(snapshotKey(version), func() (interface{}, error) {
		snapshot, err := s.build(buildCtx)
		if err != nil {
			return nil, err
		}
		if cacheable {
			s.save(buildCtx, version, snapshot)
		}
		return snapshot, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DashboardSnapshot), nil
}

func (s *DashboardService) build(ctx context.Context) (*DashboardSnapshot, error) {
	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return nil, upstream("Failed to load users", err)
	}
	blocked, err := s.store.BlockedUserIDs(ctx)
	if err != nil {
		return nil, upstream("Failed to load blocked users", err)
	}

	users := make([]AdminUser, 0, len(profiles))
	for _, p := range profiles {
		users = append(users, AdminUser{
			ID:                 p.ID,
			Email:              p.Email,
			FullName:           p.FullName,
			SubscriptionID:     p.SubscriptionID,
			SubscriptionStatus: p.SubscriptionStatus,
			CancelAtPeriodEnd:  p.CancelAtPeriodEnd,
			PlanID:             p.PlanID,
			TrialEnd:           p.TrialEnd,
			LastSignInAt:       p.LastSignInAt,
			CreatedAt:          p.CreatedAt,
			IsBlocked:          blocked[p.ID],
		})
	}

	now := s.now()
	return &DashboardSnapshot{
		Users:          users,
		Stats:          ComputeStats(users, s.pricing),
		SignupsByMonth: SignupsByMonth(users, now, signupMonths),
		GeneratedAt:    now.UTC(),
	}, nil
}

func snapshotKey(version int64) string {
	return fmt.Sprintf("%s:%d", dashboardCacheKey, version)
}

// version returns the current cache generation. It reports false when
// snapshots must not be cached.
func (s *DashboardService) version(ctx context.Context) (int64, bool) {
	if s.cache == nil || s.ttl <= 0 {
		return 0, false
	}
	version, err := s.cache.Get(ctx, dashboardVersionKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, true
		}
		logging.Warnf("Failed to read dashboard cache version: %v", err)
		return 0, false
	}
	return version, true
}

func (s *DashboardService) cached(ctx context.Context, version int64) (*DashboardSnapshot, bool) {
	data, err := s.cache.Get(ctx, snapshotKey(version)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Warnf("Failed to read dashboard cache: %v", err)
		}
		return nil, false
	}
	var snapshot DashboardSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		logging.Warnf("Discarding unreadable dashboard cache entry: %v", err)
		return nil, false
	}
	return &snapshot, true
}

func (s *DashboardService) save(ctx context.Context, version int64, snapshot *DashboardSnapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		logging.Warnf("Failed to encode dashboard snapshot: %v", err)
		return
	}
	if err := s.cache.Set(ctx, snapshotKey(version), data, s.ttl).Err(); err != nil {
		logging.Warnf("Failed to write dashboard cache: %v", err)
	}
}

// Invalidate moves the cache to a new version. Older snapshots expire on
// their own.
func (s *DashboardService) Invalidate(ctx context.Context) {
	if s == nil || s.cache == nil {
		return
	}
	if err := s.cache.Incr(ctx, dashboardVersionKey).Err(); err != nil {
		logging.Warnf("Failed to invalidate dashboard cache: %v", err)
	}
}

// SetBlocked blocks or unblocks a user
func (s *DashboardService) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	if strings.TrimSpace(userID) == "" {
		return validationError("User ID is required")
	}
	if err := s.store.SetBlocked(ctx, userID, blocked); err != nil {
		return upstream("Failed to update user block status", err)
	}
	logging.Infof("User block status changed - user: %s, blocked: %t", userID, blocked)
	s.Invalidate(ctx)
	return nil
}
