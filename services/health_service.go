package services

import (
	"context"
	"runtime"
	"strings"
	"time"

	"drivingschool_go/config"
	"drivingschool_go/database"
	"drivingschool_go/models"
	"drivingschool_go/services/messaging"
	"drivingschool_go/services/scheduling"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	overallStatusOK       = "ok"
	overallStatusDegraded = "degraded"
	overallStatusCritical = "critical"

	dependencyStatusUp       = "up"
	dependencyStatusDown     = "down"
	dependencyStatusDisabled = "disabled"

	lockBackendRedis     = "redis"
	lockBackendInProcess = "in-process"

	defaultServiceName = "Driving School Scheduling API"
	defaultVersion     = "1.0.0"
	defaultTimeout     = 1500 * time.Millisecond
)

// HealthService reports whether the API can schedule: the stores it writes
// to, the lock backend guarding vehicle slots, and whether the background
// jobs keep up.
type HealthService struct {
	serviceName string
	version     string
	startTime   time.Time
	timeout     time.Duration
	db          *gorm.DB
	redis       *redis.Client
	cfg         *config.Config
	today       func() scheduling.Date
}

type HealthReport struct {
	Status        string             `json:"status"`
	Service       string             `json:"service"`
	Version       string             `json:"version"`
	Environment   string             `json:"environment"`
	Time          time.Time          `json:"time"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	Scheduling    *SchedulingHealth  `json:"scheduling,omitempty"`
	Messaging     MessagingHealth    `json:"messaging"`
	Runtime       RuntimeHealth      `json:"runtime"`
}

type DependencyStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	Mode      string `json:"mode,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// SchedulingHealth summarises the session table. OverdueOpen counts
// SCHEDULED or RESCHEDULED sessions dated before today; the no-show sweep
// clears them, so a backlog older than yesterday means the sweep is not
// running.
type SchedulingHealth struct {
	Today         string `json:"today"`
	LockBackend   string `json:"lock_backend"`
	SessionsToday int64  `json:"sessions_today"`
	OverdueOpen   int64  `json:"overdue_open"`
	OldestOverdue string `json:"oldest_overdue,omitempty"`
	SweepLagging  bool   `json:"sweep_lagging"`
}

type MessagingHealth struct {
	Channels      []string `json:"channels"`
	FailedLastDay int64    `json:"failed_last_day"`
}

type RuntimeHealth struct {
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	GoVersion      string `json:"go_version"`
}

func NewHealthService(serviceName, version string) *HealthService {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = defaultServiceName
	}
	if strings.TrimSpace(version) == "" {
		version = defaultVersion
	}

	return &HealthService{
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		timeout:     defaultTimeout,
		db:          database.GetDB(),
		redis:       database.GetRedisClient(),
		cfg:         config.AppConfig,
		today:       func() scheduling.Date { return scheduling.DateOf(time.Now()) },
	}
}

// SetBackends replaces the probed database, Redis client and config.
func (s *HealthService) SetBackends(db *gorm.DB, rdb *redis.Client, cfg *config.Config) {
	s.db = db
	s.redis = rdb
	s.cfg = cfg
}

// SetToday makes the overdue check use the engine's calendar.
func (s *HealthService) SetToday(fn func() scheduling.Date) {
	if fn != nil {
		s.today = fn
	}
}

func (s *HealthService) SetStartTime(t time.Time) {
	if !t.IsZero() {
		s.startTime = t
	}
}

func (s *HealthService) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// GetHealthReport probes the dependencies and the session backlog.
func (s *HealthService) GetHealthReport() HealthReport {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report := HealthReport{
		Status:      overallStatusOK,
		Service:     s.serviceName,
		Version:     s.version,
		Environment: s.environment(),
		Time:        time.Now().UTC(),
	}
	if uptime := time.Since(s.startTime); uptime > 0 {
		report.UptimeSeconds = uptime.Seconds()
	}

	dbDep := s.checkDatabase(ctx)
	redisDep := s.checkRedis(ctx)
	report.Dependencies = []DependencyStatus{dbDep, redisDep}

	if dbDep.Status != dependencyStatusUp {
		report.Status = overallStatusCritical
	} else if redisDep.Status == dependencyStatusDown && redisDep.Mode == "required" {
		report.Status = overallStatusDegraded
	}

	if dbDep.Status == dependencyStatusUp {
		sched, err := s.checkScheduling(ctx)
		if err != nil {
			report.Status = overallStatusCritical
		} else {
			report.Scheduling = sched
			if sched.SweepLagging && report.Status == overallStatusOK {
				report.Status = overallStatusDegraded
			}
		}
		report.Messaging.FailedLastDay = s.failedDispatches(ctx)
	}
	report.Messaging.Channels = s.channels()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	report.Runtime = RuntimeHealth{
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		GoVersion:      runtime.Version(),
	}
	return report
}

// HTTPStatusForOverall maps a health status to an HTTP status code.
func (s *HealthService) HTTPStatusForOverall(status string) int {
	if status == overallStatusCritical {
		return 503
	}
	return 200
}

func (s *HealthService) checkDatabase(ctx context.Context) DependencyStatus {
	dep := DependencyStatus{Name: "mysql", Mode: "required"}
	if s.cfg != nil && s.cfg.DBDriver != "" {
		dep.Name = s.cfg.DBDriver
	}
	if s.db == nil {
		dep.Status = dependencyStatusDown
		dep.Error = "database connection not initialised"
		return dep
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		dep.Status = dependencyStatusDown
		dep.Error = err.Error()
		return dep
	}
	start := time.Now()
	err = sqlDB.PingContext(ctx)
	dep.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		dep.Status = dependencyStatusDown
		dep.Error = err.Error()
		return dep
	}
	dep.Status = dependencyStatusUp
	return dep
}

// checkRedis treats Redis as required when it backs the slot locks or the
// notification queue.
func (s *HealthService) checkRedis(ctx context.Context) DependencyStatus {
	dep := DependencyStatus{Name: "redis", Mode: "optional"}
	if s.cfg != nil && (s.cfg.UseRedisLocks || s.cfg.UseRedisNotifications) {
		dep.Mode = "required"
	}
	if s.redis == nil {
		dep.Status = dependencyStatusDisabled
		if dep.Mode == "required" {
			dep.Status = dependencyStatusDown
			dep.Error = "redis client not initialised"
		}
		return dep
	}

	start := time.Now()
	err := s.redis.Ping(ctx).Err()
	dep.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		dep.Status = dependencyStatusDown
		dep.Error = err.Error()
		return dep
	}
	dep.Status = dependencyStatusUp
	return dep
}

func (s *HealthService) checkScheduling(ctx context.Context) (*SchedulingHealth, error) {
	today := s.today()
	h := &SchedulingHealth{Today: today.String(), LockBackend: s.lockBackend()}
	open := []scheduling.Status{scheduling.StatusScheduled, scheduling.StatusRescheduled}

	q := s.db.WithContext(ctx).Model(&models.Session{})
	if err := q.Where("session_date = ?", today).Count(&h.SessionsToday).Error; err != nil {
		return nil, err
	}

	overdue := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_date < ? AND status IN ?", today, open)
	if err := overdue.Session(&gorm.Session{}).Count(&h.OverdueOpen).Error; err != nil {
		return nil, err
	}
	if h.OverdueOpen == 0 {
		return h, nil
	}

	var oldest models.Session
	if err := overdue.Order("session_date").First(&oldest).Error; err != nil {
		return nil, err
	}
	h.OldestOverdue = oldest.SessionDate.String()
	h.SweepLagging = oldest.SessionDate.Before(today.AddDays(-1))
	return h, nil
}

func (s *HealthService) lockBackend() string {
	if s.cfg != nil && s.cfg.UseRedisLocks && s.redis != nil {
		return lockBackendRedis
	}
	return lockBackendInProcess
}

func (s *HealthService) failedDispatches(ctx context.Context) int64 {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.MessageDispatch{}).
		Where("status = ? AND created_at >= ?", messaging.StatusFailed, time.Now().Add(-24*time.Hour)).
		Count(&n).Error
	if err != nil {
		return 0
	}
	return n
}

func (s *HealthService) channels() []string {
	out := []string{}
	if s.cfg == nil {
		return out
	}
	if s.cfg.WhatsAppToken != "" && s.cfg.WhatsAppPhoneNumberID != "" {
		out = append(out, string(messaging.ChannelWhatsApp))
	}
	if s.cfg.LineChannelAccessToken != "" {
		out = append(out, string(messaging.ChannelLine))
	}
	return out
}

func (s *HealthService) environment() string {
	if s.cfg == nil || strings.TrimSpace(s.cfg.AppEnv) == "" {
		return "unknown"
	}
	return strings.TrimSpace(s.cfg.AppEnv)
}
