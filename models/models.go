package models

import (
	"encoding/json"
	"fmt"
	"time"

	"drivingschool_go/services/scheduling"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// Branch model
type Branch struct {
	BaseModel
	Name    string `json:"name" gorm:"size:255;not null"`
	Code    string `json:"code" gorm:"size:50;not null;uniqueIndex"`
	Address string `json:"address" gorm:"size:500"`
	Phone   string `json:"phone" gorm:"size:20"`
	Active  bool   `json:"active" gorm:"default:true"`

	// Relationships
	Settings *BranchSettings `json:"settings,omitempty" gorm:"foreignKey:BranchID"`
	Vehicles []Vehicle       `json:"vehicles,omitempty" gorm:"foreignKey:BranchID"`
}

// BranchSettings holds the calendar a branch schedules against.
type BranchSettings struct {
	BaseModel
	BranchID               uint                 `json:"branch_id" gorm:"not null;uniqueIndex"`
	WorkingDays            datatypes.JSON       `json:"working_days"`
	OpenTime               scheduling.TimeOfDay `json:"open_time" gorm:"size:5;not null;default:'08:00'"`
	CloseTime              scheduling.TimeOfDay `json:"close_time" gorm:"size:5;not null;default:'18:00'"`
	SessionDurationMinutes int                  `json:"session_duration_minutes" gorm:"not null;default:30"`
	UpdatedByUserID        uint                 `json:"updated_by_user_id"`
}

// Days decodes the stored working days. A missing value means no working days.
func (s BranchSettings) Days() ([]int, error) {
	if len(s.WorkingDays) == 0 {
		return []int{}, nil
	}
	var days []int
	if err := json.Unmarshal(s.WorkingDays, &days); err != nil {
		return nil, fmt.Errorf("decode working days for branch %d: %w", s.BranchID, err)
	}
	return days, nil
}

func (s *BranchSettings) SetDays(days []int) error {
	raw, err := json.Marshal(days)
	if err != nil {
		return err
	}
	s.WorkingDays = datatypes.JSON(raw)
	return nil
}

// Config converts the row into the scheduling calendar.
func (s BranchSettings) Config() (scheduling.BranchConfig, error) {
	days, err := s.Days()
	if err != nil {
		return scheduling.BranchConfig{}, err
	}
	return scheduling.BranchConfig{
		BranchID:       s.BranchID,
		WorkingDays:    days,
		OperatingHours: scheduling.OperatingHours{Start: s.OpenTime, End: s.CloseTime},
	}, nil
}

// Client model. LicenseStatus moves none -> learner -> applied -> issued.
type Client struct {
	BaseModel
	BranchID             uint       `json:"branch_id" gorm:"not null;index"`
	FullName             string     `json:"full_name" gorm:"size:200;not null"`
	Phone                string     `json:"phone" gorm:"size:20"`
	Email                string     `json:"email" gorm:"size:255"`
	LineUserID           string     `json:"line_user_id" gorm:"size:100;index"`
	WhatsAppOptIn        bool       `json:"whatsapp_opt_in" gorm:"default:true"`
	LicenseType          string     `json:"license_type" gorm:"size:20"`
	LicenseStatus        string     `json:"license_status" gorm:"size:20;not null;default:'none'"`
	LearnerLicenseNumber string     `json:"learner_license_number" gorm:"size:50"`
	LearnerLicenseExpiry *time.Time `json:"learner_license_expiry"`

	// Relationships
	Branch Branch          `json:"branch,omitempty" gorm:"foreignKey:BranchID"`
	Plan   *EnrollmentPlan `json:"plan,omitempty" gorm:"foreignKey:ClientID"`
}

// Vehicle model
type Vehicle struct {
	BaseModel
	BranchID           uint   `json:"branch_id" gorm:"not null;index"`
	RegistrationNumber string `json:"registration_number" gorm:"size:20;not null;uniqueIndex"`
	Model              string `json:"model" gorm:"size:100"`
	Transmission       string `json:"transmission" gorm:"size:20;default:'manual'"` // manual, automatic
	Active             bool   `json:"active" gorm:"default:true"`
}

// EnrollmentPlan is the package a client bought.
type EnrollmentPlan struct {
	BaseModel
	ClientID                 uint                 `json:"client_id" gorm:"not null;uniqueIndex"`
	BranchID                 uint                 `json:"branch_id" gorm:"not null;index"`
	VehicleID                uint                 `json:"vehicle_id" gorm:"not null"`
	JoiningDate              scheduling.Date      `json:"joining_date" gorm:"type:date;not null"`
	JoiningTime              scheduling.TimeOfDay `json:"joining_time" gorm:"size:5;not null"`
	NumberOfSessions         int                  `json:"number_of_sessions" gorm:"not null"`
	SessionDurationInMinutes int                  `json:"session_duration_in_minutes" gorm:"not null;default:30"`
	TotalFee                 int64                `json:"total_fee"`
}

func (p EnrollmentPlan) ToScheduling() scheduling.EnrollmentPlan {
	return scheduling.EnrollmentPlan{
		ClientID:                 p.ClientID,
		VehicleID:                p.VehicleID,
		BranchID:                 p.BranchID,
		JoiningDate:              p.JoiningDate,
		JoiningTime:              p.JoiningTime,
		NumberOfSessions:         p.NumberOfSessions,
		SessionDurationInMinutes: p.SessionDurationInMinutes,
	}
}

// Session is one lesson row. session_date is a plain DATE and the times are
// stored as HH:MM strings.
type Session struct {
	BaseModel
	ClientID          uint                 `json:"client_id" gorm:"not null;index"`
	VehicleID         uint                 `json:"vehicle_id" gorm:"not null;index:idx_sessions_vehicle_slot"`
	BranchID          uint                 `json:"branch_id" gorm:"not null;index"`
	SessionDate       scheduling.Date      `json:"session_date" gorm:"type:date;not null;index:idx_sessions_vehicle_slot"`
	StartTime         scheduling.TimeOfDay `json:"start_time" gorm:"size:5;not null;index:idx_sessions_vehicle_slot"`
	EndTime           scheduling.TimeOfDay `json:"end_time" gorm:"size:5;not null"`
	Status            scheduling.Status    `json:"status" gorm:"size:20;not null;default:'SCHEDULED';index"`
	SessionNumber     int                  `json:"session_number" gorm:"not null"`
	OriginalSessionID *uint                `json:"original_session_id" gorm:"default:null"`
}

func (s Session) ToScheduling() scheduling.Session {
	return scheduling.Session{
		ID:                s.ID,
		ClientID:          s.ClientID,
		VehicleID:         s.VehicleID,
		BranchID:          s.BranchID,
		SessionDate:       s.SessionDate,
		StartTime:         s.StartTime,
		EndTime:           s.EndTime,
		Status:            s.Status,
		SessionNumber:     s.SessionNumber,
		OriginalSessionID: s.OriginalSessionID,
	}
}

func SessionFromScheduling(s scheduling.Session) Session {
	row := Session{
		ClientID:          s.ClientID,
		VehicleID:         s.VehicleID,
		BranchID:          s.BranchID,
		SessionDate:       s.SessionDate,
		StartTime:         s.StartTime,
		EndTime:           s.EndTime,
		Status:            s.Status,
		SessionNumber:     s.SessionNumber,
		OriginalSessionID: s.OriginalSessionID,
	}
	row.ID = s.ID
	return row
}

// SessionAudit records every committed scheduling change.
type SessionAudit struct {
	BaseModel
	BranchID    uint           `json:"branch_id" gorm:"index"`
	ClientID    uint           `json:"client_id" gorm:"index"`
	ActorUserID uint           `json:"actor_user_id"`
	Action      string         `json:"action" gorm:"size:100;not null"`
	Summary     string         `json:"summary" gorm:"size:500"`
	Details     datatypes.JSON `json:"details"`
	IPAddress   string         `json:"ip_address" gorm:"size:45"`
}

// AuditArchive tracks audit rows moved to object storage
type AuditArchive struct {
	BaseModel
	FileName    string    `json:"file_name" gorm:"size:255;not null"`
	S3Key       string    `json:"s3_key" gorm:"size:500;not null"`
	StartDate   time.Time `json:"start_date" gorm:"not null"`
	EndDate     time.Time `json:"end_date" gorm:"not null"`
	RecordCount int       `json:"record_count" gorm:"not null"`
	FileSize    int64     `json:"file_size" gorm:"not null"`
	Status      string    `json:"status" gorm:"size:50;not null;default:'pending'"` // pending, completed, failed
	Error       string    `json:"error" gorm:"type:text"`
}

// Notification model. A nil UserID addresses every staff member of the branch.
type Notification struct {
	BaseModel
	UserID   *uint          `json:"user_id" gorm:"index"`
	BranchID uint           `json:"branch_id" gorm:"not null;index"`
	Title    string         `json:"title" gorm:"size:255;not null"`
	Message  string         `json:"message" gorm:"type:text;not null"`
	Type     string         `json:"type" gorm:"size:50;not null;default:'info'"` // info, warning, error, success
	Data     datatypes.JSON `json:"data"`
	Read     bool           `json:"read" gorm:"default:false"`
	ReadAt   *time.Time     `json:"read_at"`
}

// MessageDispatch is the delivery record of one outbound WhatsApp or LINE message.
type MessageDispatch struct {
	BaseModel
	IdempotencyKey string     `json:"idempotency_key" gorm:"size:255;not null;uniqueIndex"`
	Channel        string     `json:"channel" gorm:"size:20;not null"`
	Kind           string     `json:"kind" gorm:"size:50;not null"`
	Recipient      string     `json:"recipient" gorm:"size:100;not null"`
	Reference      string     `json:"reference" gorm:"size:100"`
	Status         string     `json:"status" gorm:"size:20;not null"` // sent, failed, duplicate
	Attempts       int        `json:"attempts"`
	Error          string     `json:"error" gorm:"type:text"`
	SentAt         *time.Time `json:"sent_at"`
}

// MessagingContact links a LINE user to a client once they follow the account.
type MessagingContact struct {
	BaseModel
	LineUserID  string     `json:"line_user_id" gorm:"size:100;not null;uniqueIndex"`
	ClientID    *uint      `json:"client_id" gorm:"index"`
	DisplayName string     `json:"display_name" gorm:"size:200"`
	OptedIn     bool       `json:"opted_in" gorm:"default:true"`
	OptedOutAt  *time.Time `json:"opted_out_at"`
}

// Payment model
type Payment struct {
	BaseModel
	ClientID      uint      `json:"client_id" gorm:"not null;index"`
	BranchID      uint      `json:"branch_id" gorm:"not null;index"`
	Amount        int64     `json:"amount" gorm:"not null"`
	Method        string    `json:"method" gorm:"size:30"` // cash, upi, card
	ReceiptNumber string    `json:"receipt_number" gorm:"size:50;not null;uniqueIndex"`
	PaidAt        time.Time `json:"paid_at"`
	RecordedBy    uint      `json:"recorded_by"`
}

// All lists the models managed by AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Branch{},
		&BranchSettings{},
		&Client{},
		&Vehicle{},
		&EnrollmentPlan{},
		&Session{},
		&SessionAudit{},
		&AuditArchive{},
		&Notification{},
		&MessageDispatch{},
		&MessagingContact{},
		&Payment{},
	}
}
