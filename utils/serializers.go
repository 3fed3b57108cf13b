package utils

import (
	"time"

	"drivingschool_go/models"
	"drivingschool_go/services/scheduling"
)

// Compact representations used across APIs
type ClientShort struct {
	ID       uint   `json:"id"`
	FullName string `json:"full_name,omitempty"`
}

type VehicleShort struct {
	ID                 uint   `json:"id"`
	RegistrationNumber string `json:"registration_number,omitempty"`
}

type SessionDTO struct {
	ID                uint                 `json:"id"`
	BranchID          uint                 `json:"branch_id"`
	SessionDate       scheduling.Date      `json:"session_date"`
	Weekday           string               `json:"weekday"`
	StartTime         scheduling.TimeOfDay `json:"start_time"`
	EndTime           scheduling.TimeOfDay `json:"end_time"`
	Status            scheduling.Status    `json:"status"`
	SessionNumber     int                  `json:"session_number"`
	OriginalSessionID *uint                `json:"original_session_id"`
	Client            ClientShort          `json:"client"`
	Vehicle           VehicleShort         `json:"vehicle"`
}

// Directory resolves display names for ids found in sessions.
type Directory struct {
	Clients  map[uint]string
	Vehicles map[uint]string
}

// ToSessionDTO maps an engine session; names are looked up in dir when given.
func ToSessionDTO(s scheduling.Session, dir *Directory) SessionDTO {
	dto := SessionDTO{
		ID:                s.ID,
		BranchID:          s.BranchID,
		SessionDate:       s.SessionDate,
		Weekday:           s.SessionDate.Weekday().String(),
		StartTime:         s.StartTime,
		EndTime:           s.EndTime,
		Status:            s.Status,
		SessionNumber:     s.SessionNumber,
		OriginalSessionID: s.OriginalSessionID,
		Client:            ClientShort{ID: s.ClientID},
		Vehicle:           VehicleShort{ID: s.VehicleID},
	}
	if dir != nil {
		dto.Client.FullName = dir.Clients[s.ClientID]
		dto.Vehicle.RegistrationNumber = dir.Vehicles[s.VehicleID]
	}
	return dto
}

func ToSessionDTOs(sessions []scheduling.Session, dir *Directory) []SessionDTO {
	out := make([]SessionDTO, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, ToSessionDTO(s, dir))
	}
	return out
}

type Recipient struct {
	Type string `json:"type"` // "user" or "branch"
	ID   uint   `json:"id"`
}

type NotificationDTO struct {
	ID        uint        `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	Title     string      `json:"title"`
	Message   string      `json:"message"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Read      bool        `json:"read"`
	ReadAt    *time.Time  `json:"read_at,omitempty"`
	Recipient Recipient   `json:"recipient"`
}

// ToNotificationDTO maps a models.Notification to the compact DTO.
func ToNotificationDTO(n models.Notification) NotificationDTO {
	recipient := Recipient{Type: "branch", ID: n.BranchID}
	if n.UserID != nil {
		recipient = Recipient{Type: "user", ID: *n.UserID}
	}
	dto := NotificationDTO{
		ID:        n.ID,
		CreatedAt: n.CreatedAt,
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Type,
		Read:      n.Read,
		ReadAt:    n.ReadAt,
		Recipient: recipient,
	}
	if len(n.Data) > 0 {
		dto.Data = n.Data
	}
	return dto
}
