package services

import (
	"context"
	"fmt"
	"time"

	"drivingschool_go/models"
	"drivingschool_go/services/scheduling"
	"drivingschool_go/storage"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const exportSheet = "Sessions"

var exportHeader = []interface{}{"Date", "Day", "Start", "End", "Vehicle", "Client", "Session #", "Status", "Original Session"}

// ObjectUploader stores export files.
type ObjectUploader interface {
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error)
	DownloadURL(key string, ttl time.Duration) (string, error)
}

// ScheduleExport describes an uploaded workbook.
type ScheduleExport struct {
	Key          string `json:"key"`
	URL          string `json:"url"`
	SessionCount int    `json:"session_count"`
}

type ScheduleExportService struct {
	db       *gorm.DB
	engine   *scheduling.Engine
	uploader ObjectUploader
}

func NewScheduleExportService(db *gorm.DB, engine *scheduling.Engine, uploader ObjectUploader) *ScheduleExportService {
	return &ScheduleExportService{db: db, engine: engine, uploader: uploader}
}

// BuildWorkbook renders sessions as one sheet, in date order.
func BuildWorkbook(sessions []scheduling.Session, clientNames, vehicleNames map[uint]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	if err := f.SetRowStyle(exportSheet, 1, 1, bold); err != nil {
		return nil, err
	}

	for i, s := range sessions {
		original := ""
		if s.OriginalSessionID != nil {
			original = fmt.Sprint(*s.OriginalSessionID)
		}
		vehicle := vehicleNames[s.VehicleID]
		if vehicle == "" {
			vehicle = fmt.Sprint(s.VehicleID)
		}
		row := []interface{}{
			s.SessionDate.String(),
			s.SessionDate.Weekday().String(),
			s.StartTime.String(),
			s.EndTime.String(),
			vehicle,
			clientNames[s.ClientID],
			s.SessionNumber,
			string(s.Status),
			original,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(exportSheet, "A", "I", 16); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Export builds the branch schedule between from and to and uploads it.
func (s *ScheduleExportService) Export(ctx context.Context, branchID uint, from, to scheduling.Date) (ScheduleExport, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return ScheduleExport{}, fmt.Errorf("%w: to %s is before from %s", scheduling.ErrValidation, to, from)
	}
	if s.uploader == nil {
		return ScheduleExport{}, fmt.Errorf("object storage is not configured")
	}

	sessions, err := s.engine.ListSessions(ctx, scheduling.SessionFilter{BranchID: branchID, FromDate: from, ToDate: to})
	if err != nil {
		return ScheduleExport{}, err
	}

	clientNames := map[uint]string{}
	var clients []models.Client
	if err := s.db.WithContext(ctx).Select("id", "full_name").Where("branch_id = ?", branchID).Find(&clients).Error; err != nil {
		return ScheduleExport{}, err
	}
	for _, c := range clients {
		clientNames[c.ID] = c.FullName
	}
	vehicleNames := map[uint]string{}
	var vehicles []models.Vehicle
	if err := s.db.WithContext(ctx).Select("id", "registration_number").Where("branch_id = ?", branchID).Find(&vehicles).Error; err != nil {
		return ScheduleExport{}, err
	}
	for _, v := range vehicles {
		vehicleNames[v.ID] = v.RegistrationNumber
	}

	data, err := BuildWorkbook(sessions, clientNames, vehicleNames)
	if err != nil {
		return ScheduleExport{}, fmt.Errorf("build workbook: %w", err)
	}

	name := fmt.Sprintf("sessions_%s_%s.xlsx", orOpen(from), orOpen(to))
	key := storage.ObjectKey(fmt.Sprintf("exports/branch-%d", branchID), name, time.Now())
	if _, err := s.uploader.UploadBytes(ctx, key, data, storage.ContentType("xlsx")); err != nil {
		return ScheduleExport{}, err
	}
	url, err := s.uploader.DownloadURL(key, storage.DownloadURLTTL)
	if err != nil {
		return ScheduleExport{}, err
	}
	return ScheduleExport{Key: key, URL: url, SessionCount: len(sessions)}, nil
}

func orOpen(d scheduling.Date) string {
	if d.IsZero() {
		return "open"
	}
	return d.String()
}
