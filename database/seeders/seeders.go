package seeders

import (
	"fmt"

	"drivingschool_go/models"
	"drivingschool_go/services/scheduling"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SeedAll loads demo branches, vehicles and clients into an empty database.
func SeedAll(db *gorm.DB) error {
	logrus.Info("Starting database seeding...")

	if err := SeedBranches(db); err != nil {
		return err
	}
	if err := SeedVehicles(db); err != nil {
		return err
	}
	if err := SeedClients(db); err != nil {
		return err
	}

	logrus.Info("Database seeding completed successfully")
	return nil
}

// SeedBranches seeds the branches table together with each branch's calendar
func SeedBranches(db *gorm.DB) error {
	var count int64
	db.Model(&models.Branch{}).Count(&count)
	if count > 0 {
		logrus.Info("Branches already seeded, skipping...")
		return nil
	}

	branches := []struct {
		branch models.Branch
		days   []int
	}{
		{
			branch: models.Branch{Name: "Indiranagar", Code: "IND", Address: "100 Feet Road, Indiranagar, Bengaluru", Phone: "080-41234567", Active: true},
			days:   []int{1, 2, 3, 4, 5, 6},
		},
		{
			branch: models.Branch{Name: "Koramangala", Code: "KOR", Address: "80 Feet Road, Koramangala, Bengaluru", Phone: "080-41234568", Active: true},
			days:   []int{1, 2, 3, 4, 5},
		},
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for _, b := range branches {
			branch := b.branch
			if err := tx.Create(&branch).Error; err != nil {
				return fmt.Errorf("seed branch %s: %w", branch.Code, err)
			}
			settings := models.BranchSettings{
				BranchID:               branch.ID,
				OpenTime:               scheduling.Clock(8, 0),
				CloseTime:              scheduling.Clock(18, 0),
				SessionDurationMinutes: scheduling.DefaultSessionDuration,
			}
			if err := settings.SetDays(b.days); err != nil {
				return err
			}
			if err := tx.Create(&settings).Error; err != nil {
				return fmt.Errorf("seed settings for branch %s: %w", branch.Code, err)
			}
		}
		logrus.WithField("count", len(branches)).Info("Branches seeded successfully")
		return nil
	})
}

// SeedVehicles seeds the vehicles table
func SeedVehicles(db *gorm.DB) error {
	var count int64
	db.Model(&models.Vehicle{}).Count(&count)
	if count > 0 {
		logrus.Info("Vehicles already seeded, skipping...")
		return nil
	}

	codes, err := branchIDs(db)
	if err != nil {
		return err
	}
	vehicles := []models.Vehicle{
		{BranchID: codes["IND"], RegistrationNumber: "KA01AB1234", Model: "Maruti Swift", Transmission: "manual", Active: true},
		{BranchID: codes["IND"], RegistrationNumber: "KA01AB5678", Model: "Hyundai i20", Transmission: "automatic", Active: true},
		{BranchID: codes["KOR"], RegistrationNumber: "KA05CD4321", Model: "Maruti Dzire", Transmission: "manual", Active: true},
	}
	for _, v := range vehicles {
		if v.BranchID == 0 {
			continue
		}
		if err := db.Create(&v).Error; err != nil {
			logrus.WithError(err).WithField("registration", v.RegistrationNumber).Warn("Error seeding vehicle")
		}
	}

	logrus.Info("Vehicles seeded successfully")
	return nil
}

// SeedClients seeds the clients table
func SeedClients(db *gorm.DB) error {
	var count int64
	db.Model(&models.Client{}).Count(&count)
	if count > 0 {
		logrus.Info("Clients already seeded, skipping...")
		return nil
	}

	codes, err := branchIDs(db)
	if err != nil {
		return err
	}
	clients := []models.Client{
		{BranchID: codes["IND"], FullName: "Asha Rao", Phone: "+919812345670", WhatsAppOptIn: true, LicenseType: "LMV", LicenseStatus: "learner"},
		{BranchID: codes["IND"], FullName: "Vikram Shetty", Phone: "+919812345671", WhatsAppOptIn: true, LicenseType: "LMV", LicenseStatus: "none"},
		{BranchID: codes["KOR"], FullName: "Meera Iyer", Phone: "+919812345672", WhatsAppOptIn: false, LicenseType: "MCWG", LicenseStatus: "none"},
	}
	for _, c := range clients {
		if c.BranchID == 0 {
			continue
		}
		if err := db.Create(&c).Error; err != nil {
			logrus.WithError(err).WithField("client", c.FullName).Warn("Error seeding client")
		}
	}

	logrus.Info("Clients seeded successfully")
	return nil
}

func branchIDs(db *gorm.DB) (map[string]uint, error) {
	var branches []models.Branch
	if err := db.Select("id", "code").Find(&branches).Error; err != nil {
		return nil, fmt.Errorf("load branches: %w", err)
	}
	out := make(map[string]uint, len(branches))
	for _, b := range branches {
		out[b.Code] = b.ID
	}
	return out, nil
}
