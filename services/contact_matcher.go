package services

import (
	"regexp"
	"strings"

	"drivingschool_go/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var spaces = regexp.MustCompile(`\s+`)

// normalizeName lower-cases, trims and collapses whitespace so display names compare.
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return spaces.ReplaceAllString(s, " ")
}

// ContactMatcher links LINE contacts to clients by display name.
type ContactMatcher struct {
	db *gorm.DB
}

func NewContactMatcher(db *gorm.DB) *ContactMatcher {
	return &ContactMatcher{db: db}
}

// MatchUnlinked assigns a client to every unlinked contact whose display
// name matches exactly one client. Ambiguous names stay unlinked.
func (m *ContactMatcher) MatchUnlinked() (int, error) {
	var contacts []models.MessagingContact
	if err := m.db.Where("client_id IS NULL AND opted_in = ?", true).Find(&contacts).Error; err != nil {
		return 0, err
	}
	if len(contacts) == 0 {
		return 0, nil
	}

	var clients []models.Client
	if err := m.db.Select("id", "full_name").Find(&clients).Error; err != nil {
		return 0, err
	}
	byName := make(map[string][]uint, len(clients))
	for _, c := range clients {
		key := normalizeName(c.FullName)
		byName[key] = append(byName[key], c.ID)
	}

	matched := 0
	for _, contact := range contacts {
		ids := byName[normalizeName(contact.DisplayName)]
		if len(ids) != 1 {
			logrus.WithFields(logrus.Fields{"line_user_id": contact.LineUserID, "candidates": len(ids)}).Debug("No unique client for LINE contact")
			continue
		}
		if err := m.db.Model(&contact).Update("client_id", ids[0]).Error; err != nil {
			logrus.WithError(err).WithField("line_user_id", contact.LineUserID).Warn("Failed to link LINE contact")
			continue
		}
		matched++
	}
	return matched, nil
}
