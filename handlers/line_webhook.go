package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"drivingschool_go/models"
	"drivingschool_go/services"

	"github.com/gofiber/fiber/v2"
	"github.com/line/line-bot-sdk-go/linebot"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LineWebhookHandler tracks who follows the LINE official account so
// session messages can reach them.
type LineWebhookHandler struct {
	DB      *gorm.DB
	Bot     *linebot.Client
	Matcher *services.ContactMatcher
	secret  string
}

// NewLineWebhookHandler returns a handler with a nil Bot when the channel
// credentials are missing; Handle then acknowledges and ignores events.
func NewLineWebhookHandler(db *gorm.DB, secret, token string, options ...linebot.ClientOption) (*LineWebhookHandler, error) {
	h := &LineWebhookHandler{DB: db, Matcher: services.NewContactMatcher(db), secret: secret}
	if secret == "" || token == "" {
		logrus.Warn("LINE credentials missing: webhook disabled")
		return h, nil
	}
	bot, err := linebot.New(secret, token, options...)
	if err != nil {
		return nil, fmt.Errorf("create LINE bot client: %w", err)
	}
	h.Bot = bot
	return h, nil
}

// Handle receives webhook events
func (h *LineWebhookHandler) Handle(c *fiber.Ctx) error {
	if h.Bot == nil {
		logrus.Debug("LINE webhook called while bot is not initialized")
		return c.SendStatus(fiber.StatusOK)
	}

	signature := c.Get("X-Line-Signature")
	if signature == "" {
		logrus.Warn("LINE webhook missing signature header")
		return c.SendStatus(fiber.StatusBadRequest)
	}
	if !validateSignature(h.secret, c.Body(), signature) {
		logrus.WithField("signature", signature).Warn("LINE webhook signature mismatch")
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	// acknowledge first, LINE retries slow webhooks
	body := append([]byte(nil), c.Body()...)
	go func() {
		if _, err := h.Process(body); err != nil {
			logrus.WithError(err).Error("Failed to process LINE webhook")
		}
	}()

	return c.SendStatus(fiber.StatusOK)
}

// Process applies follow and unfollow events and returns how many contacts changed.
func (h *LineWebhookHandler) Process(body []byte) (int, error) {
	var webhook struct {
		Events []*linebot.Event `json:"events"`
	}
	if err := json.Unmarshal(body, &webhook); err != nil {
		return 0, fmt.Errorf("parse webhook events: %w", err)
	}

	changed := 0
	followed := false
	for _, event := range webhook.Events {
		if event.Source == nil || event.Source.UserID == "" {
			continue
		}
		userID := event.Source.UserID

		switch event.Type {
		case linebot.EventTypeFollow:
			if err := h.follow(userID, event.Timestamp); err != nil {
				logrus.WithError(err).WithField("line_user_id", userID).Error("Failed to save LINE follow")
				continue
			}
			changed++
			followed = true
		case linebot.EventTypeUnfollow:
			if err := h.unfollow(userID, event.Timestamp); err != nil {
				logrus.WithError(err).WithField("line_user_id", userID).Error("Failed to save LINE unfollow")
				continue
			}
			changed++
		}
	}

	if followed && h.Matcher != nil {
		matched, err := h.Matcher.MatchUnlinked()
		if err != nil {
			return changed, fmt.Errorf("match LINE contacts: %w", err)
		}
		if matched > 0 {
			logrus.WithField("matched", matched).Info("Linked LINE contacts to clients")
		}
	}
	return changed, nil
}

func (h *LineWebhookHandler) follow(userID string, at time.Time) error {
	displayName := ""
	if h.Bot != nil {
		profile, err := h.Bot.GetProfile(userID).Do()
		if err != nil {
			logrus.WithError(err).WithField("line_user_id", userID).Warn("Failed to fetch LINE profile")
		} else {
			displayName = profile.DisplayName
		}
	}

	var existing models.MessagingContact
	err := h.DB.Where("line_user_id = ?", userID).First(&existing).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{"opted_in": true, "opted_out_at": nil}
		if displayName != "" {
			updates["display_name"] = displayName
		}
		if err := h.DB.Model(&existing).Updates(updates).Error; err != nil {
			return err
		}
		logrus.WithField("line_user_id", userID).Info("LINE contact followed again")
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		contact := models.MessagingContact{LineUserID: userID, DisplayName: displayName, OptedIn: true}
		if err := h.DB.Create(&contact).Error; err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"line_user_id": userID,
			"display_name": displayName,
			"followed_at":  at.Format(time.RFC3339),
		}).Info("Saved new LINE contact")
		return nil
	default:
		return err
	}
}

func (h *LineWebhookHandler) unfollow(userID string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	res := h.DB.Model(&models.MessagingContact{}).
		Where("line_user_id = ?", userID).
		Updates(map[string]interface{}{"opted_in": false, "opted_out_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		logrus.WithField("line_user_id", userID).Warn("Unfollow for unknown LINE contact")
	}
	return nil
}

// computeSignature returns the expected X-Line-Signature for body
func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// validateSignature checks the signature header against the channel secret
func validateSignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(signature), []byte(computeSignature(secret, body)))
}
