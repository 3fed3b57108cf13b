package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"drivingschool_go/models"
	"drivingschool_go/services/messaging"
	"drivingschool_go/services/scheduling"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PaymentInput struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Method string `json:"method" validate:"required,oneof=cash upi card"`
}

// PaymentReceipt is the stored payment and what happened to each receipt message.
type PaymentReceipt struct {
	Payment    models.Payment     `json:"payment"`
	Deliveries []messaging.Result `json:"deliveries"`
}

type PaymentService struct {
	db         *gorm.DB
	dispatcher MessageDispatcher
}

func NewPaymentService(db *gorm.DB, dispatcher MessageDispatcher) *PaymentService {
	return &PaymentService{db: db, dispatcher: dispatcher}
}

func newReceiptNumber(now time.Time) string {
	return fmt.Sprintf("RCPT-%s-%s", now.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}

// Record stores a payment and sends the receipt to the client once per
// receipt number. A failed delivery does not undo the payment.
func (s *PaymentService) Record(ctx context.Context, actor scheduling.Actor, clientID uint, in PaymentInput) (PaymentReceipt, error) {
	var client models.Client
	if err := s.db.WithContext(ctx).First(&client, clientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return PaymentReceipt{}, fmt.Errorf("%w: client %d", scheduling.ErrNotFound, clientID)
		}
		return PaymentReceipt{}, err
	}

	now := time.Now()
	payment := models.Payment{
		ClientID:      client.ID,
		BranchID:      client.BranchID,
		Amount:        in.Amount,
		Method:        in.Method,
		ReceiptNumber: newReceiptNumber(now),
		PaidAt:        now,
		RecordedBy:    actor.UserID,
	}
	if err := s.db.WithContext(ctx).Create(&payment).Error; err != nil {
		return PaymentReceipt{}, fmt.Errorf("save payment: %w", err)
	}

	out := PaymentReceipt{Payment: payment, Deliveries: []messaging.Result{}}
	if s.dispatcher == nil {
		return out, nil
	}
	body := fmt.Sprintf("Hi %s, we received %d via %s. Receipt %s.",
		client.FullName, payment.Amount, payment.Method, payment.ReceiptNumber)
	base := messaging.Message{Kind: messaging.KindPaymentReceipt, Reference: payment.ReceiptNumber, Body: body}
	for _, msg := range addressClient(ctx, s.db, s.dispatcher, client.ID, base) {
		res, _ := s.dispatcher.Dispatch(ctx, msg)
		out.Deliveries = append(out.Deliveries, res)
	}
	return out, nil
}
