package emitter

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/vietddude/streamledger/internal/core/domain"
	"github.com/vietddude/streamledger/internal/core/vesting"
)

// ForEvent builds the notifications describing an applied event. s is the
// stream after the event was applied and snap its figures at the event's block.
func ForEvent(ev *domain.Event, s *domain.Stream, snap vesting.Snapshot, ref domain.EventRef) []domain.Notification {
	data := map[string]any{
		"streamId":           strconv.FormatUint(ev.StreamID, 10),
		"txHash":             ref.TxHash,
		"blockHeight":        ref.BlockHeight,
		"blockHash":          ref.BlockHash,
		"status":             string(snap.Status),
		"vestedAmount":       snap.VestedAmount.String(),
		"withdrawableAmount": snap.WithdrawableAmount.String(),
	}

	switch ev.Type {
	case domain.EventTypeStreamCreated:
		data["sender"] = s.Sender
		data["totalAmount"] = s.TotalAmount.String()
		data["startBlock"] = s.StartBlock
		data["endBlock"] = s.EndBlock
		return []domain.Notification{{
			ID:       uuid.NewString(),
			UserID:   s.Recipient,
			Type:     domain.NotificationStreamCreated,
			Priority: domain.PriorityNormal,
			Title:    "New payment stream",
			Message: fmt.Sprintf("Stream #%d of %s from %s vests between blocks %d and %d",
				s.ID, s.TotalAmount, s.Sender, s.StartBlock, s.EndBlock),
			Data: data,
		}}

	case domain.EventTypeStreamWithdrawal:
		data["amount"] = ev.Amount.String()
		data["withdrawnAmount"] = s.WithdrawnAmount.String()
		return []domain.Notification{{
			ID:       uuid.NewString(),
			UserID:   s.Sender,
			Type:     domain.NotificationStreamWithdrawal,
			Priority: domain.PriorityLow,
			Title:    "Stream withdrawal",
			Message:  fmt.Sprintf("%s withdrew %s from stream #%d", s.Recipient, ev.Amount, s.ID),
			Data:     data,
		}}

	case domain.EventTypeStreamCancelled:
		if s.CancelledAtBlock != nil {
			data["cancelledAtBlock"] = *s.CancelledAtBlock
		}
		out := make([]domain.Notification, 0, 2)
		for _, user := range []string{s.Sender, s.Recipient} {
			out = append(out, domain.Notification{
				ID:       uuid.NewString(),
				UserID:   user,
				Type:     domain.NotificationStreamCancelled,
				Priority: domain.PriorityHigh,
				Title:    "Stream cancelled",
				Message:  fmt.Sprintf("Stream #%d was cancelled", s.ID),
				Data:     data,
			})
		}
		return out
	}
	return nil
}

// ForRevert builds the notice sent to the recipient of an already delivered
// notification whose block was rolled back.
func ForRevert(delivered *domain.OutboxEntry) domain.Notification {
	orig := delivered.Notification
	data := map[string]any{
		"originalId":   orig.ID,
		"originalType": string(orig.Type),
		"blockHeight":  delivered.BlockHeight,
		"blockHash":    delivered.BlockHash,
	}
	if id, ok := orig.Data["streamId"]; ok {
		data["streamId"] = id
	}
	return domain.Notification{
		ID:       uuid.NewString(),
		UserID:   orig.UserID,
		Type:     domain.NotificationStreamReverted,
		Priority: domain.PriorityHigh,
		Title:    "Stream update reverted",
		Message: fmt.Sprintf("Block %d was reorganized away; %q no longer applies",
			delivered.BlockHeight, orig.Title),
		Data: data,
	}
}
