package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dealflow/listing-matcher/internal/biz/domain"
	"github.com/dealflow/listing-matcher/internal/biz/repo"
	"github.com/dealflow/listing-matcher/internal/metrics"
)

// ForwardUsecase turns chat messages into envelopes for the workflow sink
type ForwardUsecase struct {
	sink     repo.EnvelopeSink
	keywords Keywords
	log      zerolog.Logger
	now      func() time.Time
}

// NewForwardUsecase creates a new forward usecase
func NewForwardUsecase(sink repo.EnvelopeSink, keywords Keywords, logger zerolog.Logger) *ForwardUsecase {
	return &ForwardUsecase{
		sink:     sink,
		keywords: keywords,
		log:      logger.With().Str("component", "forwarder").Logger(),
		now:      time.Now,
	}
}

// BuildEnvelope normalizes a message and attaches its signals.
// The timestamp is the time the message reached the forwarder.
func (uc *ForwardUsecase) BuildEnvelope(msg domain.IncomingMessage) domain.Envelope {
	receivedAt := uc.now()
	return domain.Envelope{
		RawText:        msg.Text,
		SenderID:       msg.SenderID,
		SenderUsername: msg.SenderUsername,
		SenderName:     msg.SenderName,
		ChatID:         msg.ChatID,
		ChatTitle:      msg.ChatTitle,
		MessageID:      msg.ID,
		Timestamp:      float64(receivedAt.UnixNano()) / float64(time.Second),
		ExtractedData:  ExtractSignals(msg.Text, uc.keywords),
	}
}

// Dispatch sends the message to the sink once. A failed send is logged
// and the message is dropped.
func (uc *ForwardUsecase) Dispatch(ctx context.Context, msg domain.IncomingMessage) bool {
	env := uc.BuildEnvelope(msg)

	if err := uc.sink.Send(ctx, env); err != nil {
		metrics.ForwardTotal.WithLabelValues("failed").Inc()
		event := uc.log.Error().Err(err).Int64("message_id", msg.ID).Str("chat_id", msg.ChatID.String())
		var fe *domain.ForwardError
		if errors.As(err, &fe) && fe.Status != 0 {
			event = event.Int("status", fe.Status)
		}
		event.Msg("forward failed, message dropped")
		return false
	}

	metrics.ForwardTotal.WithLabelValues("ok").Inc()
	uc.log.Info().
		Int64("message_id", msg.ID).
		Str("chat_id", msg.ChatID.String()).
		Bool("has_price", env.ExtractedData.HasPrice).
		Bool("has_car_terms", env.ExtractedData.HasCarTerms).
		Msg("forwarded message")
	return true
}
