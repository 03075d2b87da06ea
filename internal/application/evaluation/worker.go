package evaluation

import (
	"context"

	"github.com/turtacn/NaturaCheck/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/NaturaCheck/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/NaturaCheck/pkg/errors"
	"github.com/turtacn/NaturaCheck/pkg/types/common"
)

// RequestHandler consumes EvaluationRequested events. Any error is handed
// back to the consumer, which retries and finally dead-letters the record.
func RequestHandler(svc Service, logger logging.Logger) common.MessageHandler {
	log := logging.OrNop(logger).Named("worker")
	return func(ctx context.Context, msg *common.Message) error {
		env, err := kafka.MessageToEventEnvelope(msg)
		if err != nil {
			return err
		}
		if env.EventType != kafka.EventEvaluationRequested {
			return errors.Validation("unexpected event type").WithDetail(env.EventType)
		}
		var req EvaluateRequest
		if err := env.DecodePayload(&req); err != nil {
			return err
		}

		res, err := svc.Evaluate(ctx, req)
		if err != nil {
			log.Warn("queued evaluation failed",
				logging.CaseID(req.Case.ID),
				logging.String("event_id", env.EventID),
				logging.Err(err))
			return err
		}
		log.Info("queued evaluation done",
			logging.CaseID(req.Case.ID),
			logging.String("event_id", env.EventID),
			logging.Eligibility(string(res.Verdict.Eligibility)),
			logging.Bool("cached", res.Cached))
		return nil
	}
}
