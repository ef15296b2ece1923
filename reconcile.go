package settlr

import (
	"context"
	"math/rand"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/settlr/settlr/config"
	"github.com/settlr/settlr/internal/apierror"
	"github.com/settlr/settlr/internal/notification"
	"github.com/settlr/settlr/model"
	"github.com/settlr/settlr/settlement"
)

// ProcessSubmission drives one intent through its submit step. It is
// the handler behind the sharded payment queues; each invocation holds
// the only in-flight work for its intent.
//
// PENDING intents are submitted to the backend. SUBMITTED intents are
// resumed by polling only, never resubmitted, so a crash between the
// backend accepting a transfer and the ledger recording SUBMITTED
// cannot double-spend. Terminal intents are acknowledged and dropped.
func (s *Settlr) ProcessSubmission(ctx context.Context, intentID string) error {
	intent, err := s.datasource.GetIntent(ctx, intentID)
	if err != nil {
		if apierror.IsCode(err, apierror.ErrNotFound) {
			logrus.WithField("intent_id", intentID).Error("submission task for unknown intent, dropping")
			return errors.Wrap(asynq.SkipRetry, err.Error())
		}
		return err
	}

	switch intent.Status {
	case model.StatusPending:
		return s.submitIntent(ctx, intent)
	case model.StatusSubmitted:
		return s.pollIntent(ctx, intent)
	default:
		logrus.WithFields(logrus.Fields{
			"intent_id": intent.IntentID,
			"status":    intent.Status,
		}).Info("intent already terminal, dropping submission task")
		return nil
	}
}

// ProcessConfirmation is the handler behind the poll queue.
func (s *Settlr) ProcessConfirmation(ctx context.Context, intentID string) error {
	intent, err := s.datasource.GetIntent(ctx, intentID)
	if err != nil {
		if apierror.IsCode(err, apierror.ErrNotFound) {
			logrus.WithField("intent_id", intentID).Error("poll task for unknown intent, dropping")
			return errors.Wrap(asynq.SkipRetry, err.Error())
		}
		return err
	}
	if intent.Status != model.StatusSubmitted {
		logrus.WithFields(logrus.Fields{
			"intent_id": intent.IntentID,
			"status":    intent.Status,
		}).Info("poll task for non-submitted intent, dropping")
		return nil
	}
	return s.pollIntent(ctx, intent)
}

func (s *Settlr) submitIntent(ctx context.Context, intent *model.PaymentIntent) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	attempts, err := s.datasource.RecordAttempt(ctx, intent.IntentID, time.Now())
	if err != nil {
		return s.contractFault(intent.IntentID, "record attempt before submit", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, cnf.SettlementTimeout())
	handle, err := s.backend.Submit(callCtx, intent)
	cancel()

	switch {
	case err == nil:
		submissionsTotal.WithLabelValues("accepted").Inc()
		if err := s.transition(ctx, intent.IntentID, model.StatusSubmitted, model.StatusUpdate{
			Status:        model.StatusSubmitted,
			SubmissionRef: handle.Ref,
			Timestamp:     time.Now(),
		}); err != nil {
			return err
		}
		intent.SubmissionRef = handle.Ref
		return s.queue.EnqueuePoll(ctx, intent, attempts, s.retryDelay(cnf, 0))

	case errors.Is(err, settlement.ErrInsufficientFunds):
		submissionsTotal.WithLabelValues("rejected").Inc()
		return s.failIntent(ctx, intent.IntentID, model.ReasonInsufficientFunds)

	case errors.Is(err, settlement.ErrInvalidRecipient):
		submissionsTotal.WithLabelValues("rejected").Inc()
		return s.failIntent(ctx, intent.IntentID, model.ReasonInvalidRecipient)

	case settlement.Retriable(err):
		submissionsTotal.WithLabelValues("unavailable").Inc()
		return s.rescheduleOrExhaust(ctx, intent, attempts, cnf, s.queue.EnqueueSubmitRetry)

	default:
		return err
	}
}

func (s *Settlr) pollIntent(ctx context.Context, intent *model.PaymentIntent) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	attempts, err := s.datasource.RecordAttempt(ctx, intent.IntentID, time.Now())
	if err != nil {
		return s.contractFault(intent.IntentID, "record attempt before poll", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, cnf.SettlementTimeout())
	confirmation, err := s.backend.PollConfirmation(callCtx, settlement.SubmissionHandle{Ref: intent.SubmissionRef})
	cancel()

	if err != nil {
		if settlement.Retriable(err) {
			return s.rescheduleOrExhaust(ctx, intent, attempts, cnf, s.queue.EnqueuePoll)
		}
		return err
	}

	switch confirmation.State {
	case settlement.StateConfirmed:
		if err := s.transition(ctx, intent.IntentID, model.StatusConfirmed, model.StatusUpdate{
			Status:        model.StatusConfirmed,
			SettlementRef: confirmation.Ref,
			Timestamp:     time.Now(),
		}); err != nil {
			return err
		}
		settlementsTotal.WithLabelValues(model.StatusConfirmed).Inc()
		s.notifyStatus(intent.IntentID, model.StatusConfirmed)
		return nil

	case settlement.StateFailed:
		reason := confirmation.Reason
		if reason == "" {
			reason = model.ReasonBackendRejected
		}
		return s.failIntent(ctx, intent.IntentID, reason)

	default:
		// Still pending on the network. Poll again later.
		return s.rescheduleOrExhaust(ctx, intent, attempts, cnf, s.queue.EnqueuePoll)
	}
}

// rescheduleOrExhaust re-enqueues the step after a backoff delay, or
// fails the intent with RETRIES_EXHAUSTED once the attempt ceiling is
// reached. Attempts are read back from the ledger row so the schedule
// survives restarts.
func (s *Settlr) rescheduleOrExhaust(ctx context.Context, intent *model.PaymentIntent, attempts int, cnf *config.Configuration,
	enqueue func(context.Context, *model.PaymentIntent, int, time.Duration) error) error {
	if attempts >= cnf.Retry.MaxAttempts {
		logrus.WithFields(logrus.Fields{
			"intent_id": intent.IntentID,
			"attempts":  attempts,
		}).Warn("retry budget exhausted")
		return s.failIntent(ctx, intent.IntentID, model.ReasonRetriesExhausted)
	}

	delay := s.retryDelay(cnf, attempts)
	retriesScheduled.Inc()
	if err := enqueue(ctx, intent, attempts, delay); err != nil {
		logrus.WithError(err).WithField("intent_id", intent.IntentID).
			Error("failed to reschedule intent, recovery will pick it up")
		notification.NotifyError(err)
	}
	return nil
}

// retryDelay computes the backoff for the given attempt count:
// min(base << attempts, cap) plus uniform jitter.
func (s *Settlr) retryDelay(cnf *config.Configuration, attempts int) time.Duration {
	base := time.Duration(cnf.Retry.BaseDelayMS) * time.Millisecond
	maxDelay := time.Duration(cnf.Retry.MaxDelayMS) * time.Millisecond

	delay := base
	if attempts > 0 && attempts < 32 {
		delay = base << attempts
	} else if attempts >= 32 {
		delay = maxDelay
	}
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	if cnf.Retry.JitterMS > 0 {
		delay += time.Duration(rand.Intn(cnf.Retry.JitterMS)) * time.Millisecond
	}
	return delay
}

func (s *Settlr) failIntent(ctx context.Context, intentID, reason string) error {
	if err := s.transition(ctx, intentID, model.StatusFailed, model.StatusUpdate{
		Status:    model.StatusFailed,
		Reason:    reason,
		Timestamp: time.Now(),
	}); err != nil {
		return err
	}
	settlementsTotal.WithLabelValues(model.StatusFailed).Inc()
	s.notifyStatus(intentID, model.StatusFailed)
	return nil
}

// transition applies a status update and treats contract faults as
// fatal for this intent's task only. The ledger write completes before
// the caller performs any side effect.
func (s *Settlr) transition(ctx context.Context, intentID, status string, update model.StatusUpdate) error {
	err := s.datasource.UpdateIntentStatus(ctx, intentID, update)
	if err == nil {
		logrus.WithFields(logrus.Fields{
			"intent_id": intentID,
			"status":    status,
		}).Info("intent transitioned")
		return nil
	}
	if apierror.IsCode(err, apierror.ErrNotFound) || apierror.IsCode(err, apierror.ErrInvalidTransition) {
		return s.contractFault(intentID, "apply transition "+status, err)
	}
	return err
}

// contractFault records a ledger contract violation for operator
// investigation and stops retrying this task. It must never take the
// process down.
func (s *Settlr) contractFault(intentID, op string, err error) error {
	logrus.WithError(err).WithFields(logrus.Fields{
		"intent_id": intentID,
		"op":        op,
	}).Error("ledger contract violation, abandoning intent task")
	notification.NotifyError(err)
	return errors.Wrap(asynq.SkipRetry, err.Error())
}

func (s *Settlr) notifyStatus(intentID, status string) {
	intent, err := s.datasource.GetIntent(context.Background(), intentID)
	if err != nil {
		logrus.WithError(err).Error("failed to load intent for webhook")
		return
	}
	err = s.SendWebhook(NewWebhook{
		Event:   getEventFromStatus(status),
		Payload: intent,
	})
	if err != nil {
		logrus.WithError(err).Error("failed to enqueue webhook")
	}
}
