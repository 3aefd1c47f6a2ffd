package billing

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const emailSentTTL = 35 * 24 * time.Hour

// Mailer delivers a single message. Satisfied by email.Sender.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, htmlBody string) error
}

// Notifier sends at most one "limit reached" email per owner per billing
// period. The sent flag lives in Redis next to the quota counter; mail
// failures never propagate to the ingestion path.
type Notifier struct {
	rdb    goredis.UniversalClient
	mailer Mailer
	logger *logrus.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(rdb goredis.UniversalClient, mailer Mailer, logger *logrus.Logger) *Notifier {
	return &Notifier{rdb: rdb, mailer: mailer, logger: logger}
}

func emailSentKey(ownerID, periodKey string) string {
	return fmt.Sprintf("usage:logging:owner:%s:period:%s:email-sent", ownerID, periodKey)
}

// NotifyLimitReached emails the owner once per period. The SETNX flag makes
// the happy path idempotent; a Redis outage suppresses the email rather
// than risking a flood.
func (n *Notifier) NotifyLimitReached(ctx context.Context, ownerID, ownerEmail string, limit int64, window Window) {
	set, err := n.rdb.SetNX(ctx, emailSentKey(ownerID, window.PeriodKey), "1", emailSentTTL).Result()
	if err != nil {
		n.logger.WithError(err).WithField("owner_id", ownerID).
			Warn("Could not check limit email flag, skipping notification")
		return
	}
	if !set {
		return
	}

	subject := "Monthly log limit reached"
	body := fmt.Sprintf(
		"<p>Your project has reached its monthly log limit of %d.</p>"+
			"<p>New log submissions will be rejected until your billing period resets on %s.</p>",
		limit, window.End.Format("January 2, 2006"),
	)

	if err := n.mailer.SendMail(ctx, ownerEmail, subject, body); err != nil {
		n.logger.WithError(err).WithField("owner_id", ownerID).
			Error("Failed to send limit reached email")
	}
}
