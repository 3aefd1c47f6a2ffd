package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/billing"
	"github.com/ChrisReeves12/keepwatch-api-sub000/internal/store"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/clients"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/kafka"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/logging"
	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

// AlarmWorker matches persisted logs against the owning project's alarms
// and delivers notifications. Sink failures are isolated per delivery
// method and never fail the event.
type AlarmWorker struct {
	store      *store.Store
	mailer     billing.Mailer
	httpClient *http.Client
	executor   failsafe.Executor[*http.Response]
	logger     logging.Logger
}

// NewAlarmWorker creates an alarm worker with retrying HTTP delivery.
func NewAlarmWorker(st *store.Store, mailer billing.Mailer, logger logging.Logger) *AlarmWorker {
	return &AlarmWorker{
		store:      st,
		mailer:     mailer,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		executor:   clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
		logger:     logger,
	}
}

// HandleAlarm evaluates one persisted log against the project's alarms.
func (w *AlarmWorker) HandleAlarm(ctx context.Context, event kafka.AlarmEvent) error {
	project, err := w.store.FindProjectByProjectID(ctx, event.Log.ProjectID)
	if err == store.ErrNotFound {
		// The project was deleted between persistence and evaluation.
		w.logger.WithField("project_id", event.Log.ProjectID).
			Warn("Alarm event for unknown project")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load project for alarm: %w", err)
	}

	for _, alarm := range project.Alarms {
		if !Matches(alarm, &event.Log) {
			continue
		}
		w.deliver(ctx, alarm, &event.Log)
	}
	return nil
}

// Matches reports whether the alarm's predicates all hold for the log.
// Level, environment, and category compare exactly; the message predicate
// is a case-insensitive substring match.
func Matches(alarm models.ProjectAlarm, log *models.Log) bool {
	if alarm.LogType != log.LogType {
		return false
	}
	if alarm.Environment != log.Environment {
		return false
	}
	if len(alarm.Levels) > 0 && !contains(alarm.Levels, log.Level) {
		return false
	}
	if len(alarm.Categories) > 0 && !contains(alarm.Categories, log.Category) {
		return false
	}
	if alarm.Message != "" &&
		!strings.Contains(strings.ToLower(log.Message), strings.ToLower(alarm.Message)) {
		return false
	}
	return true
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func (w *AlarmWorker) deliver(ctx context.Context, alarm models.ProjectAlarm, log *models.Log) {
	for _, method := range alarm.DeliveryMethods {
		var err error
		switch method.Type {
		case "email":
			err = w.deliverEmail(ctx, alarm, log, method.Addresses)
		case "slack":
			err = w.deliverSlack(ctx, alarm, log, method.WebhookURL)
		case "webhook":
			err = w.deliverWebhook(ctx, alarm, log, method.WebhookURL)
		default:
			w.logger.WithField("delivery_type", method.Type).
				Warn("Unknown alarm delivery type")
			continue
		}
		if err != nil {
			w.logger.WithError(err).WithFields(logging.Fields{
				"alarm_id":      alarm.ID,
				"delivery_type": method.Type,
				"log_id":        log.ID,
			}).Error("Alarm delivery failed")
		}
	}
}

func (w *AlarmWorker) deliverEmail(ctx context.Context, alarm models.ProjectAlarm, log *models.Log, addresses []string) error {
	subject := fmt.Sprintf("[%s] %s alarm triggered", log.ProjectID, log.Level)
	body := fmt.Sprintf(
		"<p>An alarm matched a new %s log in <b>%s</b>.</p>"+
			"<p><b>Level:</b> %s<br><b>Environment:</b> %s<br><b>Category:</b> %s</p>"+
			"<pre>%s</pre>",
		log.LogType, log.ProjectID, log.Level, log.Environment, log.Category, log.Message)

	var firstErr error
	for _, to := range addresses {
		if err := w.mailer.SendMail(ctx, to, subject, body); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *AlarmWorker) deliverSlack(ctx context.Context, alarm models.ProjectAlarm, log *models.Log, url string) error {
	text := fmt.Sprintf("*%s* alarm in `%s` (%s): %s",
		log.Level, log.ProjectID, log.Environment, log.Message)
	return w.post(ctx, url, map[string]interface{}{"text": text})
}

func (w *AlarmWorker) deliverWebhook(ctx context.Context, alarm models.ProjectAlarm, log *models.Log, url string) error {
	return w.post(ctx, url, map[string]interface{}{
		"alarmId":     alarm.ID,
		"projectId":   log.ProjectID,
		"logId":       log.ID,
		"level":       log.Level,
		"environment": log.Environment,
		"category":    log.Category,
		"logType":     log.LogType,
		"message":     log.Message,
		"timestampMS": log.TimestampMS,
	})
}

func (w *AlarmWorker) post(ctx context.Context, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alarm payload: %w", err)
	}

	resp, err := clients.ExecuteHTTP(ctx, w.executor, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return w.httpClient.Do(req)
	})
	if err != nil {
		return fmt.Errorf("post alarm: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post alarm: unexpected status %d", resp.StatusCode)
	}
	return nil
}
