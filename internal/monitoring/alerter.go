package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mineguard/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertIllegalExcavation AlertType = "illegal_excavation"
	AlertFailureRate       AlertType = "inspection_failure_rate"
	AlertVolumeOverrun     AlertType = "illegal_volume_overrun"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if len(snap.IllegalJobs) > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertIllegalExcavation,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d new inspection(s) found excavation outside the lease (%.2f m2, %.2f m3 in last %dh)",
				len(snap.IllegalJobs), snap.IllegalArea, snap.IllegalVolume, snap.LookbackHours,
			),
			Details: map[string]any{
				"jobs":              snap.IllegalJobs,
				"illegal_area_m2":   snap.IllegalArea,
				"illegal_volume_m3": snap.IllegalVolume,
				"truckloads":        snap.Truckloads,
			},
			Timestamp: now,
		})
	}

	// A handful of runs says nothing about the failure rate.
	finished := snap.Completed + snap.Failed
	if finished >= 5 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Inspection failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.VolumeThresholdM3 > 0 && snap.IllegalVolume > a.cfg.VolumeThresholdM3 {
		alerts = append(alerts, Alert{
			Type:     AlertVolumeOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"Illegal excavation volume %.2f m3 exceeds threshold %.2f m3 in last %dh",
				snap.IllegalVolume, a.cfg.VolumeThresholdM3, snap.LookbackHours,
			),
			Details: map[string]any{
				"illegal_volume_m3": snap.IllegalVolume,
				"threshold_m3":      a.cfg.VolumeThresholdM3,
				"inspections":       snap.Illegal,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
