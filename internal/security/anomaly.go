package security

import (
	"fmt"
	"strings"
	"time"
)

// Signals are the behavioral inputs DetectAnomalies evaluates.
type Signals struct {
	SessionDuration time.Duration
	ActivityLevel   int
	RequestPatterns []string
}

// Anomaly describes one detected deviation. Confidence is in (0, 1].
type Anomaly struct {
	Type        string
	Confidence  float64
	Description string
}

// Anomaly types.
const (
	AnomalySessionDuration = "session_duration"
	AnomalyActivityLevel   = "activity_level"
	AnomalyRequestPattern  = "request_pattern"
)

type anomalyThresholds struct {
	maxSessionDuration time.Duration
	maxActivityLevel   int
}

// Sensitivity tunes how quickly duration and activity read as anomalous.
// Malicious request patterns are flagged at every level.
var sensitivityThresholds = map[string]anomalyThresholds{
	"low":    {maxSessionDuration: 48 * time.Hour, maxActivityLevel: 2000},
	"medium": {maxSessionDuration: 24 * time.Hour, maxActivityLevel: 1000},
	"high":   {maxSessionDuration: 8 * time.Hour, maxActivityLevel: 300},
}

// maliciousSignatures are substrings of request patterns that indicate
// probing rather than ordinary client traffic.
var maliciousSignatures = []string{
	"' or 1=1",
	"union select",
	"<script",
	"../",
	"%2e%2e%2f",
	"etc/passwd",
	"cmd.exe",
}

// DetectAnomalies evaluates signals against the configured sensitivity and
// returns zero or more anomalies. Each detection also records an
// anomalous_behavior event.
func (m *Monitor) DetectAnomalies(userID string, signals Signals) []Anomaly {
	m.mu.Lock()
	thresholds, ok := sensitivityThresholds[m.cfg.AnomalySensitivity]
	if !ok {
		thresholds = sensitivityThresholds["medium"]
	}

	var anomalies []Anomaly
	if signals.SessionDuration > thresholds.maxSessionDuration {
		ratio := float64(signals.SessionDuration) / float64(thresholds.maxSessionDuration)
		anomalies = append(anomalies, Anomaly{
			Type:        AnomalySessionDuration,
			Confidence:  confidence(ratio),
			Description: fmt.Sprintf("session active for %s, beyond the %s threshold", signals.SessionDuration, thresholds.maxSessionDuration),
		})
	}
	if signals.ActivityLevel > thresholds.maxActivityLevel {
		ratio := float64(signals.ActivityLevel) / float64(thresholds.maxActivityLevel)
		anomalies = append(anomalies, Anomaly{
			Type:        AnomalyActivityLevel,
			Confidence:  confidence(ratio),
			Description: fmt.Sprintf("activity level %d exceeds the %d threshold", signals.ActivityLevel, thresholds.maxActivityLevel),
		})
	}
	if pattern, hit := matchMalicious(signals.RequestPatterns); hit {
		anomalies = append(anomalies, Anomaly{
			Type:        AnomalyRequestPattern,
			Confidence:  1,
			Description: fmt.Sprintf("request matches known malicious signature %q", pattern),
		})
	}

	var emitted []Event
	for _, anomaly := range anomalies {
		emitted = append(emitted, m.recordLocked(EventAnomalousBehavior, SeverityHigh, map[string]string{
			"anomaly":     anomaly.Type,
			"confidence":  fmt.Sprintf("%.2f", anomaly.Confidence),
			"description": anomaly.Description,
		}, EventContext{UserID: userID}, nil))
	}
	listeners := m.snapshotListenersLocked()
	m.mu.Unlock()
	m.notify(listeners, emitted...)
	return anomalies
}

// confidence maps an over-threshold ratio (>1) into (0, 1]: just past the
// threshold scores around 0.5, twice the threshold and beyond saturates.
func confidence(ratio float64) float64 {
	c := ratio / 2
	if c > 1 {
		return 1
	}
	if c <= 0 {
		return 0.01
	}
	return c
}

func matchMalicious(patterns []string) (string, bool) {
	for _, pattern := range patterns {
		lowered := strings.ToLower(pattern)
		for _, signature := range maliciousSignatures {
			if strings.Contains(lowered, signature) {
				return signature, true
			}
		}
	}
	return "", false
}
