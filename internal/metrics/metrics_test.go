package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestObservers(t *testing.T) {
	m := New()

	m.ObserveDecision(&domain.Decision{Severity: domain.SeverityHigh, RecommendedAction: domain.ActionChallenge}, 3*time.Millisecond)
	m.ObserveDecision(&domain.Decision{Severity: domain.SeverityHigh, RecommendedAction: domain.ActionChallenge}, time.Millisecond)
	m.ObserveDecision(nil, time.Millisecond)
	m.ObserveAlertCreated(domain.SeverityCritical)
	m.ObserveRuleHit("r-1")
	m.ObserveRuleHit("r-1")
	m.ObserveEvaluationFault("r-2")

	body := scrape(t, m)
	for _, want := range []string{
		"harrier_evaluations_total 2",
		`harrier_decisions_total{action="challenge",severity="high"} 2`,
		`harrier_alerts_created_total{severity="critical"} 1`,
		`harrier_rule_hits_total{rule_id="r-1"} 2`,
		`harrier_rule_evaluation_faults_total{rule_id="r-2"} 1`,
		"harrier_evaluation_duration_seconds_count 2",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRuleHit("velocity-1")

	body := scrape(t, m)
	if !strings.Contains(body, "go_goroutines") {
		t.Errorf("runtime collectors missing from exposition")
	}
	if !strings.Contains(body, `harrier_rule_hits_total{rule_id="velocity-1"} 1`) {
		t.Errorf("rule hit counter missing from exposition")
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	m.ObserveDecision(&domain.Decision{}, time.Millisecond)
	m.ObserveAlertCreated(domain.SeverityLow)
	m.ObserveRuleHit("r")
	m.ObserveEvaluationFault("r")

	if m.Registry() != nil {
		t.Error("expected nil registry")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("expected 404 from nil metrics handler, got %d", rec.Code)
	}
}
