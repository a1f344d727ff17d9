package alerter

import (
	"Cerberus/internal/config"
	"Cerberus/internal/model"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/parser"
)

// Alerter collects live alerts and periodically mails a consolidated digest.
type Alerter struct {
	notifier      model.Notifier
	checkInterval time.Duration
	maxPending    int

	mu      sync.Mutex
	pending []model.AlertEvent
	dropped int

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAlerter creates a new Alerter instance.
func NewAlerter(cfg *config.AlerterConfig, notifier model.Notifier) (*Alerter, error) {
	interval, err := time.ParseDuration(cfg.CheckInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid check_interval for alerter: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("check_interval for alerter must be positive")
	}
	return &Alerter{
		notifier:      notifier,
		checkInterval: interval,
		maxPending:    cfg.MaxPending,
		stopChan:      make(chan struct{}),
	}, nil
}

// Enqueue records an alert for the next digest. Beyond max_pending the oldest
// alerts are discarded and only counted.
func (a *Alerter) Enqueue(alert model.AlertEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, alert)
	if a.maxPending > 0 && len(a.pending) > a.maxPending {
		over := len(a.pending) - a.maxPending
		a.pending = append(a.pending[:0], a.pending[over:]...)
		a.dropped += over
	}
}

// Start begins the periodic digest loop in the background.
func (a *Alerter) Start() {
	log.Println("Alerter started")
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				a.Flush()
			case <-a.stopChan:
				return
			}
		}
	}()
}

// Stop ends the loop and sends whatever is still pending.
func (a *Alerter) Stop() {
	a.stopOnce.Do(func() {
		log.Println("Stopping Alerter...")
		close(a.stopChan)
		a.wg.Wait()
		a.Flush()
	})
}

// Flush sends a digest of the pending alerts, if any, and returns how many it covered.
func (a *Alerter) Flush() int {
	a.mu.Lock()
	alerts := a.pending
	dropped := a.dropped
	a.pending = nil
	a.dropped = 0
	a.mu.Unlock()

	if len(alerts) == 0 {
		return 0
	}
	log.Printf("Alerter digest prepared. %d alert(s) pending.", len(alerts))

	if a.notifier == nil {
		return len(alerts)
	}
	subject := fmt.Sprintf("Cerberus Alert Digest (%d New)", len(alerts)+dropped)
	body := renderHTML(digestMarkdown(alerts, dropped))
	if err := a.notifier.Send(subject, body); err != nil {
		log.Printf("ERROR: Failed to send alert digest: %v", err)
	} else {
		log.Printf("INFO: Alert digest sent successfully.")
	}
	return len(alerts)
}

// digestMarkdown lists the alerts newest first, preceded by a count per severity.
func digestMarkdown(alerts []model.AlertEvent, dropped int) string {
	var b strings.Builder
	b.WriteString("# Cerberus Alert Digest\n\n")
	fmt.Fprintf(&b, "**%d** alert(s) received since the last digest.\n\n", len(alerts)+dropped)
	if dropped > 0 {
		fmt.Fprintf(&b, "_%d older alert(s) were not kept._\n\n", dropped)
	}

	bySeverity := map[string]int{}
	for _, al := range alerts {
		bySeverity[severityOf(al)]++
	}
	severities := make([]string, 0, len(bySeverity))
	for s := range bySeverity {
		severities = append(severities, s)
	}
	sort.Strings(severities)
	for _, s := range severities {
		fmt.Fprintf(&b, "- %s: %d\n", s, bySeverity[s])
	}
	b.WriteString("\n| Time | Severity | Message |\n|---|---|---|\n")

	for i := len(alerts) - 1; i >= 0; i-- {
		al := alerts[i]
		when := "-"
		if !al.Timestamp.IsZero() {
			when = al.Timestamp.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", when, severityOf(al), escapeCell(al.Message))
	}
	return b.String()
}

func severityOf(al model.AlertEvent) string {
	if al.Severity == "" {
		return "unknown"
	}
	return al.Severity
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func renderHTML(md string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	return string(markdown.ToHTML([]byte(md), p, nil))
}
