package errors

import (
	"os"
	"sync"

	"github.com/certifi/gocertifi"
	"github.com/getsentry/sentry-go"
	"moff.io/moff-wallet/pkg/log"
)

// Setting this variable disables reporting.
const debugMode = "DEBUG"

var (
	reportersMu sync.RWMutex
	reporters   []Reporter
)

// Reporter receives errors created through the *AndReport helpers.
type Reporter interface {
	Report(error)
}

// ReporterFunc adapts a plain function to Reporter.
type ReporterFunc func(error)

func (f ReporterFunc) Report(err error) {
	f(err)
}

// RegisterReporter adds r to the reporters receiving every reported error.
func RegisterReporter(r Reporter) {
	if r == nil {
		return
	}
	reportersMu.Lock()
	reporters = append(reporters, r)
	reportersMu.Unlock()
}

// ResetReporters removes every registered reporter.
func ResetReporters() {
	reportersMu.Lock()
	reporters = nil
	reportersMu.Unlock()
}

func reportingDisabled() bool {
	return os.Getenv(debugMode) != ""
}

func report(err error) {
	if err == nil || reportingDisabled() {
		return
	}
	reportersMu.RLock()
	rs := make([]Reporter, len(reporters))
	copy(rs, reporters)
	reportersMu.RUnlock()
	for _, r := range rs {
		r.Report(err)
	}
}

type sentryReporter struct{}

func (s *sentryReporter) Report(err error) {
	sentry.CaptureException(err)
}

// NewSentryReporter
// Initializes sentry and registers it as a reporter.
// An empty DSN leaves sentry disabled.
func NewSentryReporter(sentryDSN string) error {
	if sentryDSN == "" {
		log.Warn("empty DSN found, skipping sentry reporter initialization.")
		return nil
	}
	rootCAs, err := gocertifi.CACerts()
	if err != nil {
		return Wrap(err, "init sentry CA")
	}
	err = sentry.Init(sentry.ClientOptions{
		Dsn:     sentryDSN,
		CaCerts: rootCAs,
	})
	if err != nil {
		return Wrap(err, "init sentry")
	}
	RegisterReporter(&sentryReporter{})
	if reportingDisabled() {
		log.Info("sentry error reporter initialized, env DEBUG set so nothing will be reported.")
	} else {
		log.Info("sentry error reporter initialized.")
	}
	return nil
}
