package processors_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Builder-Lawyers/church-provisioner/internal/application/interfaces"
	"github.com/Builder-Lawyers/church-provisioner/internal/domain/consts"
)

// script hands out one error per call; calls past the end succeed.
type script struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (s *script) next() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= len(s.errs) {
		return s.errs[s.calls-1]
	}
	return nil
}

func (s *script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeProvisioner struct {
	script
	started chan struct{}
	block   bool
	// hold keeps the call going until closed, whatever happens to ctx
	// short of its deadline.
	hold chan struct{}
}

func (f *fakeProvisioner) ProvisionSite(ctx context.Context, req interfaces.SiteRequest) (interfaces.SiteResult, error) {
	err := f.next()
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block {
		<-ctx.Done()
		return interfaces.SiteResult{}, ctx.Err()
	}
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return interfaces.SiteResult{}, ctx.Err()
		}
	}
	if err != nil {
		return interfaces.SiteResult{}, err
	}
	return interfaces.SiteResult{
		SiteURL:  "https://orthodoxmetrics.com/churches/" + req.SiteSlug,
		SitePath: "churches/" + req.SiteSlug,
	}, nil
}

type fakeTester struct {
	script
	failing bool
	delay   time.Duration
	active  atomic.Int32
	peak    atomic.Int32
}

func (f *fakeTester) TestSite(ctx context.Context, _ interfaces.SiteTestRequest) (interfaces.SiteTestResult, error) {
	if f.delay > 0 {
		n := f.active.Add(1)
		defer f.active.Add(-1)
		for p := f.peak.Load(); n > p && !f.peak.CompareAndSwap(p, n); p = f.peak.Load() {
		}
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return interfaces.SiteTestResult{}, ctx.Err()
		}
	}
	if err := f.next(); err != nil {
		return interfaces.SiteTestResult{}, err
	}
	if f.failing {
		return interfaces.SiteTestResult{Passed: false, Metrics: map[string]any{"score": 40}}, nil
	}
	return interfaces.SiteTestResult{Passed: true, Metrics: map[string]any{"score": 100}}, nil
}

type fakeIssuer struct {
	script
}

func (f *fakeIssuer) IssueCredentials(_ context.Context, req interfaces.CredentialRequest) (interfaces.Credentials, error) {
	if err := f.next(); err != nil {
		return interfaces.Credentials{}, err
	}
	return interfaces.Credentials{
		AdminUsername:          "saintnic_office",
		AdminPasswordHash:      "$2a$12$adminhash",
		AdminPasswordPlaintext: "Adm1n!Password#1",
		TestUsername:           "test_" + req.SiteSlug,
		TestUserEmail:          fmt.Sprintf("test_%s@stnicholas.org", req.SiteSlug),
		TestUserPasswordHash:   "$2a$12$testhash",
		TestPasswordPlaintext:  "T3st!Password",
	}, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []interfaces.Notification
	failWith map[consts.Template]error
}

func (f *fakeNotifier) Notify(_ context.Context, n interfaces.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failWith[n.Template]; err != nil {
		return err
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) Sent(template consts.Template) []interfaces.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []interfaces.Notification
	for _, n := range f.sent {
		if n.Template == template {
			out = append(out, n)
		}
	}
	return out
}
