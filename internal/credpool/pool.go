// Package credpool implements the credential pool: round-robin selection
// over N refresh-token configs, per-index access-token caching with
// single-flight refresh, quota-driven exhaustion, and a periodic eviction
// sweep. It generalizes the single-auth-struct pattern in the teacher's
// executor (one cached token on the Auth) into an explicit, lifecycle-owned
// pool object per the design note on avoiding ambient global state.
package credpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// AuthMethod selects which refresh wire shape a Config uses.
type AuthMethod string

const (
	AuthSocial AuthMethod = "Social"
	AuthIdC    AuthMethod = "IdC"
)

// Config is one credential pool entry's static configuration, as loaded
// from the credential config file (§6).
type Config struct {
	Auth         AuthMethod
	RefreshToken string
	ClientID     string
	ClientSecret string
	Disabled     bool
	Description  string
}

// Token is a minted access token plus its accounting.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Refresher performs the network calls for Refresh and the quota probe.
// Implemented by internal/upstreamclient in production; faked in tests.
type Refresher interface {
	RefreshToken(ctx context.Context, cfg Config) (accessToken string, expiresIn time.Duration, err error)
	ProbeQuota(ctx context.Context, accessToken string) (availableQuota int, err error)
}

type entry struct {
	mu             sync.Mutex
	cfg            Config
	cachedToken    string
	cachedAt       time.Time
	expiresAt      time.Time
	availableQuota int
	quotaKnown     bool // true while availableQuota comes from the cached token's refresh; the sweep resets it
	lastUsed       time.Time
}

func (e *entry) fresh(safetyMargin time.Duration) bool {
	if e.cachedToken == "" {
		return false
	}
	return time.Now().Add(safetyMargin).Before(e.expiresAt)
}

// Pool is the process-wide credential pool. Create with New, release with
// Close. Never copy a Pool by value.
type Pool struct {
	refresher Refresher

	mu        sync.Mutex
	entries   []*entry
	cursor    int
	exhausted map[int]bool
	sweepTick *time.Ticker
	sweepDone chan struct{}
	sweepOnce sync.Once

	sf singleflight.Group

	// SafetyMargin is how long before real expiry a cached token is
	// treated as stale. TTL bounds how long an entry may sit in the
	// eviction sweep before being dropped regardless of expiry.
	SafetyMargin time.Duration
	SweepTTL     time.Duration
}

// ErrAllCredentialsFailed is returned by Select when every credential in
// the pool failed this round.
var ErrAllCredentialsFailed = errors.New("credpool: all credentials failed")

// New creates a pool over configs, starting a 60s eviction sweep. Call
// Close to stop it.
func New(configs []Config, refresher Refresher) *Pool {
	p := &Pool{
		refresher:    refresher,
		exhausted:    make(map[int]bool),
		SafetyMargin: 5 * time.Minute,
		SweepTTL:     30 * time.Minute,
		sweepDone:    make(chan struct{}),
	}
	for _, c := range configs {
		p.entries = append(p.entries, &entry{cfg: c})
	}
	p.sweepTick = time.NewTicker(60 * time.Second)
	go p.sweepLoop()
	return p
}

func (p *Pool) sweepLoop() {
	for {
		select {
		case <-p.sweepTick.C:
			p.sweep()
		case <-p.sweepDone:
			return
		}
	}
}

func (p *Pool) sweep() {
	now := time.Now()
	for _, e := range p.entries {
		e.mu.Lock()
		stale := e.cachedToken != "" && (now.Sub(e.cachedAt) > p.SweepTTL || now.After(e.expiresAt))
		if stale {
			e.cachedToken = ""
			e.quotaKnown = false
		}
		e.mu.Unlock()
	}

	// Give refresh-failed entries another chance each sweep rather than
	// leaving them excluded from rotation forever.
	p.mu.Lock()
	p.exhausted = make(map[int]bool)
	p.mu.Unlock()
}

// Close stops the sweep timer. Idempotent: a second Close is a no-op.
func (p *Pool) Close() {
	p.sweepOnce.Do(func() {
		p.sweepTick.Stop()
		close(p.sweepDone)
	})
}

// Selection is the result of a successful Select call.
type Selection struct {
	Index           int
	Token           string
	AvailableBefore int
	Exceeded        bool
}

// Select implements §4.H's Select(next best): try up to len(entries)
// candidates starting at the cursor, refreshing as needed, skipping and
// marking exhausted any whose quota has reached zero.
func (p *Pool) Select(ctx context.Context) (Selection, error) {
	n := len(p.entries)
	if n == 0 {
		return Selection{}, ErrAllCredentialsFailed
	}

	for attempt := 0; attempt < n; attempt++ {
		p.mu.Lock()
		i := p.cursor
		alreadyExhausted := p.exhausted[i]
		p.mu.Unlock()

		if alreadyExhausted {
			p.advanceCursor()
			continue
		}

		e := p.entries[i]
		e.mu.Lock()
		if e.quotaKnown && e.availableQuota <= 0 {
			e.mu.Unlock()
			p.markExhaustedAndAdvance(i)
			continue
		}
		e.mu.Unlock()

		token, err := p.GetOrRefresh(ctx, i)
		if err != nil {
			log.WithError(err).WithField("index", i).Warn("credpool: refresh failed, trying next credential")
			p.markExhaustedAndAdvance(i)
			continue
		}

		e.mu.Lock()
		available := e.availableQuota
		exceeded := e.quotaKnown && available <= 0
		if available > 0 {
			e.availableQuota--
		}
		e.lastUsed = time.Now()
		e.mu.Unlock()

		p.advanceCursor()
		return Selection{Index: i, Token: token, AvailableBefore: available, Exceeded: exceeded}, nil
	}

	return Selection{}, ErrAllCredentialsFailed
}

func (p *Pool) markExhaustedAndAdvance(i int) {
	p.mu.Lock()
	p.exhausted[i] = true
	p.mu.Unlock()
	p.advanceCursor()
}

func (p *Pool) advanceCursor() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = (p.cursor + 1) % len(p.entries)
}

// GetOrRefresh implements §4.H's GetOrRefresh(i): a fresh cached token is
// returned directly; otherwise a refresh is single-flighted per index so
// concurrent callers share one upstream round trip.
func (p *Pool) GetOrRefresh(ctx context.Context, i int) (string, error) {
	e := p.entries[i]

	e.mu.Lock()
	if e.fresh(p.SafetyMargin) {
		tok := e.cachedToken
		e.mu.Unlock()
		return tok, nil
	}
	e.mu.Unlock()

	key := fmt.Sprintf("%d", i)
	v, err, _ := p.sf.Do(key, func() (any, error) {
		// Double-checked: another goroutine may have refreshed while we
		// waited to acquire the single-flight slot.
		e.mu.Lock()
		if e.fresh(p.SafetyMargin) {
			tok := e.cachedToken
			e.mu.Unlock()
			return tok, nil
		}
		e.mu.Unlock()

		accessToken, expiresIn, err := p.refresher.RefreshToken(ctx, e.cfg)
		if err != nil {
			return nil, err
		}

		quota, qerr := p.refresher.ProbeQuota(ctx, accessToken)
		if qerr != nil {
			log.WithError(qerr).WithField("index", i).Warn("credpool: quota probe failed, refresh still succeeds")
			quota = 0
		}

		e.mu.Lock()
		e.cachedToken = accessToken
		e.cachedAt = time.Now()
		e.expiresAt = e.cachedAt.Add(expiresIn)
		e.availableQuota = quota
		e.quotaKnown = true
		e.mu.Unlock()

		p.mu.Lock()
		delete(p.exhausted, i)
		p.mu.Unlock()

		return accessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
