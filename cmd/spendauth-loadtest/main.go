package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/spendauth/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type sessionState struct {
	id      string
	access  string
	refresh string
	mu      sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 20000, "number of sessions to seed")
		users       = flag.Int("users", 2000, "number of distinct users owning the sessions")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (validate + refresh)")
		racers      = flag.Int("racers", 8, "concurrent refreshes of one token in the race phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "ss", "session key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *users <= 0 || *concurrency <= 0 || *ops <= 0 || *racers <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, users, concurrency, ops and racers must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := session.NewRedisStore(client, *prefix)

	states := make([]sessionState, *sessions)
	fmt.Printf("seeding %d sessions for %d users...\n", *sessions, *users)
	startSeed := time.Now()
	for i := range states {
		sess := buildSession(i, *users)
		states[i].id = sess.ID
		states[i].access = "access-" + strconv.Itoa(i)
		states[i].refresh = "refresh-" + strconv.Itoa(i)
		sess.BindTokens(states[i].access, states[i].refresh)
		if err := store.Create(ctx, sess); err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runValidatePhase(ctx, store, states, *ops, *concurrency)
	refreshStats := runRefreshPhase(ctx, store, states, *ops, *concurrency)
	wins, losses, raceErr := runRacePhase(ctx, store, &states[0], *racers)

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
	if raceErr != nil {
		fmt.Printf("race: error=%v\n", raceErr)
	} else {
		fmt.Printf("race: racers=%d wins=%d mismatches=%d\n", *racers, wins, losses)
	}
	if wins != 1 {
		fmt.Fprintln(os.Stderr, "race phase: expected exactly one winning rotation")
		os.Exit(1)
	}
}

// runValidatePhase resolves random access tokens to their sessions.
func runValidatePhase(ctx context.Context, store session.Store, states []sessionState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 7919, func(r *rand.Rand, _ int) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		access := state.access
		state.mu.Unlock()
		sess, err := store.FindByAccessToken(ctx, access)
		if err == nil && !sess.IsActive {
			return session.ErrInactive
		}
		return err
	})
}

// runRefreshPhase rotates random sessions. Each session's pair is held
// under its own lock so every rotation presents the current token.
func runRefreshPhase(ctx context.Context, store session.Store, states []sessionState, ops, concurrency int) phaseStats {
	return runPhase(ops, concurrency, 6151, func(r *rand.Rand, i int) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		defer state.mu.Unlock()

		suffix := strconv.Itoa(i)
		next := session.Rotation{
			ExpectedRefreshHash: session.HashToken(state.refresh),
			AccessToken:         state.access + "." + suffix,
			RefreshToken:        state.refresh + "." + suffix,
			At:                  time.Now(),
			ExpiresAt:           time.Now().Add(24 * time.Hour),
		}
		if _, err := store.Rotate(ctx, state.id, next); err != nil {
			return err
		}
		state.access, state.refresh = next.AccessToken, next.RefreshToken
		return nil
	})
}

// runRacePhase fires racers rotations of the same refresh token at once.
// Exactly one must apply; the rest must see a token mismatch.
func runRacePhase(ctx context.Context, store session.Store, state *sessionState, racers int) (wins, mismatches int64, err error) {
	state.mu.Lock()
	expected := session.HashToken(state.refresh)
	state.mu.Unlock()

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		firstErr atomic.Value
	)
	for w := 0; w < racers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, rerr := store.Rotate(ctx, state.id, session.Rotation{
				ExpectedRefreshHash: expected,
				AccessToken:         uuid.NewString(),
				RefreshToken:        uuid.NewString(),
				At:                  time.Now(),
				ExpiresAt:           time.Now().Add(24 * time.Hour),
			})
			switch {
			case rerr == nil:
				atomic.AddInt64(&wins, 1)
			case errors.Is(rerr, session.ErrTokenMismatch):
				atomic.AddInt64(&mismatches, 1)
			default:
				firstErr.CompareAndSwap(nil, rerr)
			}
		}()
	}
	close(start)
	wg.Wait()
	if v := firstErr.Load(); v != nil {
		err = v.(error)
	}
	return wins, mismatches, err
}

func runPhase(ops, concurrency int, seedStep int64, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seedStep))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func buildSession(i, users int) *session.Session {
	now := time.Now()
	return &session.Session{
		ID:                uuid.NewString(),
		UserID:            session.UserID("u" + strconv.Itoa(i%users)),
		Device:            session.Device{Browser: "Chrome", OS: "macOS", DeviceType: session.DeviceDesktop},
		IsActive:          true,
		Policy:            session.PolicyFixed,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(24 * time.Hour),
		OriginalExpiresAt: now.Add(24 * time.Hour),
	}
}
