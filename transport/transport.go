// Package transport implements the Request/Ack RPC layer: a single duplex
// connection shared by every Master Resource Connection, correlating each
// outbound request with a one-shot acknowledgement callback guarded by a
// timeout, and fanning server-pushed broadcasts out to topic subscribers.
package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	jsoniter "github.com/json-iterator/go"
)

var log = logrus.WithField("prefix", "transport")

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultWaitForResponseMs is the default request timeout, spec.md §6.
const DefaultWaitForResponseMs = 15_000

var (
	// ErrRequestTimeout is the Err value of a request that received no ack
	// within the configured window.
	ErrRequestTimeout = errors.New("request timeout")
	// ErrClosed is a local programming error: Request called after Disconnect.
	ErrClosed = errors.New("transport wrapper closed")
	// ErrDisconnected is the Err value of a request still in flight when
	// Disconnect is called: it fails immediately rather than waiting out
	// its full timeout against a connection that is already gone.
	ErrDisconnected = errors.New("transport disconnected while request was in flight")
)

// AckEnvelope is the wire shape of every request acknowledgement:
// {ok: true, val: T} | {ok: false, val: E}, spec.md §6.
type AckEnvelope struct {
	OK  bool        `json:"ok"`
	Val interface{} `json:"val"`
}

// Result is the tagged Ok(T)|Err(E) outcome every request-shaped operation
// resolves with. Request-shaped operations never return a Go error for
// remote-originated failures; Result.Err carries those instead.
type Result struct {
	OK  bool
	Val interface{}
}

// Channel is the external duplex-transport contract spec.md §6 describes.
// The concrete library (Socket.IO, a raw websocket, ...) is an external
// collaborator; transport/wsconn ships one concrete adapter.
type Channel interface {
	Emit(event string, payload interface{}, ack func(AckEnvelope)) error
	On(event string, handler func(payload []byte))
	Off(event string)
	Connect(ctx context.Context) error
	Disconnect() error
}

var (
	metricRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movex",
		Subsystem: "transport",
		Name:      "requests_total",
		Help:      "Requests issued by op, partitioned by outcome.",
	}, []string{"op", "outcome"})
	metricRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "movex",
		Subsystem: "transport",
		Name:      "request_duration_seconds",
		Help:      "Latency from request emission to ack or timeout.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})
)

// Config configures a Wrapper.
type Config struct {
	URL               string
	UserID            string
	APIKey            string
	WaitForResponseMs int
}

// inflight tracks one request awaiting an ack, guarded by a sync.Once so the
// "called-once" rule (spec.md §4.6) holds regardless of whether the ack, the
// timeout, or a Disconnect fires first. Wrapper.inflight is the registry
// Disconnect drains to fail every outstanding request fast instead of
// leaving it to time out against a connection that is already gone.
type inflight struct {
	once   sync.Once
	result chan Result
	timer  *time.Timer
	op     string
	start  time.Time
}

// Wrapper is the Request/Ack Transport Wrapper of spec.md §4.6: one
// connection, many concurrent in-flight requests, correlated by token.
type Wrapper struct {
	cfg Config
	ch  Channel

	mu       sync.Mutex
	inflight map[string]*inflight

	topicsMu  sync.Mutex
	nextSubID uint64
	topics    map[string][]broadcastSub
	wired     map[string]bool

	closed int32
}

type broadcastSub struct {
	id uint64
	fn func([]byte)
}

// New constructs a Wrapper around ch. If cfg.UserID is empty, a random
// decimal userId in [10_000_000_000, 999_999_999_999] is generated, per
// spec.md §6. An internal uuid derived from the userId (see sessionKey) is
// used only as a log field; correlation tokens do not depend on either.
func New(cfg Config, ch Channel) *Wrapper {
	if cfg.UserID == "" {
		cfg.UserID = fmt.Sprintf("%d", 10_000_000_000+rand.Int63n(999_999_999_999-10_000_000_000+1))
	}
	if cfg.WaitForResponseMs == 0 {
		cfg.WaitForResponseMs = DefaultWaitForResponseMs
	}
	return &Wrapper{
		cfg:      cfg,
		ch:       ch,
		inflight: make(map[string]*inflight),
		topics:   make(map[string][]broadcastSub),
		wired:    make(map[string]bool),
	}
}

// sessionKey is an internal, uuid-backed identity distinct from the
// spec-mandated decimal UserID; it is never sent over the wire, only used
// to namespace local bookkeeping (e.g. log fields) per Wrapper instance.
func (w *Wrapper) sessionKey() string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(w.cfg.UserID)).String()
}

// Connect opens the underlying channel and publishes _socketConnect.
func (w *Wrapper) Connect(ctx context.Context) error {
	if err := w.ch.Connect(ctx); err != nil {
		return err
	}
	atomic.StoreInt32(&w.closed, 0)
	log.WithField("userId", w.cfg.UserID).WithField("session", w.sessionKey()).Info("connected")
	w.publishLocal("_socketConnect", nil)
	return nil
}

// Disconnect closes the underlying channel, fails every request still
// awaiting an ack with ErrDisconnected, and publishes _socketDisconnect.
func (w *Wrapper) Disconnect() error {
	atomic.StoreInt32(&w.closed, 1)
	w.failInflight(ErrDisconnected, "disconnected")
	err := w.ch.Disconnect()
	log.Info("disconnected")
	w.publishLocal("_socketDisconnect", nil)
	return err
}

// failInflight resolves every currently-registered inflight request with
// err, so a reconnect-orphaned caller fails immediately rather than waiting
// out its full WaitForResponseMs against a connection that is already gone.
func (w *Wrapper) failInflight(err error, outcome string) {
	w.mu.Lock()
	pending := make(map[string]*inflight, len(w.inflight))
	for tok, in := range w.inflight {
		pending[tok] = in
	}
	w.mu.Unlock()

	for tok, in := range pending {
		w.finishInflight(tok, in, Result{OK: false, Val: err.Error()}, outcome)
	}
}

// finishInflight resolves in exactly once, regardless of whether the ack,
// the timeout, Disconnect, or the caller's ctx fires first.
func (w *Wrapper) finishInflight(tok string, in *inflight, res Result, outcome string) {
	in.once.Do(func() {
		w.mu.Lock()
		delete(w.inflight, tok)
		w.mu.Unlock()
		if in.timer != nil {
			in.timer.Stop()
		}
		metricRequestsTotal.WithLabelValues(in.op, outcome).Inc()
		metricRequestLatency.WithLabelValues(in.op).Observe(time.Since(in.start).Seconds())
		in.result <- res
	})
}

// token draws a random correlation token "<op>:<5-digit-random>". Request
// draws again while the token is held by another in-flight request, so
// tokens are unique among in-flight requests; a token may be reused once
// its earlier request has resolved — see spec.md §4.6 note on the scheme
// being an implementation choice.
func token(op string) string {
	return fmt.Sprintf("%s:%05d", op, rand.Intn(100_000))
}

// Request issues op with payload, arms a timeout, and resolves exactly once
// with the ack's Result or ErrRequestTimeout. It never returns a non-nil Go
// error for a remote-originated failure — only for local misuse (closed
// wrapper) — matching spec.md §9's "always resolve with a tagged result".
func (w *Wrapper) Request(ctx context.Context, op string, payload interface{}) (Result, error) {
	if atomic.LoadInt32(&w.closed) == 1 {
		return Result{}, ErrClosed
	}
	start := time.Now()
	in := &inflight{result: make(chan Result, 1), op: op, start: start}

	w.mu.Lock()
	tok := token(op)
	for w.inflight[tok] != nil {
		tok = token(op)
	}
	w.inflight[tok] = in
	w.mu.Unlock()

	log.WithField("token", tok).WithField("op", op).Info("request")

	finish := func(res Result, outcome string) {
		w.finishInflight(tok, in, res, outcome)
	}

	in.timer = time.AfterFunc(time.Duration(w.cfg.WaitForResponseMs)*time.Millisecond, func() {
		log.WithField("token", tok).WithField("op", op).Warn("request timeout")
		finish(Result{OK: false, Val: ErrRequestTimeout.Error()}, "timeout")
	})

	err := w.ch.Emit(op, requestEnvelope{Token: tok, Payload: payload}, func(ack AckEnvelope) {
		if ack.OK {
			log.WithField("token", tok).WithField("op", op).WithField("val", ack.Val).Info("response")
		} else {
			log.WithField("token", tok).WithField("op", op).WithField("val", ack.Val).Warn("error response")
		}
		finish(Result{OK: ack.OK, Val: ack.Val}, outcomeFor(ack.OK))
	})
	if err != nil {
		finish(Result{OK: false, Val: err.Error()}, "emit_error")
	}

	select {
	case res := <-in.result:
		return res, nil
	case <-ctx.Done():
		finish(Result{OK: false, Val: ctx.Err().Error()}, "ctx_done")
		return <-in.result, nil
	}
}

func outcomeFor(ok bool) string {
	if ok {
		return "ok"
	}
	return "err"
}

type requestEnvelope struct {
	Token   string      `json:"token"`
	Payload interface{} `json:"payload"`
}

// OnBroadcast subscribes fn to raw payloads pushed under msgKey (e.g.
// "fwdAction"). The first subscriber for a given msgKey wires a single
// channel handler; subsequent subscribers share it — spec.md §4.6's
// "subscribe once" fan-out rule. Errored broadcasts ({ok:false,...}) are
// dropped silently: broadcasts have no correlated awaiter to report to.
func (w *Wrapper) OnBroadcast(msgKey string, fn func([]byte)) func() {
	w.topicsMu.Lock()
	if !w.wired[msgKey] {
		w.wired[msgKey] = true
		w.ch.On(msgKey, func(raw []byte) {
			var env AckEnvelope
			if err := jsonAPI.Unmarshal(raw, &env); err != nil {
				return
			}
			if !env.OK {
				return
			}
			valRaw, err := jsonAPI.Marshal(env.Val)
			if err != nil {
				return
			}
			w.publishLocal(msgKey, valRaw)
		})
	}
	id := w.nextSubID
	w.nextSubID++
	w.topics[msgKey] = append(w.topics[msgKey], broadcastSub{id: id, fn: fn})
	w.topicsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.topicsMu.Lock()
			defer w.topicsMu.Unlock()
			subs := w.topics[msgKey]
			for i, s := range subs {
				if s.id == id {
					w.topics[msgKey] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (w *Wrapper) publishLocal(msgKey string, payload []byte) {
	w.topicsMu.Lock()
	subs := make([]broadcastSub, len(w.topics[msgKey]))
	copy(subs, w.topics[msgKey])
	w.topicsMu.Unlock()
	for _, s := range subs {
		s.fn(payload)
	}
}
