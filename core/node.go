package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	marketerr "luxmarket/core/errors"
	"luxmarket/core/events"
	"luxmarket/core/state"
	"luxmarket/native/auth"
	"luxmarket/native/bank"
	"luxmarket/native/escrow"
	"luxmarket/native/fees"
	"luxmarket/native/membership"
	"luxmarket/native/roles"
	"luxmarket/native/schedule"
	"luxmarket/native/whitelist"
	"luxmarket/native/wrapper"
	"luxmarket/observability"
	"luxmarket/storage"
)

var (
	ErrNotAdmin       = errors.New("core: caller lacks the admin role")
	ErrNotRelayer     = errors.New("core: caller is not the wallet and lacks the relayer role")
	ErrGenesisApplied = errors.New("core: genesis already applied")
	ErrChainMismatch  = errors.New("core: genesis chain id does not match node")
)

// Config carries the node settings that shape execution.
type Config struct {
	ChainID               *big.Int
	DomainVersion         string
	AllowLegacySignatures bool
	WithdrawPolicy        escrow.WithdrawPolicy
}

// Node owns the database and runs every marketplace operation. Writes are
// serialised behind stateMu; each operation executes inside one storage
// transaction and its events reach subscribers only after commit.
type Node struct {
	db      storage.Database
	cfg     Config
	stateMu sync.Mutex
	ledger  *escrow.Ledger
	emitter events.Emitter
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.MarketMetrics
	nowFn   func() int64

	streamMu      sync.Mutex
	streamSeq     uint64
	streamNextID  uint64
	streamSubs    map[uint64]chan EventUpdate
	streamHistory []EventUpdate
}

// NewNode wires a node over db. The database must already be open.
func NewNode(db storage.Database, cfg Config) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database must not be nil")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("core: chain id must be positive")
	}
	if cfg.DomainVersion == "" {
		cfg.DomainVersion = auth.DefaultVersion
	}
	cfg.ChainID = new(big.Int).Set(cfg.ChainID)
	return &Node{
		db:      db,
		cfg:     cfg,
		ledger:  escrow.NewLedger(),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("luxmarket/core"),
		metrics: observability.Market(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}, nil
}

// SetEmitter configures the sink receiving committed events. Passing nil
// resets the emitter to a no-op implementation.
func (n *Node) SetEmitter(emitter events.Emitter) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if emitter == nil {
		n.emitter = events.NoopEmitter{}
		return
	}
	n.emitter = emitter
}

// SetLogger replaces the node logger. Passing nil restores slog.Default.
func (n *Node) SetLogger(logger *slog.Logger) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	n.logger = logger
}

// log returns the current logger. Callers must not hold stateMu.
func (n *Node) log() *slog.Logger {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.logger
}

// SetNowFunc overrides the clock used for expiry checks and sale windows.
// Primarily intended for tests to provide deterministic timestamps.
func (n *Node) SetNowFunc(now func() int64) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	n.nowFn = now
}

// Config returns a copy of the node configuration.
func (n *Node) Config() Config {
	cfg := n.cfg
	cfg.ChainID = new(big.Int).Set(n.cfg.ChainID)
	return cfg
}

func (n *Node) now() uint64 {
	ts := n.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// modules is the set of state-backed collaborators bound to one transaction
// or view.
type modules struct {
	state      *state.Manager
	events     events.Emitter
	roles      *roles.Registry
	bank       *bank.Ledger
	assets     *wrapper.Registry
	membership *membership.Directory
	whitelist  *whitelist.List
	schedule   *schedule.Resolver
	fees       *fees.Engine
}

func (n *Node) bind(mgr *state.Manager, emitter events.Emitter) *modules {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	registry := roles.NewRegistry(mgr)
	ledger := bank.NewLedger(mgr)
	engine := fees.NewEngine()
	engine.SetState(mgr)
	engine.SetTokens(ledger)
	engine.SetRoles(registry)
	return &modules{
		state:      mgr,
		events:     emitter,
		roles:      registry,
		bank:       ledger,
		assets:     wrapper.NewRegistry(mgr, registry),
		membership: membership.NewDirectory(mgr),
		whitelist:  whitelist.NewList(mgr),
		schedule:   schedule.NewResolver(mgr),
		fees:       engine,
	}
}

// domain builds the sales signing domain from the directory.
func (n *Node) domain(m *modules) (auth.Domain, error) {
	sales, err := m.roles.MustRoleAddress(roles.AddressSales)
	if err != nil {
		return auth.Domain{}, err
	}
	return auth.Domain{
		Name:              auth.DomainSales,
		Version:           n.cfg.DomainVersion,
		ChainID:           new(big.Int).Set(n.cfg.ChainID),
		VerifyingContract: sales,
	}, nil
}

func (n *Node) authorizer(m *modules) (*auth.Authorizer, error) {
	domain, err := n.domain(m)
	if err != nil {
		return nil, err
	}
	authorizer := auth.NewAuthorizer(m.state, domain)
	authorizer.SetNowFunc(n.nowFn)
	authorizer.SetAllowLegacy(n.cfg.AllowLegacySignatures)
	return authorizer, nil
}

// bindLedger points the long-lived escrow ledger at the modules of the
// current transaction. The ledger keeps its reentrancy guard across calls.
func (n *Node) bindLedger(m *modules) (*escrow.Ledger, error) {
	custodian, err := m.roles.MustRoleAddress(roles.AddressSales)
	if err != nil {
		return nil, err
	}
	n.ledger.SetState(m.state)
	n.ledger.SetLocator(&stateLocator{mods: m})
	n.ledger.SetSchedule(m.schedule)
	n.ledger.SetCustodian(custodian)
	n.ledger.SetWithdrawPolicy(n.cfg.WithdrawPolicy)
	n.ledger.SetEmitter(m.events)
	n.ledger.SetNowFunc(n.nowFn)
	return n.ledger, nil
}

// apply runs fn inside a write transaction. The transaction commits only when
// fn succeeds; buffered events are published after the commit.
func (n *Node) apply(fn func(*modules) error) error {
	tx, err := n.db.Begin()
	if err != nil {
		return err
	}
	buffer := &events.Buffer{}
	if err := fn(n.bind(state.NewManager(tx), buffer)); err != nil {
		tx.Discard()
		return err
	}
	if err := tx.Commit(); err != nil {
		tx.Discard()
		return fmt.Errorf("core: commit: %w", err)
	}
	n.publish(buffer.Events())
	return nil
}

// view runs fn against a read-only snapshot.
func (n *Node) view(fn func(*modules) error) error {
	snapshot, err := n.db.View()
	if err != nil {
		return err
	}
	defer snapshot.Release()
	return fn(n.bind(state.NewManager(snapshot), nil))
}

func (n *Node) publish(evts []events.Event) {
	for _, evt := range evts {
		n.metrics.RecordEvent(evt.EventType())
		n.emitter.Emit(evt)
		n.publishStream(evt)
	}
}

func (n *Node) requireRole(m *modules, role string, caller common.Address, reason error) error {
	ok, err := m.roles.HasRole(role, caller)
	if err != nil {
		return err
	}
	if !ok {
		return marketerr.Authorization(reason, "%s", caller.Hex())
	}
	return nil
}

// observe closes the span of an operation and records its metrics and log
// line. It runs from a defer registered before stateMu is taken, so the lock
// is already released.
func (n *Node) observe(span trace.Span, operation string, started time.Time, err error) {
	logger := n.log()
	outcome := "success"
	if err != nil {
		outcome = marketerr.KindOf(err).String()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("market operation rejected",
			slog.String("operation", operation),
			slog.String("kind", outcome),
			slog.String("error", err.Error()))
	} else {
		logger.Debug("market operation applied", slog.String("operation", operation))
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	n.metrics.ObserveOperation(operation, outcome, time.Since(started))
}

func (n *Node) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return n.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
