package bdd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/cucumber/godog"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/api"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/authz"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/metrics"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/paystack"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/storage/memory"
	postgresdb "github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/storage/postgres"
)

// ReconciliationWorld is the per-scenario state: one service instance wired to
// a fake Paystack oracle and the selected order store.
type ReconciliationWorld struct {
	t *testing.T

	secret string
	oracle *fakeOracle
	store  order.Store
	server *httptest.Server

	lastBody      []byte
	lastSignature string

	// HTTP response capture
	httpStatus int
	httpJSON   map[string]any
}

func NewReconciliationWorld(t *testing.T) *ReconciliationWorld {
	return &ReconciliationWorld{t: t}
}

func (w *ReconciliationWorld) Register(sc *godog.ScenarioContext) {
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		return ctx, w.resetScenarioState()
	})
	sc.After(func(ctx context.Context, _ *godog.Scenario, _ error) (context.Context, error) {
		if w.server != nil {
			w.server.Close()
			w.server = nil
		}
		return ctx, nil
	})

	w.registerReconciliationSteps(sc)
}

func (w *ReconciliationWorld) resetScenarioState() error {
	w.secret = "sk_test_bdd"
	w.oracle = &fakeOracle{transactions: map[string]paystack.Transaction{}}
	w.lastBody = nil
	w.lastSignature = ""
	w.httpStatus = 0
	w.httpJSON = nil

	store, err := w.newStore()
	if err != nil {
		return err
	}
	w.store = store
	w.startServer()
	return nil
}

func (w *ReconciliationWorld) startServer() {
	if w.server != nil {
		w.server.Close()
	}
	logger := zap.NewNop()
	if os.Getenv("BDD_DEBUG") != "" {
		logger = zaptest.NewLogger(w.t)
	}
	m := metrics.New()
	reconciler := order.NewReconciler(w.store, logger, order.WithMetrics(m))

	mux := http.NewServeMux()
	api.RegisterWebhookRoutes(mux, api.NewWebhookHandler(w.secret, reconciler, logger, m))
	api.RegisterVerifyRoutes(mux, api.NewVerifyHandler(w.oracle, reconciler, logger, m))
	api.RegisterOrdersRoutes(mux, w.store, authz.NoopClient{}, logger)
	w.server = httptest.NewServer(mux)
}

func (w *ReconciliationWorld) debugf(format string, args ...any) {
	if os.Getenv("BDD_DEBUG") != "" {
		w.t.Logf(format, args...)
	}
}

// fakeOracle answers FetchStatus from a fixed table. Unknown references are
// reported as failed, as Paystack does for references it never saw.
type fakeOracle struct {
	mu           sync.Mutex
	transactions map[string]paystack.Transaction
}

func (f *fakeOracle) set(tx paystack.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transactions[tx.Reference] = tx
}

func (f *fakeOracle) FetchStatus(_ context.Context, reference string) (paystack.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.transactions[reference]
	if !ok {
		return paystack.Transaction{Reference: reference, Status: paystack.StatusFailure}, nil
	}
	return tx, nil
}

// newStore returns the in-memory store unless BDD_ORDER_STORE=postgres, in
// which case a migrated test database is used.
func (w *ReconciliationWorld) newStore() (order.Store, error) {
	if !strings.EqualFold(os.Getenv("BDD_ORDER_STORE"), "postgres") {
		return memory.NewStore(), nil
	}
	w.ensureDatabase()
	if err := w.cleanDatabase(); err != nil {
		return nil, err
	}
	return postgresdb.NewRepository(bddDB), nil
}

var (
	dbSetupOnce sync.Once
	dbSetupErr  error
	bddDB       *sql.DB
)

func (w *ReconciliationWorld) ensureDatabase() {
	dbSetupOnce.Do(func() {
		cfg, err := databaseConfigFromEnv()
		if err != nil {
			dbSetupErr = err
			return
		}
		bddDB, err = postgresdb.OpenDatabase(context.Background(), cfg)
		if err != nil {
			dbSetupErr = fmt.Errorf("failed to open database (host=%s port=%d name=%s user=%s): %w", cfg.Host, cfg.Port, cfg.Database, cfg.User, err)
			return
		}
		if !tableExists(bddDB, "orders") {
			dbSetupErr = runMigrations(bddDB, filepath.Join(locateProjectRoot(), "db", "migrations"))
		}
	})

	if dbSetupErr != nil {
		w.t.Helper()
		w.t.Skipf("skipping BDD tests: %v", dbSetupErr)
	}
}

func tableExists(db *sql.DB, name string) bool {
	if db == nil {
		return false
	}
	if !strings.Contains(name, ".") {
		name = "public." + name
	}
	var reg sql.NullString
	// to_regclass returns NULL if the relation does not exist
	if err := db.QueryRow(`SELECT to_regclass($1)`, name).Scan(&reg); err != nil {
		return false
	}
	return reg.Valid && reg.String != ""
}

func (w *ReconciliationWorld) cleanDatabase() error {
	if bddDB == nil {
		return errors.New("database not initialised")
	}

	// Safety guard: avoid truncating a non-test DB unless explicitly allowed
	name := getenv("ORDER_DB_NAME", "")
	if os.Getenv("ALLOW_DB_TRUNCATE_FOR_TESTS") != "true" && name != "" && !strings.HasSuffix(strings.ToLower(name), "_test") {
		w.t.Skipf("skipping DB truncate on non-test database %q; set ALLOW_DB_TRUNCATE_FOR_TESTS=true to override", name)
		return nil
	}

	_, err := bddDB.Exec(`TRUNCATE TABLE orders`)
	return err
}

func databaseConfigFromEnv() (postgresdb.DatabaseConfig, error) {
	portStr := getenv("ORDER_DB_PORT", "5432")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return postgresdb.DatabaseConfig{}, fmt.Errorf("invalid ORDER_DB_PORT %q: %w", portStr, err)
	}

	return postgresdb.DatabaseConfig{
		Host:     getenv("ORDER_DB_HOST", "localhost"),
		Port:     port,
		Database: getenv("ORDER_DB_NAME", "reconciliation_test"),
		User:     getenv("ORDER_DB_USER", "reconciliationadmin"),
		Password: os.Getenv("ORDER_DB_PASSWORD"),
		SSLMode:  getenv("PGSSLMODE", "disable"),
	}, nil
}

func runMigrations(db *sql.DB, path string) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	// os.ReadDir returns entries sorted by filename.
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(path, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func locateProjectRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "."
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}
