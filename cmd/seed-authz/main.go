package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/authz"
	appconfig "github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/config"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/logging"
)

// seed-authz grants a user the viewer relation on an order so that
// GET /api/orders/{reference} passes the OpenFGA check, then verifies it.
func main() {
	_ = godotenv.Load()

	userID := flag.String("user", "", "user id that paid for the order (the metadata user_id)")
	reference := flag.String("reference", "", "Paystack payment reference of the order")
	flag.Parse()

	cfg, err := appconfig.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.ServiceName+"-seed-authz", cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := run(ctx, authz.New(cfg.Authz.APIURL, cfg.Authz.StoreID), *userID, *reference, logger); err != nil {
		logger.Error("authz seed failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("authz seed verification passed")
}

func run(ctx context.Context, c authz.Client, userID, reference string, logger *zap.Logger) error {
	if userID == "" || reference == "" {
		return errors.New("-user and -reference are required")
	}
	fga, ok := c.(*authz.OpenFGAClient)
	if !ok {
		return errors.New("OPENFGA_API_URL and OPENFGA_STORE_ID must be set")
	}

	owner := "user:" + userID
	object := "order:" + reference
	if err := fga.Write(ctx, authz.TupleKey{User: owner, Relation: "viewer", Object: object}); err != nil {
		return fmt.Errorf("write tuples: %w", err)
	}
	logger.Info("seeded tuple", zap.String("user", owner), zap.String("object", object))

	allowed, err := fga.Check(ctx, owner, object, "viewer")
	if err != nil {
		return fmt.Errorf("check %s: %w", owner, err)
	}
	if !allowed {
		return fmt.Errorf("%s cannot view %s after seeding", owner, object)
	}

	denied, err := fga.Check(ctx, "user:anonymous", object, "viewer")
	if err != nil {
		return fmt.Errorf("check anonymous: %w", err)
	}
	if denied {
		return fmt.Errorf("user:anonymous can view %s", object)
	}
	return nil
}
