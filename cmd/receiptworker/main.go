package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	appconfig "github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/config"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/email"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/events"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := appconfig.Load()
	if err != nil {
		panic(err)
	}
	logger, err := logging.New(cfg.ServiceName+"-receipts", cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.PaymentsTopic,
		GroupID:  cfg.Kafka.ReceiptsGroup, // its own consumer group
		MinBytes: 1e3, MaxBytes: 10e6,
	})
	defer reader.Close()

	w := &worker{
		sender: pickSender(logger),
		to:     cfg.Email.ReceiptSink,
		logger: logger,
	}
	logger.Info("receipt worker consuming", zap.String("topic", cfg.Kafka.PaymentsTopic), zap.String("group", cfg.Kafka.ReceiptsGroup))
	if err := w.run(ctx, reader); err != nil {
		logger.Fatal("receipt worker stopped", zap.Error(err))
	}
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type worker struct {
	sender email.Sender
	to     string
	logger *zap.Logger
}

// run commits every message once handled. Undecodable messages are committed
// and skipped so one bad payload cannot wedge the partition.
func (w *worker) run(ctx context.Context, reader messageReader) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if err := w.handle(msg.Value); err != nil {
			w.logger.Warn("receipt not sent", zap.String("key", string(msg.Key)), zap.Error(err))
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			w.logger.Warn("commit error", zap.Error(err))
		}
	}
}

func (w *worker) handle(value []byte) error {
	evt, paid, err := events.DecodeOrderPaid(value)
	if err != nil {
		return err
	}
	if evt.EventType != events.EventOrderPaid {
		return nil
	}

	body, err := email.RenderReceiptEmail(email.Receipt{
		Reference:       paid.Reference,
		UserID:          paid.UserID,
		BundleID:        paid.BundleID,
		ProviderName:    paid.ProviderName,
		RecipientNumber: paid.RecipientNumber,
		Price:           paid.Price,
		PaymentNetwork:  paid.PaymentNetwork,
	})
	if err != nil {
		return err
	}
	if err := w.sender.Send(w.to, receiptSubject(paid), body); err != nil {
		return err
	}
	w.logger.Info("sent receipt", zap.String("reference", paid.Reference), zap.String("event_id", evt.EventID))
	return nil
}

// receiptSubject tags the receipt with the paying user so the sink mailbox can
// route it.
func receiptSubject(paid events.OrderPaid) string {
	if paid.UserID == "" {
		return "Payment receipt " + paid.Reference
	}
	return "Payment receipt " + paid.Reference + " for user " + paid.UserID
}

func pickSender(logger *zap.Logger) email.Sender {
	// Use SMTP if configured; else fall back to the log sender.
	if os.Getenv("SMTP_HOST") != "" || os.Getenv("SMTP_PORT") != "" {
		return email.NewSMTPSender()
	}
	return email.LogSender{Logger: logger}
}
