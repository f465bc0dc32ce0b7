package bdd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/cucumber/godog"

	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/order"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/paystack"
	"github.com/AnthonyGillesRudolfo/Payment-Reconciliation-Service/internal/storage/memory"
)

var defaultMetadata = map[string]any{
	"user_id":          "U",
	"provider_name":    "MTN",
	"bundle_id":        "B",
	"recipient_number": "0551234567",
}

func (w *ReconciliationWorld) registerReconciliationSteps(sc *godog.ScenarioContext) {
	sc.Step(`^Paystack reports reference "([^"]+)" as "([^"]+)" with amount (\d+)$`, w.paystackReports)
	sc.Step(`^a pending order exists for reference "([^"]+)"$`, w.seedPendingOrder)
	sc.Step(`^a signed "([^"]+)" webhook for reference "([^"]+)" with amount (\d+) is delivered$`, w.deliverSignedWebhook)
	sc.Step(`^a "([^"]+)" webhook for reference "([^"]+)" signed with secret "([^"]+)" is delivered$`, w.deliverWebhookSignedWith)
	sc.Step(`^the same webhook is delivered again$`, w.redeliverWebhook)
	sc.Step(`^the client verifies reference "([^"]+)"$`, w.verifyReference)
	sc.Step(`^the response status is (\d+)$`, w.assertStatus)
	sc.Step(`^the response field "([^"]+)" is "([^"]+)"$`, w.assertField)
	sc.Step(`^(\d+) orders? exists? for reference "([^"]+)"$`, w.assertOrderCount)
	sc.Step(`^the order for reference "([^"]+)" is "([^"]+)" with price ([\d\.]+)$`, w.assertOrder)
	sc.Step(`^the order for reference "([^"]+)" is readable over the API$`, w.assertOrderReadable)
}

func (w *ReconciliationWorld) paystackReports(reference, status, amountStr string) error {
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	tx := paystack.Transaction{
		Reference:      reference,
		ProviderStatus: status,
		Status:         paystack.StatusFailure,
	}
	if status == "success" {
		tx.Status = paystack.StatusSuccess
		tx.Amount = amount
		tx.Metadata = &order.Metadata{UserID: "U", ProviderName: "MTN", BundleID: "B", RecipientNumber: "0551234567"}
	}
	w.oracle.set(tx)
	return nil
}

func (w *ReconciliationWorld) seedPendingOrder(reference string) error {
	_, err := w.store.Insert(context.Background(), order.Order{
		Reference:      reference,
		UserID:         "U",
		Price:          50,
		PaymentNetwork: order.PaymentNetwork,
		Status:         order.StatusPending,
	})
	return err
}

func webhookBody(event, reference string, amount int64) ([]byte, error) {
	return json.Marshal(map[string]any{
		"event": event,
		"data": map[string]any{
			"reference": reference,
			"amount":    amount,
			"metadata":  defaultMetadata,
		},
	})
}

func (w *ReconciliationWorld) deliverSignedWebhook(event, reference, amountStr string) error {
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	body, err := webhookBody(event, reference, amount)
	if err != nil {
		return err
	}
	return w.postWebhook(body, paystack.Sign(body, []byte(w.secret)))
}

func (w *ReconciliationWorld) deliverWebhookSignedWith(event, reference, secret string) error {
	body, err := webhookBody(event, reference, 5000)
	if err != nil {
		return err
	}
	return w.postWebhook(body, paystack.Sign(body, []byte(secret)))
}

func (w *ReconciliationWorld) redeliverWebhook() error {
	if w.lastBody == nil {
		return errors.New("no webhook delivered yet")
	}
	return w.postWebhook(w.lastBody, w.lastSignature)
}

func (w *ReconciliationWorld) postWebhook(body []byte, signature string) error {
	w.lastBody = body
	w.lastSignature = signature

	req, err := http.NewRequest(http.MethodPost, w.server.URL+"/webhook", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(paystack.SignatureHeader, signature)
	return w.do(req)
}

func (w *ReconciliationWorld) verifyReference(reference string) error {
	body, err := json.Marshal(map[string]string{"reference": reference})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, w.server.URL+"/verify-payment", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return w.do(req)
}

func (w *ReconciliationWorld) do(req *http.Request) error {
	resp, err := w.server.Client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	w.httpStatus = resp.StatusCode
	w.httpJSON = nil
	_ = json.Unmarshal(raw, &w.httpJSON)
	w.debugf("%s %s -> %d %s", req.Method, req.URL.Path, resp.StatusCode, raw)
	return nil
}

func (w *ReconciliationWorld) assertStatus(code int) error {
	if w.httpStatus != code {
		return fmt.Errorf("expected status %d, got %d (%v)", code, w.httpStatus, w.httpJSON)
	}
	return nil
}

func (w *ReconciliationWorld) assertField(field, want string) error {
	got, ok := w.httpJSON[field]
	if !ok {
		return fmt.Errorf("response has no field %q: %v", field, w.httpJSON)
	}
	if fmt.Sprint(got) != want {
		return fmt.Errorf("field %q: expected %q, got %v", field, want, got)
	}
	return nil
}

func (w *ReconciliationWorld) assertOrderCount(n int, reference string) error {
	got := 0
	switch s := w.store.(type) {
	case *memory.Store:
		if _, err := s.FindByReference(context.Background(), reference); err == nil {
			got = 1
		}
		if s.Count() > 1 {
			return fmt.Errorf("expected at most one order in store, found %d", s.Count())
		}
	default:
		if err := bddDB.QueryRow(`SELECT COUNT(*) FROM orders WHERE paystack_reference = $1`, reference).Scan(&got); err != nil {
			return err
		}
	}
	if got != n {
		return fmt.Errorf("expected %d orders for %s, found %d", n, reference, got)
	}
	return nil
}

func (w *ReconciliationWorld) assertOrder(reference, status, priceStr string) error {
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return fmt.Errorf("invalid price: %w", err)
	}
	o, err := w.store.FindByReference(context.Background(), reference)
	if err != nil {
		return fmt.Errorf("find order %s: %w", reference, err)
	}
	if string(o.Status) != status {
		return fmt.Errorf("expected status %s, got %s", status, o.Status)
	}
	if o.Price != price {
		return fmt.Errorf("expected price %.2f, got %.2f", price, o.Price)
	}
	if o.PaymentNetwork != order.PaymentNetwork {
		return fmt.Errorf("expected payment network %s, got %s", order.PaymentNetwork, o.PaymentNetwork)
	}
	return nil
}

func (w *ReconciliationWorld) assertOrderReadable(reference string) error {
	req, err := http.NewRequest(http.MethodGet, w.server.URL+"/api/orders/"+reference, nil)
	if err != nil {
		return err
	}
	if err := w.do(req); err != nil {
		return err
	}
	if w.httpStatus != http.StatusOK {
		return fmt.Errorf("expected 200 reading order, got %d", w.httpStatus)
	}
	o, _ := w.httpJSON["order"].(map[string]any)
	if o["paystack_reference"] != reference {
		return fmt.Errorf("unexpected order payload: %v", w.httpJSON)
	}
	return nil
}
