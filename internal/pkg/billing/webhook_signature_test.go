package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

func sign(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func headers(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func TestVerifyHexHMACSignature(t *testing.T) {
	payload := []byte(`{"foo":"bar"}`)
	secret := "top-secret"
	valid := sign(secret, string(payload))

	if !VerifyHexHMACSignature(payload, valid, secret) {
		t.Fatalf("expected signature to validate")
	}
	if !VerifyHexHMACSignature(payload, "sha256="+valid, secret) {
		t.Fatalf("expected prefixed signature to validate")
	}
	if VerifyHexHMACSignature(payload, "deadbeef", secret) {
		t.Fatalf("expected invalid signature to fail")
	}
	if VerifyHexHMACSignature(payload, "", secret) {
		t.Fatalf("expected missing signature to fail")
	}
	if VerifyHexHMACSignature([]byte(`{"foo":"baz"}`), valid, secret) {
		t.Fatalf("expected tampered payload to fail")
	}
}

func TestVerifyMercadoPagoSignature(t *testing.T) {
	secret := "mp-secret"
	v1 := sign(secret, "id:123;request-id:req-1;ts:1700000000;")
	header := "ts=1700000000,v1=" + v1

	if !VerifyMercadoPagoSignature("123", "req-1", header, secret) {
		t.Fatalf("expected signature to validate")
	}
	if VerifyMercadoPagoSignature("124", "req-1", header, secret) {
		t.Fatalf("expected other data id to fail")
	}
	if VerifyMercadoPagoSignature("123", "req-1", "v1="+v1, secret) {
		t.Fatalf("expected header without ts to fail")
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"confirmation_id":"BT-1"}`)

	if !VerifyWebhookSignature(SignatureRequest{Provider: models.PaymentProviderBankTransfer, Payload: payload}) {
		t.Fatalf("expected unsigned delivery to pass without secret")
	}

	req := SignatureRequest{
		Provider: models.PaymentProviderBankTransfer,
		Payload:  payload,
		Secret:   "s",
		Header:   headers(map[string]string{"X-Signature": sign("s", string(payload))}),
	}
	if !VerifyWebhookSignature(req) {
		t.Fatalf("expected bank transfer signature to validate")
	}
	req.Header = nil
	if VerifyWebhookSignature(req) {
		t.Fatalf("expected missing header to fail")
	}

	mpPayload := []byte(`{"id":987,"status":"approved"}`)
	mp := SignatureRequest{
		Provider: models.PaymentProviderMercadoPago,
		Payload:  mpPayload,
		Secret:   "mp",
		Header: headers(map[string]string{
			"X-Request-Id": "req-9",
			"X-Signature":  "ts=1,v1=" + sign("mp", "id:987;request-id:req-9;ts:1;"),
		}),
	}
	if !VerifyWebhookSignature(mp) {
		t.Fatalf("expected mercadopago signature from payload id to validate")
	}
	mp.Query = headers(map[string]string{"data.id": "111"})
	if VerifyWebhookSignature(mp) {
		t.Fatalf("expected query data.id to take precedence")
	}
}
