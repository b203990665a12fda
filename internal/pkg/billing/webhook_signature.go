package billing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"strings"

	"github.com/ManuelReschke/Kassenwart/app/models"
)

// SignatureRequest carries what signature checks may look at.
type SignatureRequest struct {
	Provider string
	Payload  []byte
	Header   func(key string) string
	Query    func(key string) string
	Secret   string
}

// VerifyWebhookSignature checks a delivery against the provider secret.
// A provider without a configured secret is not verified.
func VerifyWebhookSignature(req SignatureRequest) bool {
	secret := strings.TrimSpace(req.Secret)
	if secret == "" {
		return true
	}
	header := req.Header
	if header == nil {
		header = func(string) string { return "" }
	}
	query := req.Query
	if query == nil {
		query = func(string) string { return "" }
	}

	switch req.Provider {
	case models.PaymentProviderMercadoPago:
		dataID := strings.TrimSpace(query("data.id"))
		if dataID == "" {
			dataID = mercadoPagoResourceID(req.Payload)
		}
		return VerifyMercadoPagoSignature(dataID, header("X-Request-Id"), header("X-Signature"), secret)
	default:
		return VerifyHexHMACSignature(req.Payload, header("X-Signature"), secret)
	}
}

// VerifyHexHMACSignature checks a hex encoded HMAC-SHA256 of the raw body,
// as sent by the PayPal relay and the bank import. A "sha256=" prefix is
// accepted.
func VerifyHexHMACSignature(payload []byte, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" || secret == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	return verifyHMAC(payload, decoded, []byte(secret), sha256.New)
}

// VerifyMercadoPagoSignature validates the x-signature header
// ("ts=<unix>,v1=<hex>") over the manifest
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
func VerifyMercadoPagoSignature(dataID, requestID, signatureHeader, secret string) bool {
	var ts, v1 string
	for _, part := range strings.Split(signatureHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.TrimSpace(kv[0]) {
		case "ts":
			ts = strings.TrimSpace(kv[1])
		case "v1":
			v1 = strings.TrimSpace(kv[1])
		}
	}
	if ts == "" || v1 == "" || secret == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.ToLower(v1))
	if err != nil {
		return false
	}

	var manifest strings.Builder
	if dataID != "" {
		manifest.WriteString("id:" + strings.ToLower(dataID) + ";")
	}
	if requestID != "" {
		manifest.WriteString("request-id:" + requestID + ";")
	}
	manifest.WriteString("ts:" + ts + ";")

	return verifyHMAC([]byte(manifest.String()), expected, []byte(secret), sha256.New)
}

func mercadoPagoResourceID(payload []byte) string {
	var body struct {
		ID   json.Number `json:"id"`
		Data struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return ""
	}
	if id := body.Data.ID.String(); id != "" {
		return id
	}
	return body.ID.String()
}

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}
