package crypto

import (
	"errors"
	"testing"
)

func TestNewSigner(t *testing.T) {
	t.Parallel()

	if _, err := NewSigner(""); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if _, err := NewSigner("secret"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestCanonicalParams(t *testing.T) {
	t.Parallel()

	got := CanonicalParams(map[string]string{"order_id": "42", "amount": "9800", "currency": "usd"})
	want := "amount=9800&currency=usd&order_id=42"
	if got != want {
		t.Fatalf("CanonicalParams() = %q, want %q", got, want)
	}
	if CanonicalParams(nil) != "" {
		t.Fatal("expected empty canonical form for nil params")
	}
}

func TestSignerVerify(t *testing.T) {
	t.Parallel()

	signer, err := NewSigner("whsec")
	if err != nil {
		t.Fatalf("NewSigner() error: %v", err)
	}
	payload := []byte(`{"payment_id":"pay_1","status":"completed"}`)
	signature := signer.Sign(payload)

	tests := []struct {
		name      string
		payload   []byte
		signature string
		want      bool
	}{
		{name: "valid", payload: payload, signature: signature, want: true},
		{name: "tampered payload", payload: []byte(`{"payment_id":"pay_2"}`), signature: signature, want: false},
		{name: "empty signature", payload: payload, signature: "", want: false},
		{name: "not hex", payload: payload, signature: "zz-not-hex", want: false},
		{name: "truncated", payload: payload, signature: signature[:10], want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := signer.Verify(tt.payload, tt.signature); got != tt.want {
				t.Fatalf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSignParamsMatchesSign(t *testing.T) {
	t.Parallel()

	signer, _ := NewSigner("k")
	params := map[string]string{"b": "2", "a": "1"}
	if signer.SignParams(params) != signer.Sign([]byte("a=1&b=2")) {
		t.Fatal("SignParams should sign the canonical form")
	}
}
