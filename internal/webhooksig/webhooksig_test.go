package webhooksig

import "testing"

func TestVerifyHexSHA256(t *testing.T) {
	secret := []byte("shhh")
	body := []byte(`{"stock":5}`)

	sig, err := signHexSHA256(secret, body)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if err := VerifyHexSHA256(secret, body, sig); err != nil {
		t.Errorf("expected valid signature to verify, got %v", err)
	}

	if err := VerifyHexSHA256(secret, body, "deadbeef"); err == nil {
		t.Error("expected invalid signature to fail verification")
	}
}

func TestVerifyBase64SHA1(t *testing.T) {
	secret := []byte("shhh")
	body := []byte(`{"stock":5}`)

	sig, err := signBase64SHA1(secret, body)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	if err := VerifyBase64SHA1(secret, body, sig); err != nil {
		t.Errorf("expected valid signature to verify, got %v", err)
	}

	if err := VerifyBase64SHA1(secret, body, "bm90YXJlYWxzaWc="); err == nil {
		t.Error("expected invalid signature to fail verification")
	}
}
