package authority

import (
	"testing"
	"time"
)

func rfcVectorManager(algorithm string) *totpManager {
	return newTOTPManager(TOTPConfig{
		Digits:    8,
		Period:    30,
		Algorithm: algorithm,
		Skew:      0,
	}, "authority")
}

func TestTOTPVerifyRFCVectorsSHA1(t *testing.T) {
	m := rfcVectorManager("SHA1")
	secret := b32.EncodeToString([]byte("12345678901234567890"))
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}

	for _, tc := range cases {
		ok, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA1 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPVerifyRFCVectorsSHA256(t *testing.T) {
	m := rfcVectorManager("SHA256")
	secret := b32.EncodeToString([]byte("12345678901234567890123456789012"))
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "46119246"},
		{1111111109, "68084774"},
		{1111111111, "67062674"},
		{1234567890, "91819424"},
		{2000000000, "90698825"},
		{20000000000, "77737706"},
	}

	for _, tc := range cases {
		ok, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA256 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPVerifyRFCVectorsSHA512(t *testing.T) {
	m := rfcVectorManager("SHA512")
	secret := b32.EncodeToString([]byte("1234567890123456789012345678901234567890123456789012345678901234"))
	cases := []struct {
		ts   int64
		code string
	}{
		{59, "90693936"},
		{1111111109, "25091201"},
		{1111111111, "99943326"},
		{1234567890, "93441116"},
		{2000000000, "38618901"},
		{20000000000, "47863826"},
	}

	for _, tc := range cases {
		ok, err := m.VerifyCode(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("SHA512 vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
	}
}

func TestTOTPRejectsWrongSecret(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Skew: 1}, "authority")

	right, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	wrong, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}

	now := time.Unix(1700000000, 0)
	raw, _ := b32.DecodeString(right)
	code, err := m.codeAt(raw, now.Unix()/30)
	if err != nil {
		t.Fatalf("codeAt failed: %v", err)
	}

	if ok, _ := m.VerifyCode(right, code, now); !ok {
		t.Fatal("code rejected by its own secret")
	}
	if ok, _ := m.VerifyCode(wrong, code, now); ok {
		t.Fatal("code accepted by a different secret")
	}
}

func TestTOTPSkewWindow(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Skew: 1}, "authority")

	secret, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	raw, _ := b32.DecodeString(secret)

	now := time.Unix(1700000000, 0)
	prev, err := m.codeAt(raw, now.Unix()/30-1)
	if err != nil {
		t.Fatalf("codeAt failed: %v", err)
	}
	old, err := m.codeAt(raw, now.Unix()/30-2)
	if err != nil {
		t.Fatalf("codeAt failed: %v", err)
	}

	if ok, _ := m.VerifyCode(secret, prev, now); !ok {
		t.Fatal("adjacent period rejected inside skew window")
	}
	if ok, _ := m.VerifyCode(secret, old, now); ok {
		t.Fatal("period outside skew window accepted")
	}
}

func TestTOTPRejectsMalformedCodes(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Skew: 1}, "authority")

	secret, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}

	now := time.Unix(1700000000, 0)
	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		if ok, _ := m.VerifyCode(secret, code, now); ok {
			t.Fatalf("malformed code %q accepted", code)
		}
	}
}
