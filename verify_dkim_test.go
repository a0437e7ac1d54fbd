package mailauth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/titussanchez/mail-auth/dkim"
	"github.com/titussanchez/mail-auth/domainkey"
)

const testMessage = "From: Alice <alice@example.org>\r\n" +
	"To: bob@example.net\r\n" +
	"Subject: a  test   message\r\n" +
	"Date: Mon, 01 Feb 2024 10:00:00 +0000\r\n" +
	"\r\n" +
	"Hello World\r\n"

func signTestMessage(t *testing.T, signer *dkim.Signer) string {
	t.Helper()
	hdr, err := signer.Sign([]byte(testMessage))
	if err != nil {
		t.Fatal(err)
	}
	return hdr + testMessage
}

func TestVerifyDKIMEndToEnd(t *testing.T) {
	key := testRSAKey(t)
	txt := newMockTxt()
	txt.add("selector._domainkey.example.org.", rsaKeyRecordTXT(t, key))
	r := New(WithTransport(txt))

	signed := signTestMessage(t, &dkim.Signer{Domain: "example.org", Selector: "selector", Key: key})
	outputs, err := r.VerifyDKIM(context.Background(), []byte(signed))
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 1 {
		t.Fatalf("outputs = %d, want 1", len(outputs))
	}
	out := outputs[0]
	if !out.Pass() {
		t.Fatalf("status = %s (%v)", out.Status, out.Err)
	}
	if out.Signature.Domain != "example.org" {
		t.Errorf("signature domain = %s", out.Signature.Domain)
	}
	if !strings.HasPrefix(out.ResultString(), "dkim=pass") {
		t.Errorf("ResultString() = %q", out.ResultString())
	}
}

func TestVerifyDKIMMultipleSignatures(t *testing.T) {
	key := testRSAKey(t)
	txt := newMockTxt()
	txt.add("selector._domainkey.example.org.", rsaKeyRecordTXT(t, key))
	txt.add("other._domainkey.example.net.", "v=DKIM1; p=")
	r := New(WithTransport(txt))

	// One good signature, one against a revoked key, one unparseable.
	signed := signTestMessage(t, &dkim.Signer{Domain: "example.org", Selector: "selector", Key: key})
	extra := "DKIM-Signature: v=1; a=rsa-sha256; d=example.net; s=other; bh=AAAA; h=from; b=BBBB\r\n" +
		"DKIM-Signature: not a tag list\r\n"
	outputs, err := r.VerifyDKIM(context.Background(), []byte(extra+signed))
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 3 {
		t.Fatalf("outputs = %d, want 3", len(outputs))
	}
	if outputs[0].Status != dkim.VerifyStatusPermErr {
		t.Errorf("revoked key status = %s", outputs[0].Status)
	}
	if !errors.Is(outputs[0].Err, domainkey.ErrKeyRevoked) {
		t.Errorf("revoked key error = %v", outputs[0].Err)
	}
	if outputs[1].Status != dkim.VerifyStatusPermErr || outputs[1].Signature != nil {
		t.Errorf("parse failure output = %s, sig %v", outputs[1].Status, outputs[1].Signature)
	}
	// The broken signatures never prevent the good one from passing.
	if !outputs[2].Pass() {
		t.Errorf("good signature status = %s (%v)", outputs[2].Status, outputs[2].Err)
	}
}

func TestVerifyDKIMNoSignature(t *testing.T) {
	r := New(WithTransport(newMockTxt()))
	outputs, err := r.VerifyDKIM(context.Background(), []byte(testMessage))
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 0 {
		t.Errorf("outputs = %d, want 0", len(outputs))
	}
}

func TestVerifyDKIMKeyLookupFailures(t *testing.T) {
	key := testRSAKey(t)
	signed := signTestMessage(t, &dkim.Signer{Domain: "example.org", Selector: "selector", Key: key})

	t.Run("missing key is permerror", func(t *testing.T) {
		r := New(WithTransport(newMockTxt()))
		outputs, err := r.VerifyDKIM(context.Background(), []byte(signed))
		if err != nil {
			t.Fatal(err)
		}
		if outputs[0].Status != dkim.VerifyStatusPermErr {
			t.Errorf("status = %s", outputs[0].Status)
		}
	})

	t.Run("transport failure is temperror", func(t *testing.T) {
		txt := newMockTxt()
		txt.fail("selector._domainkey.example.org.", &net.DNSError{Name: "selector._domainkey.example.org.", IsTimeout: true})
		r := New(WithTransport(txt))
		outputs, err := r.VerifyDKIM(context.Background(), []byte(signed))
		if err != nil {
			t.Fatal(err)
		}
		if outputs[0].Status != dkim.VerifyStatusTempErr {
			t.Errorf("status = %s", outputs[0].Status)
		}
	})

	t.Run("unparseable record is permerror", func(t *testing.T) {
		txt := newMockTxt()
		txt.add("selector._domainkey.example.org.", "v=DKIM9; p=AAAA")
		r := New(WithTransport(txt))
		outputs, err := r.VerifyDKIM(context.Background(), []byte(signed))
		if err != nil {
			t.Fatal(err)
		}
		if outputs[0].Status != dkim.VerifyStatusPermErr {
			t.Errorf("status = %s", outputs[0].Status)
		}
		if !errors.Is(outputs[0].Err, ErrInvalidRecordType) {
			t.Errorf("error = %v", outputs[0].Err)
		}
	})
}

func TestVerifyDKIMBodyLengthMismatch(t *testing.T) {
	key := testRSAKey(t)
	txt := newMockTxt()
	txt.add("selector._domainkey.example.org.", rsaKeyRecordTXT(t, key))
	r := New(WithTransport(txt))

	signed := signTestMessage(t, &dkim.Signer{Domain: "example.org", Selector: "selector", Key: key, BodyLimit: 5})

	// The intact message verifies against the truncated prefix.
	outputs, err := r.VerifyDKIM(context.Background(), []byte(signed))
	if err != nil {
		t.Fatal(err)
	}
	if !outputs[0].Pass() {
		t.Fatalf("status = %s (%v)", outputs[0].Status, outputs[0].Err)
	}

	// A body shorter than l= cannot satisfy the hash.
	truncated := strings.Replace(signed, "Hello World\r\n", "Hi\r\n", 1)
	outputs, err = r.VerifyDKIM(context.Background(), []byte(truncated))
	if err != nil {
		t.Fatal(err)
	}
	if outputs[0].Status != dkim.VerifyStatusFail {
		t.Errorf("status = %s", outputs[0].Status)
	}
	if !errors.Is(outputs[0].Err, dkim.ErrBodyLengthMismatch) {
		t.Errorf("error = %v, want ErrBodyLengthMismatch", outputs[0].Err)
	}
}

func TestVerifyDKIMAtps(t *testing.T) {
	key := testRSAKey(t)
	msg := "From: Alice <alice@example.org>\r\n" +
		"Subject: third party\r\n" +
		"\r\n" +
		"Hello World\r\n"

	signer := &dkim.Signer{
		Domain:     "news.example.net",
		Selector:   "selector",
		Key:        key,
		AtpsDomain: "example.org",
	}
	hdr, err := signer.Sign([]byte(msg))
	if err != nil {
		t.Fatal(err)
	}
	signed := hdr + msg

	// base32(sha1("news.example.net")), the label registered by the
	// From domain for its third-party signer.
	const label = "GWNVTCWYHYLBONL5XDJBDJAGSGDOT3KA"

	t.Run("registered", func(t *testing.T) {
		txt := newMockTxt()
		txt.add("selector._domainkey.news.example.net.", rsaKeyRecordTXT(t, key))
		txt.add(label+"._atps.example.org.", "v=ATPS1; d=news.example.net")
		r := New(WithTransport(txt))

		outputs, err := r.VerifyDKIM(context.Background(), []byte(signed))
		if err != nil {
			t.Fatal(err)
		}
		if !outputs[0].Pass() {
			t.Fatalf("status = %s (%v)", outputs[0].Status, outputs[0].Err)
		}
		if !outputs[0].IsAtps {
			t.Error("IsAtps = false for a registered third-party signer")
		}
	})

	t.Run("not registered", func(t *testing.T) {
		txt := newMockTxt()
		txt.add("selector._domainkey.news.example.net.", rsaKeyRecordTXT(t, key))
		r := New(WithTransport(txt))

		outputs, err := r.VerifyDKIM(context.Background(), []byte(signed))
		if err != nil {
			t.Fatal(err)
		}
		if !outputs[0].Pass() {
			t.Fatalf("status = %s (%v)", outputs[0].Status, outputs[0].Err)
		}
		if outputs[0].IsAtps {
			t.Error("IsAtps = true without a registration")
		}
	})
}

func TestVerifyDKIMUsesCache(t *testing.T) {
	key := testRSAKey(t)
	txt := newMockTxt()
	txt.add("selector._domainkey.example.org.", rsaKeyRecordTXT(t, key))
	r := New(WithTransport(txt))

	signed := signTestMessage(t, &dkim.Signer{Domain: "example.org", Selector: "selector", Key: key})
	for i := 0; i < 3; i++ {
		outputs, err := r.VerifyDKIM(context.Background(), []byte(signed))
		if err != nil {
			t.Fatal(err)
		}
		if !outputs[0].Pass() {
			t.Fatalf("run %d status = %s", i, outputs[0].Status)
		}
	}
	if n := txt.queryCount(); n != 1 {
		t.Errorf("transport queried %d times, want 1", n)
	}
}

func TestVerifyDKIMConcurrent(t *testing.T) {
	key := testRSAKey(t)
	txt := newMockTxt()
	txt.add("selector._domainkey.example.org.", rsaKeyRecordTXT(t, key))
	r := New(WithTransport(txt))
	signed := signTestMessage(t, &dkim.Signer{Domain: "example.org", Selector: "selector", Key: key})

	errCh := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			outputs, err := r.VerifyDKIM(context.Background(), []byte(signed))
			if err == nil && !outputs[0].Pass() {
				err = fmt.Errorf("status = %s", outputs[0].Status)
			}
			errCh <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-errCh; err != nil {
			t.Error(err)
		}
	}
}
