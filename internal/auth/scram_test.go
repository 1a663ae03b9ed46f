package auth_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgproto3"
	"golang.org/x/crypto/pbkdf2"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgiris/pgiris/internal/auth"
)

// testClientNonce is a fixed nonce for test determinism; real clients generate
// one randomly per handshake.
const testClientNonce = "fyko+d2lbbFgONRv9qkxdawL"

func clientFirstMessage() string {
	return "n,,n=alice,r=" + testClientNonce
}

// computeClientProof replays the RFC 5802 client-side math against the
// server's first-message attributes so the round trip can be verified
// without a second implementation of the protocol living in production code.
func computeClientProof(password, bare, serverFirst string) (proof string, authMessage string) {
	attrs := map[string]string{}
	for _, f := range strings.Split(serverFirst, ",") {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) == 2 {
			attrs[kv[0]] = kv[1]
		}
	}
	salt, _ := base64.StdEncoding.DecodeString(attrs["s"])
	iterations, _ := strconv.Atoi(attrs["i"])

	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256Sum(clientKey)

	clientFinalWithoutProof := "c=biws,r=" + attrs["r"]
	authMessage = bare + "," + serverFirst + "," + clientFinalWithoutProof

	clientSignature := hmacSHA256(storedKey, []byte(authMessage))
	clientProof := xorBytes(clientKey, clientSignature)
	return base64.StdEncoding.EncodeToString(clientProof), authMessage
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func sha256Sum(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

var _ = Describe("SCRAMAuthenticator", func() {
	lookup := func(password string) auth.PasswordLookup {
		return func(username string) (string, bool) {
			if username != "alice" {
				return "", false
			}
			return password, true
		}
	}

	It("completes a full RFC 5802 handshake for the correct password", func() {
		a := auth.NewSCRAM(lookup("correct horse battery staple"))

		start, err := a.Start(context.Background(), "alice", "USER")
		Expect(err).NotTo(HaveOccurred())
		Expect(start.Reply).To(Equal(&pgproto3.AuthenticationSASL{AuthMechanisms: []string{auth.SCRAMMechanism}}))

		bare := "n=alice,r=" + testClientNonce
		first, err := a.Continue(context.Background(), []byte(clientFirstMessage()))
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Done).To(BeFalse())
		cont, ok := first.Reply.(*pgproto3.AuthenticationSASLContinue)
		Expect(ok).To(BeTrue())
		serverFirst := string(cont.Data)

		proof, _ := computeClientProof("correct horse battery staple", bare, serverFirst)
		attrs := map[string]string{}
		for _, f := range strings.Split(serverFirst, ",") {
			kv := strings.SplitN(f, "=", 2)
			attrs[kv[0]] = kv[1]
		}
		clientFinal := fmt.Sprintf("c=biws,r=%s,p=%s", attrs["r"], proof)

		final, err := a.Continue(context.Background(), []byte(clientFinal))
		Expect(err).NotTo(HaveOccurred())
		Expect(final.Done).To(BeTrue())
		Expect(final.Authenticated).To(BeTrue())
		Expect(final.IRISUser).To(Equal("alice"))
		Expect(final.Reply).To(BeAssignableToTypeOf(&pgproto3.AuthenticationSASLFinal{}))
	})

	It("rejects an incorrect password's proof", func() {
		a := auth.NewSCRAM(lookup("correct horse battery staple"))
		_, _ = a.Start(context.Background(), "alice", "USER")

		bare := "n=alice,r=" + testClientNonce
		first, _ := a.Continue(context.Background(), []byte(clientFirstMessage()))
		cont := first.Reply.(*pgproto3.AuthenticationSASLContinue)
		serverFirst := string(cont.Data)

		proof, _ := computeClientProof("wrong password", bare, serverFirst)
		attrs := map[string]string{}
		for _, f := range strings.Split(serverFirst, ",") {
			kv := strings.SplitN(f, "=", 2)
			attrs[kv[0]] = kv[1]
		}
		clientFinal := fmt.Sprintf("c=biws,r=%s,p=%s", attrs["r"], proof)

		_, err := a.Continue(context.Background(), []byte(clientFinal))
		Expect(err).To(HaveOccurred())
	})

	It("completes the full exchange for an unknown user, failing only at the final proof check", func() {
		a := auth.NewSCRAM(lookup("whatever"))
		_, _ = a.Start(context.Background(), "bob", "USER")

		bare := "n=bob,r=" + testClientNonce
		first, err := a.Continue(context.Background(), []byte("n,,"+bare))
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Done).To(BeFalse())
		cont, ok := first.Reply.(*pgproto3.AuthenticationSASLContinue)
		Expect(ok).To(BeTrue())
		serverFirst := string(cont.Data)

		// A client that doesn't know this is a nonexistent user behaves
		// exactly as if "bob" existed with this password: it completes the
		// client-final step normally and only learns of failure there.
		proof, _ := computeClientProof("whatever password the client has", bare, serverFirst)
		attrs := map[string]string{}
		for _, f := range strings.Split(serverFirst, ",") {
			kv := strings.SplitN(f, "=", 2)
			attrs[kv[0]] = kv[1]
		}
		clientFinal := fmt.Sprintf("c=biws,r=%s,p=%s", attrs["r"], proof)

		_, err = a.Continue(context.Background(), []byte(clientFinal))
		Expect(err).To(HaveOccurred())
	})

	It("derives the same server-first salt for repeated handshakes against the same unknown user", func() {
		a1 := auth.NewSCRAM(lookup("whatever"))
		_, _ = a1.Start(context.Background(), "bob", "USER")
		first1, _ := a1.Continue(context.Background(), []byte("n,,n=bob,r="+testClientNonce))
		cont1 := first1.Reply.(*pgproto3.AuthenticationSASLContinue)

		a2 := auth.NewSCRAM(lookup("whatever"))
		_, _ = a2.Start(context.Background(), "bob", "USER")
		first2, _ := a2.Continue(context.Background(), []byte("n,,n=bob,r="+testClientNonce))
		cont2 := first2.Reply.(*pgproto3.AuthenticationSASLContinue)

		saltOf := func(serverFirst string) string {
			for _, f := range strings.Split(serverFirst, ",") {
				if strings.HasPrefix(f, "s=") {
					return f
				}
			}
			return ""
		}
		Expect(saltOf(string(cont1.Data))).To(Equal(saltOf(string(cont2.Data))))
	})

	It("rejects a malformed client-first message missing the GS2 header", func() {
		a := auth.NewSCRAM(lookup("whatever"))
		_, _ = a.Start(context.Background(), "alice", "USER")
		_, err := a.Continue(context.Background(), []byte("n=alice,r="+testClientNonce))
		Expect(err).To(HaveOccurred())
	})

	It("rejects a client-final message whose nonce does not match", func() {
		a := auth.NewSCRAM(lookup("correct horse battery staple"))
		_, _ = a.Start(context.Background(), "alice", "USER")
		_, _ = a.Continue(context.Background(), []byte(clientFirstMessage()))

		_, err := a.Continue(context.Background(), []byte("c=biws,r=wrong-nonce,p=deadbeef"))
		Expect(err).To(HaveOccurred())
	})

	It("rejects any further message once the exchange is already complete", func() {
		a := auth.NewSCRAM(lookup("correct horse battery staple"))
		_, _ = a.Start(context.Background(), "alice", "USER")

		bare := "n=alice,r=" + testClientNonce
		first, _ := a.Continue(context.Background(), []byte(clientFirstMessage()))
		cont := first.Reply.(*pgproto3.AuthenticationSASLContinue)
		serverFirst := string(cont.Data)
		proof, _ := computeClientProof("correct horse battery staple", bare, serverFirst)
		attrs := map[string]string{}
		for _, f := range strings.Split(serverFirst, ",") {
			kv := strings.SplitN(f, "=", 2)
			attrs[kv[0]] = kv[1]
		}
		clientFinal := fmt.Sprintf("c=biws,r=%s,p=%s", attrs["r"], proof)
		_, _ = a.Continue(context.Background(), []byte(clientFinal))

		_, err := a.Continue(context.Background(), []byte("anything"))
		Expect(err).To(HaveOccurred())
	})
})
