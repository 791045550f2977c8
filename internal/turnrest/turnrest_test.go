package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func fixedGenerator(t *testing.T, now time.Time, ttl int64) *Generator {
	t.Helper()
	g, err := NewGenerator(Config{
		SharedSecret:   "shared-secret",
		TTLSeconds:     ttl,
		UsernamePrefix: "aero-chat",
		Now:            func() time.Time { return now },
		NewSubject:     func() string { return "anon" },
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func TestGenerate_DeterministicWithFixedTime(t *testing.T) {
	g := fixedGenerator(t, time.Unix(1_700_000_000, 0), 3600)

	creds, err := g.Generate("user-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	wantUsername := "1700003600:aero-chat:user-1"
	if creds.Username != wantUsername {
		t.Fatalf("Username: got %q, want %q", creds.Username, wantUsername)
	}
	if !creds.ExpiresAt.Equal(time.Unix(1_700_003_600, 0)) {
		t.Fatalf("ExpiresAt: got %v", creds.ExpiresAt)
	}

	mac := hmac.New(sha1.New, []byte("shared-secret"))
	_, _ = mac.Write([]byte(wantUsername))
	if want := base64.StdEncoding.EncodeToString(mac.Sum(nil)); creds.Credential != want {
		t.Fatalf("Credential: got %q, want %q", creds.Credential, want)
	}
}

func TestGenerate_RejectsBadSubject(t *testing.T) {
	g := fixedGenerator(t, time.Unix(0, 0), 10)
	for _, subject := range []string{"", "a:b"} {
		if _, err := g.Generate(subject); !errors.Is(err, ErrInvalidSubject) {
			t.Fatalf("Generate(%q) err=%v, want ErrInvalidSubject", subject, err)
		}
	}
}

func TestGenerateAnonymous(t *testing.T) {
	g := fixedGenerator(t, time.Unix(42, 0), 10)
	creds, err := g.GenerateAnonymous()
	if err != nil {
		t.Fatalf("GenerateAnonymous: %v", err)
	}
	if creds.Username != "52:aero-chat:anon" {
		t.Fatalf("Username=%q", creds.Username)
	}

	random, err := NewGenerator(Config{SharedSecret: "s", TTLSeconds: 1, UsernamePrefix: "p"})
	if err != nil {
		t.Fatal(err)
	}
	a, _ := random.GenerateAnonymous()
	b, _ := random.GenerateAnonymous()
	if a.Username == b.Username {
		t.Fatal("expected distinct random subjects")
	}
}

func TestNewGenerator_Validates(t *testing.T) {
	cases := []Config{
		{TTLSeconds: 1, UsernamePrefix: "p"},
		{SharedSecret: "s", UsernamePrefix: "p"},
		{SharedSecret: "s", TTLSeconds: 1},
		{SharedSecret: "s", TTLSeconds: 1, UsernamePrefix: "a:b"},
	}
	for i, cfg := range cases {
		if _, err := NewGenerator(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestApply_OnlyTURNEntries(t *testing.T) {
	servers := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com"}},
		{URLs: []string{"TURN:turn.example.com:3478"}},
	}
	creds := Credentials{Username: "u", Credential: "c"}

	out := creds.Apply(servers)
	if len(out) != 2 {
		t.Fatalf("len=%d", len(out))
	}
	if out[0].Username != "" || out[0].Credential != nil {
		t.Fatalf("stun entry modified: %#v", out[0])
	}
	if out[1].Username != "u" || out[1].Credential != "c" {
		t.Fatalf("turn entry=%#v", out[1])
	}
	if servers[1].Username != "" {
		t.Fatal("input slice was mutated")
	}
	if got := creds.Apply(nil); got == nil || len(got) != 0 {
		t.Fatalf("Apply(nil)=%#v, want empty non-nil", got)
	}
	if !strings.HasPrefix(out[1].URLs[0], "TURN:") {
		t.Fatal("urls rewritten")
	}
}
