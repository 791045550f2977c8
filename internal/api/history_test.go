package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store"
	"github.com/wilsonzlin/aero/proxy/chat-relay/internal/store/memory"
)

const testSecret = "history-secret"

func signToken(t *testing.T, id, username string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user": map[string]any{"id": id, "username": username},
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func newHandler(calls CallHistoryLister) *HistoryHandler {
	return NewHistoryHandler(HistoryConfig{
		Verifier: auth.NewJWTVerifier(testSecret),
		Calls:    calls,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func serve(h http.Handler, method string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, HistoryPath, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHistory_ReturnsCallerAndCalleeCallsNewestFirst(t *testing.T) {
	st := memory.New()
	st.AddAccount("a-id", "alice")
	st.AddAccount("b-id", "bob")
	st.AddAccount("c-id", "carol")

	ctx := context.Background()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	older, err := st.CreateCall(ctx, store.CallRecord{CallerAccountID: "a-id", CalleeAccountID: "b-id", StartTime: base})
	if err != nil {
		t.Fatal(err)
	}
	newer, err := st.CreateCall(ctx, store.CallRecord{CallerAccountID: "b-id", CalleeAccountID: "a-id", StartTime: base.Add(time.Minute)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateCall(ctx, store.CallRecord{CallerAccountID: "b-id", CalleeAccountID: "c-id", StartTime: base}); err != nil {
		t.Fatal(err)
	}

	rec := serve(newHandler(st), http.MethodGet, map[string]string{"x-auth-token": signToken(t, "a-id", "alice")})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	var got []store.CallHistoryEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(got), got)
	}
	if got[0].ID != newer || got[1].ID != older {
		t.Fatalf("order=[%s %s], want [%s %s]", got[0].ID, got[1].ID, newer, older)
	}
	if got[0].Caller.Username != "bob" || got[0].Callee.Username != "alice" {
		t.Fatalf("parties=%+v/%+v", got[0].Caller, got[0].Callee)
	}
	if got[0].Status != store.CallInitiated {
		t.Fatalf("status=%q", got[0].Status)
	}
}

func TestHistory_BearerToken(t *testing.T) {
	st := memory.New()
	rec := serve(newHandler(st), http.MethodGet, map[string]string{"Authorization": "Bearer " + signToken(t, "a-id", "alice")})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Fatalf("body=%q, want empty array", body)
	}
}

func TestHistory_Unauthorized(t *testing.T) {
	st := memory.New()
	cases := []struct {
		name   string
		header map[string]string
		msg    string
	}{
		{name: "missing", msg: "No token, authorization denied"},
		{name: "garbage", header: map[string]string{"x-auth-token": "not-a-jwt"}, msg: "Invalid token"},
		{name: "wrong secret", header: map[string]string{"x-auth-token": func() string {
			tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"user": map[string]any{"id": "a-id"},
			}).SignedString([]byte("other"))
			return tok
		}()}, msg: "Invalid token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(newHandler(st), http.MethodGet, tc.header)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status=%d, want 401", rec.Code)
			}
			var body errorBody
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Msg != tc.msg {
				t.Fatalf("msg=%q, want %q", body.Msg, tc.msg)
			}
		})
	}
}

type failingCalls struct{}

func (failingCalls) ListCallHistory(context.Context, string) ([]store.CallHistoryEntry, error) {
	return nil, errors.New("db down")
}

func TestHistory_StoreFailure(t *testing.T) {
	rec := serve(newHandler(failingCalls{}), http.MethodGet, map[string]string{"x-auth-token": signToken(t, "a-id", "alice")})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want 500", rec.Code)
	}
}

func TestHistory_MethodNotAllowed(t *testing.T) {
	rec := serve(newHandler(memory.New()), http.MethodPost, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want 405", rec.Code)
	}
}
