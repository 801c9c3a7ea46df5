package infra

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/auth"

	"poolride/internal/types"
)

type stubUsers struct {
	claims map[string]map[string]interface{}
	err    error
}

func (s stubUsers) GetUser(_ context.Context, uid string) (*auth.UserRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &auth.UserRecord{UserInfo: &auth.UserInfo{UID: uid}, CustomClaims: s.claims[uid]}, nil
}

func TestClaimsRoleLookup_IsAdmin(t *testing.T) {
	l := &ClaimsRoleLookup{users: stubUsers{claims: map[string]map[string]interface{}{
		"admin-1":  {"role": "admin"},
		"driver-1": {"role": "driver"},
	}}}
	cases := map[string]bool{"admin-1": true, "driver-1": false, "student-1": false}
	for uid, want := range cases {
		got, err := l.IsAdmin(context.Background(), types.ID(uid))
		if err != nil {
			t.Fatalf("IsAdmin(%s): %v", uid, err)
		}
		if got != want {
			t.Errorf("IsAdmin(%s) = %v, want %v", uid, got, want)
		}
	}
}

func TestClaimsRoleLookup_PropagatesErrors(t *testing.T) {
	l := &ClaimsRoleLookup{users: stubUsers{err: errors.New("backend unavailable")}}
	if _, err := l.IsAdmin(context.Background(), "admin-1"); err == nil {
		t.Fatal("expected error")
	}
}
