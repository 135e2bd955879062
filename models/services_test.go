package models

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(time.Hour, 2, time.Hour, 24*time.Hour)
	defer rl.Stop()

	if !rl.Allow("1.2.3.4") || !rl.Allow("1.2.3.4") {
		t.Fatal("Expected burst of 2 to be allowed")
	}
	if rl.Allow("1.2.3.4") {
		t.Error("Expected third request to be limited")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("Expected a different key to have its own bucket")
	}
}

func TestChallengeStore(t *testing.T) {
	cs := NewChallengeStore(time.Minute)

	token, question := cs.GenerateChallenge()
	parts := strings.Fields(question)
	a, _ := strconv.Atoi(parts[2])
	b, _ := strconv.Atoi(strings.TrimSuffix(parts[4], "?"))

	if cs.Verify(token, strconv.Itoa(a+b+1)) {
		t.Error("Expected wrong answer to fail")
	}
	if cs.Verify(token, strconv.Itoa(a+b)) {
		t.Error("Expected token to be consumed by the first attempt")
	}

	token, question = cs.GenerateChallenge()
	parts = strings.Fields(question)
	a, _ = strconv.Atoi(parts[2])
	b, _ = strconv.Atoi(strings.TrimSuffix(parts[4], "?"))
	if !cs.Verify(token, strconv.Itoa(a+b)) {
		t.Error("Expected correct answer to pass")
	}
}
