package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type lookupCall struct {
	producer, key string
}

func TestIdempotencyValidator_NoHeader_NoLookup(t *testing.T) {
	gin.SetMode(gin.TestMode)
	called := false
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, func(context.Context, string, string, time.Time) (bool, error) {
		called = true
		return false, nil
	}))
	r.POST("/alerts", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Fatalf("no key expected")
		}
		c.Status(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/alerts", nil))
	if w.Code != http.StatusAccepted || called {
		t.Fatalf("code=%d called=%v", w.Code, called)
	}
}

func TestIdempotencyValidator_InvalidKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{MaxLen: 8, Pattern: regexp.MustCompile(`^[a-z]+$`)}, nil))
	r.POST("/alerts", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	for _, key := range []string{"toolongvalue", "UPPER", "has space"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/alerts", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("key %q: %d %s", key, w.Code, w.Body.String())
		}
	}
}

func TestIdempotencyValidator_LookupByProducer(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var calls []lookupCall
	lookup := func(_ context.Context, producer, key string, now time.Time) (bool, error) {
		calls = append(calls, lookupCall{producer, key})
		if now.IsZero() {
			t.Fatalf("now must be set")
		}
		switch key {
		case "seen":
			return true, nil
		case "broken":
			return false, errors.New("db down")
		}
		return false, nil
	}

	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.POST("/alerts", func(c *gin.Context) {
		k, _ := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, gin.H{
			"key":    k,
			"replay": IsReplay(c),
			"bypass": IsRateBypass(c),
		})
	})

	send := func(key, producer string) string {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/alerts", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		if producer != "" {
			req.Header.Set(HeaderProducer, producer)
		}
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("key %q: status %d", key, w.Code)
		}
		return w.Body.String()
	}

	if body := send("fresh", ""); !strings.Contains(body, `"replay":false`) || !strings.Contains(body, `"key":"fresh"`) {
		t.Fatalf("fresh: %s", body)
	}
	if body := send("seen", "meter-svc"); !strings.Contains(body, `"replay":true`) || !strings.Contains(body, `"bypass":true`) {
		t.Fatalf("seen: %s", body)
	}
	if body := send("broken", ""); !strings.Contains(body, `"replay":false`) {
		t.Fatalf("lookup errors are a miss: %s", body)
	}

	if len(calls) != 3 || calls[0].producer != DefaultProducer || calls[1].producer != "meter-svc" {
		t.Fatalf("calls=%+v", calls)
	}
}
