//go:build integration

package integration

import (
	"net/http"
	"testing"
)

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func TestLivez(t *testing.T) {
	resp := doRequest(t, http.MethodGet, "/livez", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body healthResponse
	decodeInto(t, resp, &body)
	if body.Status != "ok" {
		t.Fatalf("expected status ok, got %q", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	resp := doRequest(t, http.MethodGet, "/readyz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body healthResponse
	decodeInto(t, resp, &body)
	if body.Checks["postgres"] != "ok" {
		t.Fatalf("expected postgres check ok, got %q", body.Checks["postgres"])
	}
}
