// Command smoke-market drives a full task lifecycle against a running API
// instance and fails loudly when any invariant breaks. Useful after deploys.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	base := os.Getenv("TUTORLY_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	client := &http.Client{Timeout: 10 * time.Second}
	sm := &smoke{base: base, client: client}

	suffix := time.Now().UnixNano()
	studentToken := sm.register(fmt.Sprintf("smoke-student-%d@tutorly.local", suffix), "student")
	tutorToken := sm.register(fmt.Sprintf("smoke-tutor-%d@tutorly.local", suffix), "tutor")

	task := sm.postJSON("/v1/tasks", studentToken, map[string]any{
		"title":       "Smoke test task",
		"description": "Created by smoke-market",
		"budget":      10_000,
	}, http.StatusCreated)
	taskID := task["id"].(string)
	log.Printf("created task %s", taskID)

	bidLow := sm.postJSON("/v1/tasks/"+taskID+"/bids", tutorToken, map[string]any{
		"amount":  7_500,
		"message": "First offer",
	}, http.StatusCreated)
	sm.postJSON("/v1/tasks/"+taskID+"/bids", tutorToken, map[string]any{
		"amount": 9_000,
	}, http.StatusCreated)
	log.Printf("submitted 2 bids")

	payment := sm.postJSON("/v1/tasks/"+taskID+"/accept", studentToken, map[string]any{
		"bid_id": bidLow["id"].(string),
	}, http.StatusCreated)
	paymentID := payment["id"].(string)
	if payment["amount"].(float64) != 7_500 {
		log.Fatalf("payment amount mismatch: %v", payment["amount"])
	}
	if payment["paid"].(bool) {
		log.Fatalf("payment settled before pay call")
	}
	log.Printf("accepted bid, pending payment %s", paymentID)

	sm.postJSON("/v1/tasks/"+taskID+"/accept", studentToken, map[string]any{
		"bid_id": bidLow["id"].(string),
	}, http.StatusConflict)
	log.Printf("second accept correctly rejected")

	settled := sm.postJSON("/v1/payments/"+paymentID+"/pay", studentToken, nil, http.StatusOK)
	if !settled["paid"].(bool) {
		log.Fatalf("payment not settled after pay")
	}
	sm.postJSON("/v1/payments/"+paymentID+"/pay", studentToken, nil, http.StatusConflict)
	log.Printf("payment settled exactly once")

	log.Printf("smoke-market OK")
}

type smoke struct {
	base   string
	client *http.Client
}

func (s *smoke) register(email, role string) string {
	body := s.postJSON("/v1/auth/register", "", map[string]any{
		"email":    email,
		"password": "smoke-pass-123",
		"name":     email,
		"role":     role,
	}, http.StatusCreated)
	token, _ := body["token"].(string)
	if token == "" {
		log.Fatalf("no token for %s", email)
	}
	return token
}

func (s *smoke) postJSON(path, token string, body any, wantStatus int) map[string]any {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			log.Fatalf("marshal %s body: %v", path, err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, s.base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("new request %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		log.Fatalf("post %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		log.Fatalf("post %s: status %d, want %d", path, resp.StatusCode, wantStatus)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("decode %s response: %v", path, err)
	}
	return out
}
