// Minimal end-to-end integration test for a running mememo agent.
//
// Mint the tokens with `mememo token admin` and `mememo token auth3p`.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	baseURL     = getenv("API_URL", "http://127.0.0.1:8420/v1")
	redisURL    = getenv("REDIS_URL", "")
	stream      = getenv("AUTH3P_STREAM", "mememo.auth3p.challenges")
	adminToken  = os.Getenv("ADMIN_TOKEN")
	auth3pToken = os.Getenv("AUTH3P_TOKEN")
	command     = getenv("COMMAND", "balance?")
	grant       = getenv("GRANT", "bank-balance:bank_account")
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	if adminToken == "" || auth3pToken == "" {
		log.Fatal("ADMIN_TOKEN and AUTH3P_TOKEN are required")
	}
	principal := "script-" + uuid.NewString()

	runCommand(principal, http.StatusForbidden)
	id := beginChallenge(principal)
	if redisURL != "" {
		confirmPublished(context.Background(), id)
	}
	respond(id)
	runCommand(principal, http.StatusOK)
	revoke(principal)
	runCommand(principal, http.StatusForbidden)

	fmt.Println("✓ all endpoints passed")
}

// ----------------------------- auth3p

func beginChallenge(principal string) string {
	var resp struct {
		Challenge struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"challenge"`
	}
	doJSON(adminToken, "POST", "/admin/challenges", map[string]any{
		"principal": principal,
		"grant":     grant,
		"alias":     "integration script",
	}, &resp, http.StatusAccepted)
	if resp.Challenge.ID == "" || resp.Challenge.State != "PENDING" {
		log.Fatalf("challenge: unexpected %+v", resp.Challenge)
	}
	log.Printf("challenge %s opened", resp.Challenge.ID)
	return resp.Challenge.ID
}

// confirmPublished checks the redis notifier delivered the challenge.
func confirmPublished(ctx context.Context, id string) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("redis url: %v", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := rdb.XRevRangeN(ctx, stream, "+", "-", 50).Result()
		if err != nil {
			log.Fatalf("xrevrange: %v", err)
		}
		for _, m := range msgs {
			if m.Values["challenge_id"] == id {
				log.Printf("challenge %s published as %s", id, m.ID)
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	log.Fatalf("challenge %s never reached stream %s", id, stream)
}

func respond(id string) {
	var resp struct{ Result string }
	doJSON(auth3pToken, "POST", "/auth3p/respond", map[string]any{
		"challenge_id": id,
		"outcome":      "approved",
	}, &resp, http.StatusOK)
	if resp.Result != "grant_issued" {
		log.Fatalf("respond: result %q", resp.Result)
	}
	// A second answer must be rejected.
	doJSON(auth3pToken, "POST", "/auth3p/respond", map[string]any{
		"challenge_id": id,
		"outcome":      "approved",
	}, nil, http.StatusConflict)
}

// ----------------------------- commands & grants

func runCommand(principal string, want int) {
	var resp struct {
		Message string `json:"message"`
	}
	doJSON(adminToken, "POST", "/commands", map[string]any{
		"principal": principal,
		"text":      command,
	}, &resp, want)
	log.Printf("%s -> %d %s", command, want, resp.Message)
}

func revoke(principal string) {
	doJSON(adminToken, "DELETE", "/admin/grants/"+principal+"/"+grant, nil, nil, http.StatusOK)
}

// ----------------------------- helper

func doJSON(token, method, path string, body any, out any, want int) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatalf("%s %s: encode: %v", method, path, err)
		}
	}
	req, _ := http.NewRequest(method, baseURL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if res.StatusCode != want {
		log.Fatalf("%s %s: status %d, want %d", method, path, res.StatusCode, want)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}
