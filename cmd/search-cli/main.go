// Command search-cli queries a running API server from the terminal and
// prints the matching moments with their timestamps.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/VisionVault/visionvault-mvp/engine/domain"
)

type searchRequest struct {
	VideoID string `json:"video_id"`
	Query   string `json:"query"`
	TopK    int    `json:"top_k,omitempty"`
}

type searchResponse struct {
	Hits  []domain.SearchHit `json:"hits"`
	Error string             `json:"error,omitempty"`
}

func main() {
	var (
		apiURL  = flag.String("api", envOr("VISIONVAULT_API", "http://localhost:8080"), "API base URL")
		videoID = flag.String("video", "", "video to search")
		topK    = flag.Int("top-k", 0, "max hits (0 uses the server default)")
	)
	flag.Parse()

	if *videoID == "" || flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: search-cli -video <id> <query...>")
		os.Exit(1)
	}
	query := strings.Join(flag.Args(), " ")

	body, _ := json.Marshal(searchRequest{VideoID: *videoID, Query: query, TopK: *topK})
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(*apiURL+"/api/search", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		fmt.Fprintf(os.Stderr, "error: decode response: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "error: %s (status %d)\n", sr.Error, resp.StatusCode)
		os.Exit(1)
	}

	if len(sr.Hits) == 0 {
		fmt.Println("no moments found")
		return
	}
	for i, h := range sr.Hits {
		fmt.Printf("%d. [%s - %s]  score %.3f\n", i+1, clock(h.Start), clock(h.End), h.Score)
		fmt.Printf("   %s\n", h.Transcript)
		if h.Caption != "" {
			fmt.Printf("   (%s)\n", h.Caption)
		}
	}
}

// clock formats seconds as m:ss or h:mm:ss.
func clock(seconds float64) string {
	s := int(seconds)
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, (s%3600)/60, s%60)
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
