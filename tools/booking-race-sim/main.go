// booking-race-sim fires N concurrent booking requests at the same
// (staff, start_time) against a running API and reports how they resolved.
// A healthy deployment answers exactly one 201 and N-1 409s.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

func main() {
	var (
		baseURL   = flag.String("base-url", getenv("BASE_URL", "http://localhost:8080"), "booking api base url")
		salonID   = flag.String("salon-id", getenv("SALON_ID", ""), "salon id")
		serviceID = flag.String("service-id", getenv("SERVICE_ID", ""), "service id")
		staffID   = flag.String("staff-id", getenv("STAFF_ID", ""), "staff id")
		startTime = flag.String("start-time", getenv("START_TIME", ""), "slot start time (RFC3339)")
		attempts  = flag.Int("attempts", 100, "number of concurrent attempts")
	)
	flag.Parse()

	if strings.TrimSpace(*salonID) == "" || strings.TrimSpace(*serviceID) == "" {
		fatal("SALON_ID and SERVICE_ID are required")
	}
	if strings.TrimSpace(*staffID) == "" {
		fatal("STAFF_ID is required: auto-assignment would spread attempts across staff")
	}
	if _, err := time.Parse(time.RFC3339, *startTime); err != nil {
		fatal("START_TIME must be RFC3339: " + err.Error())
	}

	url := strings.TrimRight(*baseURL, "/") + "/api/v1/public/book"
	client := &http.Client{Timeout: 30 * time.Second}

	codes := make(chan int, *attempts)
	var wg sync.WaitGroup
	for i := 0; i < *attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{
				"salon_id": %q,
				"service_id": %q,
				"staff_id": %q,
				"client_name": "race-sim-%d",
				"client_email": "race-sim-%d@example.com",
				"start_time": %q,
				"source": "race-sim"
			}`, *salonID, *serviceID, *staffID, i, i, *startTime)

			resp, err := client.Post(url, "application/json", strings.NewReader(body))
			if err != nil {
				fmt.Fprintf(os.Stderr, "attempt %d: %v\n", i, err)
				codes <- -1
				return
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			codes <- resp.StatusCode
		}(i)
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for code := range codes {
		counts[code]++
	}
	for code, n := range counts {
		fmt.Printf("status=%d count=%d\n", code, n)
	}

	if counts[http.StatusCreated] != 1 || counts[http.StatusConflict] != *attempts-1 {
		fmt.Fprintf(os.Stderr, "FAIL: want 1x201 and %dx409\n", *attempts-1)
		os.Exit(1)
	}
	fmt.Println("OK: exactly one booking won the slot")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
