// Command benchmark drives concurrent load against the AIVM metadata endpoints
// of a running aivm-server and reports latency percentiles.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

// Request modes.
const (
	modeEncode  = "encode"
	modeDecode  = "decode"
	modeInspect = "inspect"
)

var modePaths = map[string]string{
	modeEncode:  "/v1/aivm",
	modeDecode:  "/v1/metadata/decode",
	modeInspect: "/v1/metadata/inspect",
}

type request struct {
	path        string
	contentType string
	body        []byte
}

// buildRequest prepares the body sent on every iteration. Encode uploads the
// model with a metadata document; decode and inspect send the file as is.
func buildRequest(mode string, model, metadata []byte) (request, error) {
	path, ok := modePaths[mode]
	if !ok {
		return request{}, fmt.Errorf("unknown mode %q (want encode, decode or inspect)", mode)
	}
	if mode != modeEncode {
		return request{path: path, contentType: "application/octet-stream", body: model}, nil
	}
	if metadata == nil {
		return request{}, fmt.Errorf("encode mode requires --metadata")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	parts := []struct {
		field, filename string
		data            []byte
	}{
		{"model", "model.safetensors", model},
		{"metadata", "metadata.json", metadata},
	}
	for _, p := range parts {
		fw, err := mw.CreateFormFile(p.field, p.filename)
		if err != nil {
			return request{}, err
		}
		if _, err := fw.Write(p.data); err != nil {
			return request{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return request{}, err
	}
	return request{path: path, contentType: mw.FormDataContentType(), body: buf.Bytes()}, nil
}

type benchmarkClient struct {
	baseURL string
	apiKey  string
	req     request
	client  *http.Client
}

type runResult struct {
	duration   time.Duration
	success    bool
	statusCode int
	bytes      int64
	err        error
}

func newBenchmarkClient(baseURL, apiKey string, req request) *benchmarkClient {
	return &benchmarkClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		req:     req,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *benchmarkClient) Do(ctx context.Context) runResult {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.req.path, bytes.NewReader(c.req.body))
	if err != nil {
		return runResult{err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", c.req.contentType)
	req.Header.Set("User-Agent", "aivm-benchmark/0.1")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return runResult{duration: time.Since(start), err: err}
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err == nil && resp.StatusCode >= 300 {
		err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return runResult{
		duration:   time.Since(start),
		success:    err == nil,
		statusCode: resp.StatusCode,
		bytes:      n,
		err:        err,
	}
}

type summary struct {
	durations []time.Duration
	statuses  map[int]int
	total     int
	success   int
	bytes     int64
}

func (s *summary) add(result runResult) {
	if s.statuses == nil {
		s.statuses = make(map[int]int)
	}
	s.total++
	if result.statusCode != 0 {
		s.statuses[result.statusCode]++
	}
	if result.success {
		s.success++
		s.bytes += result.bytes
		s.durations = append(s.durations, result.duration)
	}
}

func (s *summary) write(w io.Writer, elapsed time.Duration) {
	fmt.Fprintf(w, "Total requests: %d\n", s.total)
	fmt.Fprintf(w, "Success: %d, Failed: %d\n", s.success, s.total-s.success)
	codes := make([]int, 0, len(s.statuses))
	for code := range s.statuses {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  HTTP %d: %d\n", code, s.statuses[code])
	}
	if len(s.durations) == 0 {
		return
	}
	fmt.Fprintf(w, "Received: %s\n", humanize.IBytes(uint64(s.bytes)))
	if elapsed > 0 {
		fmt.Fprintf(w, "Throughput: %.1f req/s\n", float64(s.success)/elapsed.Seconds())
	}
	fmt.Fprintf(w, "Average duration: %s\n", average(s.durations))
	for _, p := range []float64{0.50, 0.75, 0.90, 0.95, 0.99} {
		fmt.Fprintf(w, "P%d: %s\n", int(p*100), percentile(s.durations, p))
	}
}

func percentile(values []time.Duration, p float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	slices.Sort(values)
	rank := p * float64(len(values)-1)
	lower := int(rank)
	upper := lower + 1
	if upper >= len(values) {
		return values[lower]
	}
	weight := rank - float64(lower)
	return time.Duration(float64(values[lower])*(1-weight) + float64(values[upper])*weight)
}

func average(values []time.Duration) time.Duration {
	if len(values) == 0 {
		return 0
	}
	var total time.Duration
	for _, v := range values {
		total += v
	}
	return total / time.Duration(len(values))
}

// run sends count requests (or loops until ctx is done) over concurrency
// workers and returns the aggregated results.
func run(ctx context.Context, client *benchmarkClient, count, concurrency int, loop bool, errOut io.Writer) *summary {
	jobs := make(chan struct{}, concurrency)
	results := make(chan runResult, concurrency)
	var workers sync.WaitGroup

	for range concurrency {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for range jobs {
				if ctx.Err() != nil {
					return
				}
				results <- client.Do(ctx)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := 0; loop || i < count; i++ {
			select {
			case <-ctx.Done():
				return
			case jobs <- struct{}{}:
			}
		}
	}()

	go func() {
		workers.Wait()
		close(results)
	}()

	sum := &summary{}
	for res := range results {
		sum.add(res)
		if res.err != nil {
			fmt.Fprintf(errOut, "request error: %v\n", res.err)
		}
	}
	return sum
}

func main() {
	baseURL := pflag.String("base-url", "http://127.0.0.1:8080", "aivm-server base URL")
	apiKey := pflag.String("api-key", os.Getenv("AIVM_API_KEY"), "Bearer token for the server")
	mode := pflag.String("mode", modeInspect, "Endpoint to exercise: encode, decode, inspect")
	modelPath := pflag.StringP("model", "m", "", "Model file (Safetensors for encode, AIVM otherwise)")
	metadataPath := pflag.String("metadata", "", "Metadata JSON for encode mode")
	count := pflag.IntP("count", "n", 1, "Number of requests to send")
	concurrency := pflag.IntP("concurrency", "c", 1, "Number of concurrent workers")
	loop := pflag.Bool("loop", false, "Send requests continuously until interrupted")
	pflag.Parse()

	if *modelPath == "" || *concurrency < 1 {
		fmt.Fprintln(os.Stderr, "usage: benchmark --model FILE [--mode encode --metadata FILE] [-n COUNT] [-c CONCURRENCY]")
		os.Exit(2)
	}
	model, err := os.ReadFile(*modelPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read model: %v\n", err)
		os.Exit(1)
	}
	var metadata []byte
	if *metadataPath != "" {
		if metadata, err = os.ReadFile(*metadataPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read metadata: %v\n", err)
			os.Exit(1)
		}
	}
	req, err := buildRequest(*mode, model, metadata)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	sum := run(ctx, newBenchmarkClient(*baseURL, *apiKey, req), *count, *concurrency, *loop, os.Stderr)
	sum.write(os.Stdout, time.Since(start))
}
