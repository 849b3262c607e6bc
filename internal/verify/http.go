package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTPVerifier asks an external prover service over JSON/HTTP.
type HTTPVerifier struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
}

type Option func(*HTTPVerifier)

func WithTimeout(d time.Duration) Option {
	return func(v *HTTPVerifier) { v.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(v *HTTPVerifier) { v.http.MaxConnsPerHost = n }
}

func NewHTTPVerifier(baseURL string, opts ...Option) *HTTPVerifier {
	v := &HTTPVerifier{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 32},
		defaultTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type boardPlacementRequest struct {
	Commitment string `json:"commitment"`
	Proof      string `json:"proof"`
}

type shotResultRequest struct {
	Commitment string `json:"commitment"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Hit        bool   `json:"hit"`
	Proof      string `json:"proof"`
}

type gameEndRequest struct {
	Commitment  string `json:"commitment"`
	HistoryHash string `json:"history_hash"`
	Proof       string `json:"proof"`
}

type verdictResponse struct {
	Valid bool `json:"valid"`
}

func (v *HTTPVerifier) VerifyBoardPlacement(ctx context.Context, commitment, proof string) (bool, error) {
	return v.ask(ctx, "/verify/board", boardPlacementRequest{Commitment: commitment, Proof: proof})
}

func (v *HTTPVerifier) VerifyShotResult(ctx context.Context, commitment string, x, y int, claimedHit bool, proof string) (bool, error) {
	return v.ask(ctx, "/verify/shot", shotResultRequest{Commitment: commitment, X: x, Y: y, Hit: claimedHit, Proof: proof})
}

func (v *HTTPVerifier) VerifyGameEnd(ctx context.Context, commitment, historyHash, proof string) (bool, error) {
	return v.ask(ctx, "/verify/end", gameEndRequest{Commitment: commitment, HistoryHash: historyHash, Proof: proof})
}

func (v *HTTPVerifier) ask(ctx context.Context, path string, in any) (bool, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(v.baseURL + path)
	req.Header.SetContentType("application/json")

	payload, err := json.Marshal(in)
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	if err := v.http.DoDeadline(req, resp, v.deadline(ctx)); err != nil {
		return false, fmt.Errorf("verifier request: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return false, fmt.Errorf("verifier status %d", status)
	}

	var out verdictResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return false, fmt.Errorf("decode verdict: %w", err)
	}
	return out.Valid, nil
}

func (v *HTTPVerifier) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(v.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}
