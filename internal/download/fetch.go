package download

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"crystal/internal/model"
	"crystal/internal/scheduler"
)

// Fetch downloads one resource's body, persists the resulting revision,
// and reports it back to the scheduler. It matches scheduler.FetchFunc
// exactly, so it can be assigned straight into a scheduler.Pipeline.
//
// A Go error is only returned when the store itself fails; ordinary
// network failures (timeout, dns, tls, connection, http, io) are recorded
// as a revision and reported as a successful RevisionResult with
// IsError set, per the project's error taxonomy.
func (p *Pipeline) Fetch(ctx context.Context, resourceID int64, cookie string, interactive bool) (scheduler.RevisionResult, error) {
	if !interactive && p.assumeFresh {
		if result, ok := p.sessionFreshResult(ctx, resourceID); ok {
			return result, nil
		}
	}

	resource, err := p.store.ResourceByID(ctx, resourceID)
	if err != nil {
		return scheduler.RevisionResult{}, fmt.Errorf("looking up resource %d: %w", resourceID, err)
	}

	result, err := p.doFetch(ctx, resource, cookie)
	p.markSeen(resourceID)
	return result, err
}

func (p *Pipeline) markSeen(resourceID int64) {
	p.seenMu.Lock()
	p.seen[resourceID] = time.Now()
	p.seenMu.Unlock()
}

// sessionFreshResult implements the admission/dedup short-circuit: a
// resource already fetched within the session-fresh window this session
// returns its most recent revision instead of hitting the network again.
// That is the latest revision of any kind: if the last fetch recorded an
// error, the error is returned, and no earlier successful revision is
// looked up. Interactive priority (the spec's stale_before bypass, collapsed
// into the priority flag already threaded through FetchFunc) always
// skips this check.
func (p *Pipeline) sessionFreshResult(ctx context.Context, resourceID int64) (scheduler.RevisionResult, bool) {
	p.seenMu.Lock()
	seenAt, ok := p.seen[resourceID]
	p.seenMu.Unlock()
	if !ok || time.Since(seenAt) > p.sessionFreshWindow {
		return scheduler.RevisionResult{}, false
	}

	rev, err := p.store.LatestRevision(ctx, resourceID)
	if err != nil {
		return scheduler.RevisionResult{}, false
	}
	return buildRevisionResult(rev), true
}

func buildRevisionResult(rev model.Revision) scheduler.RevisionResult {
	if rev.IsError() {
		return scheduler.RevisionResult{RevisionID: rev.ID, IsError: true}
	}
	statusCode := 0
	if rev.Metadata != nil {
		statusCode = rev.Metadata.StatusCode
	}
	return scheduler.RevisionResult{
		RevisionID:  rev.ID,
		IsErrorPage: statusCode >= 400,
		ContentType: headerValue(rev.Metadata, "Content-Type"),
	}
}

// doFetch performs the actual request/response/persist cycle for one
// resource. Timeouts are two-phase: firstByteTimeout bounds how long the
// request may take before the response headers arrive, then stallTimeout
// bounds the gap between successive body reads, reset on every Read —
// unlike a single context.WithTimeout, which would conflate "slow to
// start" with "slow overall" into one deadline.
func (p *Pipeline) doFetch(ctx context.Context, resource model.Resource, cookie string) (scheduler.RevisionResult, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	firstByte := time.AfterFunc(p.firstByteTimeout, cancel)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, resource.URL, nil)
	if err != nil {
		firstByte.Stop()
		return p.recordFailure(ctx, resource.ID, cookie, model.RevisionErrorHTTP, err.Error())
	}
	req.Header.Set("User-Agent", p.userAgent)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := p.client.Do(req)
	firstByte.Stop()
	if err != nil {
		return p.recordFailure(ctx, resource.ID, cookie, classifyError(err, false), err.Error())
	}
	defer resp.Body.Close()

	body := newStallGuard(resp.Body, p.stallTimeout, cancel)
	defer body.Close()

	var reader io.Reader = body
	if p.maxBodySize > 0 {
		reader = io.LimitReader(reader, p.maxBodySize)
	}
	reader, closer, err := decodeContentEncoding(resp.Header.Get("Content-Encoding"), reader)
	if err != nil {
		return p.recordFailure(ctx, resource.ID, cookie, model.RevisionErrorIO, err.Error())
	}
	if closer != nil {
		defer closer.Close()
	}

	var buf bytes.Buffer
	if resp.ContentLength > 0 {
		buf.Grow(int(resp.ContentLength))
	}
	if _, err := copyLarge(&buf, reader); err != nil {
		return p.recordFailure(ctx, resource.ID, cookie, classifyError(err, true), err.Error())
	}

	metadata := buildMetadata(resp)
	rev, err := p.store.WriteRevision(ctx, resource.ID, cookie, nil, &metadata, &buf)
	if err != nil {
		return scheduler.RevisionResult{}, fmt.Errorf("writing revision for resource %d: %w", resource.ID, err)
	}

	return scheduler.RevisionResult{
		RevisionID:  rev.ID,
		IsErrorPage: resp.StatusCode >= 400,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// recordFailure persists a failed revision (no body) and reports it as a
// successful RevisionResult with IsError set, per the error taxonomy:
// errors are stored, never retried automatically.
func (p *Pipeline) recordFailure(ctx context.Context, resourceID int64, cookie string, kind model.RevisionErrorKind, message string) (scheduler.RevisionResult, error) {
	revErr := &model.RevisionError{Kind: kind, Message: message}
	rev, err := p.store.WriteRevision(ctx, resourceID, cookie, revErr, nil, nil)
	if err != nil {
		return scheduler.RevisionResult{}, fmt.Errorf("recording fetch failure for resource %d: %w", resourceID, err)
	}
	return scheduler.RevisionResult{RevisionID: rev.ID, IsError: true}, nil
}

// buildMetadata captures response metadata, auto-populating the Date
// header per RFC 7231 §7.1.1.2 when the origin omitted it.
func buildMetadata(resp *http.Response) model.ResponseMetadata {
	if resp.Header.Get("Date") == "" {
		resp.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}

	var headers [][2]string
	for k, vs := range resp.Header {
		for _, v := range vs {
			headers = append(headers, [2]string{k, v})
		}
	}
	sort.Slice(headers, func(i, j int) bool {
		if headers[i][0] != headers[j][0] {
			return headers[i][0] < headers[j][0]
		}
		return headers[i][1] < headers[j][1]
	})

	httpVersion := 11
	if resp.ProtoMajor == 1 && resp.ProtoMinor == 0 {
		httpVersion = 10
	}

	return model.ResponseMetadata{
		HTTPVersion:  httpVersion,
		StatusCode:   resp.StatusCode,
		ReasonPhrase: http.StatusText(resp.StatusCode),
		Headers:      headers,
	}
}

// decodeContentEncoding wraps body according to Content-Encoding. Go's
// transport only auto-decompresses gzip when the caller never sets
// Accept-Encoding itself; since the request sets it explicitly to offer
// both gzip and deflate, decoding is this package's job.
func decodeContentEncoding(encoding string, body io.Reader) (io.Reader, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil, nil
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			return nil, nil, fmt.Errorf("opening gzip body: %w", err)
		}
		return r, r, nil
	case "deflate":
		r := flate.NewReader(body)
		return r, r, nil
	default:
		return body, nil, nil // unrecognized encoding: store the raw bytes
	}
}

// copyBufferSize is the buffer copyLarge reuses for the whole copy,
// avoiding the per-chunk allocation a naive loop would make.
const copyBufferSize = 32 * 1024

// copyLarge copies src into dst reusing a single fixed-size buffer, the
// response-capture helper described in the download pipeline's spec.
func copyLarge(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	return io.CopyBuffer(dst, src, buf)
}

// classifyError maps a transport-level failure to the revision error
// taxonomy. gotResponse distinguishes a failure while reading the body
// (io, unless it's a timeout) from a failure before headers ever arrived
// (dns/tls/connection, unless it's a timeout).
func classifyError(err error, gotResponse bool) model.RevisionErrorKind {
	if err == nil {
		return model.RevisionErrorNone
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.RevisionErrorTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.RevisionErrorDNS
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return model.RevisionErrorTLS
	}
	msg := err.Error()
	if strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:") {
		return model.RevisionErrorTLS
	}

	if gotResponse {
		return model.RevisionErrorIO
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return model.RevisionErrorConnection
	}
	return model.RevisionErrorHTTP
}

// stallGuard wraps a response body so a transfer that stops making read
// progress for longer than timeout aborts: every Read resets the timer,
// and the timer firing invokes onStall (the request's context.CancelFunc).
type stallGuard struct {
	r       io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
}

func newStallGuard(r io.ReadCloser, timeout time.Duration, onStall func()) *stallGuard {
	return &stallGuard{r: r, timer: time.AfterFunc(timeout, onStall), timeout: timeout}
}

func (g *stallGuard) Read(p []byte) (int, error) {
	n, err := g.r.Read(p)
	g.timer.Reset(g.timeout)
	return n, err
}

func (g *stallGuard) Close() error {
	g.timer.Stop()
	return g.r.Close()
}
