package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sys3222/akshare-mcp-adapter/internal/errs"
	"github.com/sys3222/akshare-mcp-adapter/internal/model"
	"github.com/sys3222/akshare-mcp-adapter/pkg/logging"
)

const defaultMaxResultBytes = 10 << 20 // 10 MiB

// Invoker executes a named upstream call (C4). It never consults the
// cache; C5 sits in front of it.
type Invoker struct {
	registry   *Registry
	httpClient *http.Client
	baseURL    string
	retry      RetryPolicy
	maxBytes   int64
	timeout    time.Duration
	pool       *semaphore.Weighted
	logger     *logging.Logger
	onOutcome  func(interfaceName, outcome string)
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

func WithRetryPolicy(p RetryPolicy) InvokerOption { return func(i *Invoker) { i.retry = p } }
func WithMaxResultBytes(n int64) InvokerOption     { return func(i *Invoker) { i.maxBytes = n } }
func WithLogger(l *logging.Logger) InvokerOption   { return func(i *Invoker) { i.logger = l } }

// WithOutcomeHook registers a callback invoked once per Call with the
// interface name and a coarse outcome ("success", "timeout", "error"),
// letting the caller wire metrics without this package depending on
// any particular instrumentation library.
func WithOutcomeHook(fn func(interfaceName, outcome string)) InvokerOption {
	return func(i *Invoker) { i.onOutcome = fn }
}

// NewInvoker builds an Invoker calling baseURL with wall-clock cap
// timeout, bounded by a fixed-size worker pool so a burst of cache
// misses cannot open unbounded outbound connections.
func NewInvoker(registry *Registry, baseURL string, timeout time.Duration, opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		registry:   registry,
		httpClient: &http.Client{},
		baseURL:    baseURL,
		retry:      DefaultRetryPolicy(),
		maxBytes:   defaultMaxResultBytes,
		timeout:    timeout,
		pool:       semaphore.NewWeighted(32),
		logger:     logging.Default("upstream-invoker"),
	}
	for _, o := range opts {
		o(inv)
	}
	return inv
}

// Call executes interfaceName(params) with retry/timeout/size-guard and
// returns a normalized Table.
func (inv *Invoker) Call(ctx context.Context, interfaceName string, params map[string]string) (*model.Table, error) {
	if !inv.registry.Has(interfaceName) {
		inv.reportOutcome(interfaceName, "error")
		return nil, errs.New(errs.UnknownInterface, fmt.Sprintf("unknown upstream interface %q", interfaceName))
	}

	if err := inv.pool.Acquire(ctx, 1); err != nil {
		inv.reportOutcome(interfaceName, "error")
		return nil, errs.Wrap(errs.Internal, "upstream pool unavailable", err)
	}
	defer inv.pool.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= inv.retry.MaxAttempts; attempt++ {
		start := time.Now()
		table, err := inv.doCall(callCtx, interfaceName, params)
		inv.logger.UpstreamCallLog(interfaceName, attempt, time.Since(start), err)
		if err == nil {
			inv.reportOutcome(interfaceName, "success")
			return table, nil
		}
		lastErr = err

		if kind := errs.KindOf(err); kind == errs.UnknownInterface || kind == errs.InvalidParameters || kind == errs.ResultTooLarge {
			inv.reportOutcome(interfaceName, "error")
			return nil, err
		}

		if !isTransient(err) {
			break
		}
		if attempt == inv.retry.MaxAttempts {
			break
		}
		select {
		case <-callCtx.Done():
			inv.reportOutcome(interfaceName, "timeout")
			return nil, errs.Wrap(errs.UpstreamTimeout, "upstream call timed out", callCtx.Err())
		case <-time.After(inv.retry.Backoff(attempt)):
		}
	}

	if callCtx.Err() != nil {
		inv.reportOutcome(interfaceName, "timeout")
		return nil, errs.Wrap(errs.UpstreamTimeout, "upstream call timed out", callCtx.Err())
	}
	inv.reportOutcome(interfaceName, "error")
	return nil, errs.Wrap(errs.UpstreamError, "upstream call failed", lastErr)
}

func (inv *Invoker) reportOutcome(interfaceName, outcome string) {
	if inv.onOutcome != nil {
		inv.onOutcome(interfaceName, outcome)
	}
}

func (inv *Invoker) doCall(ctx context.Context, interfaceName string, params map[string]string) (*model.Table, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, newFatal(errs.Wrap(errs.InvalidParameters, "invalid params", err))
	}

	url := inv.baseURL + "/" + interfaceName
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, newFatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := inv.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.UpstreamTimeout, "upstream call timed out", ctx.Err())
		}
		return nil, newTransient(errs.Wrap(errs.UpstreamError, "upstream unreachable", err))
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, inv.maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, newTransient(errs.Wrap(errs.UpstreamError, "reading upstream response failed", err))
	}
	if int64(len(raw)) > inv.maxBytes {
		return nil, errs.New(errs.ResultTooLarge, "upstream result exceeds size limit")
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, newTransient(errs.Wrap(errs.UpstreamError, fmt.Sprintf("upstream status %d", resp.StatusCode), fmt.Errorf("%s", raw)))
	}
	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, newFatal(errs.New(errs.InvalidParameters, "upstream rejected parameters"))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newFatal(errs.Wrap(errs.UpstreamError, fmt.Sprintf("upstream status %d", resp.StatusCode), fmt.Errorf("%s", raw)))
	}

	return normalize(raw)
}

// normalize decodes the wire shape returned by the upstream façade: an
// array of objects with homogeneous keys. Values arrive pre-typed as
// JSON scalars and are folded into model.Cell; the table's fields are
// the first record's keys in lexicographic order.
func normalize(raw []byte) (*model.Table, error) {
	var records []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, newFatal(errs.Wrap(errs.UpstreamError, "upstream returned malformed payload", err))
	}
	if len(records) == 0 {
		return model.NewTable(nil), nil
	}

	fields := make([]string, 0, len(records[0]))
	for k := range records[0] {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	table := model.NewTable(fields)
	for _, rec := range records {
		row := make([]model.Cell, len(fields))
		for i, f := range fields {
			row[i] = rawToCell(rec[f])
		}
		table.AddRecord(row)
	}
	return table, nil
}

func rawToCell(raw json.RawMessage) model.Cell {
	if len(raw) == 0 || string(raw) == "null" {
		return model.NullCell()
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return model.StringCell(s)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return model.BoolCell(b)
	}
	if i, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return model.IntCell(i)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return model.FloatCell(f)
	}
	return model.StringCell(string(raw))
}
