package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// RemoteConfig controls the HTTP remote adapter.
type RemoteConfig struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
	Retry     RetryConfig // zero value uses defaults

	// WritesPerSecond paces Create/Update/Delete calls so a large drain
	// does not hammer the backend. Zero disables pacing.
	WritesPerSecond float64
}

// GetRetryConfig returns Retry config or defaults if not set.
func (c RemoteConfig) GetRetryConfig() RetryConfig {
	if c.Retry.MaxAttempts == 0 {
		return DefaultRetryConfig()
	}
	return c.Retry
}

// HTTPRemote talks JSON over HTTP to the backend's per-collection CRUD
// endpoints. Transient transport failures are retried with backoff; HTTP
// statuses map onto the engine's error taxonomy.
type HTTPRemote struct {
	cfg        RemoteConfig
	collection string
	codec      Codec
	hc         *http.Client
	limiter    *rate.Limiter
}

// NewHTTPRemote builds an adapter for one collection.
func NewHTTPRemote(cfg RemoteConfig, collection string, codec Codec) *HTTPRemote {
	to := cfg.Timeout
	if to == 0 {
		to = 15 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.WritesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.WritesPerSecond), 1)
	}
	return &HTTPRemote{
		cfg:        cfg,
		collection: collection,
		codec:      codec,
		hc:         &http.Client{Timeout: to},
		limiter:    limiter,
	}
}

// Create stores a new record and returns the confirmed entity.
func (r *HTTPRemote) Create(ctx context.Context, e Entity) (Entity, error) {
	return WithRetry(ctx, r.cfg.GetRetryConfig(), "create", func() (Entity, error) {
		if err := r.waitWrite(ctx); err != nil {
			return nil, err
		}
		return r.roundTripEntity(ctx, http.MethodPost, r.collectionURL(), e)
	})
}

// Read fetches the current remote record.
func (r *HTTPRemote) Read(ctx context.Context, id string) (Entity, error) {
	return WithRetry(ctx, r.cfg.GetRetryConfig(), "read", func() (Entity, error) {
		return r.roundTripEntity(ctx, http.MethodGet, r.recordURL(id), nil)
	})
}

// Update replaces an existing record, surfacing ErrVersionMismatch on stale
// versions.
func (r *HTTPRemote) Update(ctx context.Context, e Entity) (Entity, error) {
	return WithRetry(ctx, r.cfg.GetRetryConfig(), "update", func() (Entity, error) {
		if err := r.waitWrite(ctx); err != nil {
			return nil, err
		}
		return r.roundTripEntity(ctx, http.MethodPut, r.recordURL(e.ID()), e)
	})
}

// Delete removes a record.
func (r *HTTPRemote) Delete(ctx context.Context, id string) error {
	_, err := WithRetry(ctx, r.cfg.GetRetryConfig(), "delete", func() (struct{}, error) {
		if err := r.waitWrite(ctx); err != nil {
			return struct{}{}, err
		}
		req, err := r.newRequest(ctx, http.MethodDelete, r.recordURL(id), nil)
		if err != nil {
			return struct{}{}, err
		}
		resp, err := r.hc.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
			return struct{}{}, nil
		}
		return struct{}{}, statusError(resp)
	})
	return err
}

// ListAll fetches the full remote snapshot for the collection.
func (r *HTTPRemote) ListAll(ctx context.Context) ([]Entity, error) {
	return WithRetry(ctx, r.cfg.GetRetryConfig(), "list", func() ([]Entity, error) {
		req, err := r.newRequest(ctx, http.MethodGet, r.collectionURL(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := r.hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
		}
		defer func() {
			_ = resp.Body.Close()
		}()
		if resp.StatusCode != http.StatusOK {
			return nil, statusError(resp)
		}

		var items []json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
			return nil, fmt.Errorf("decode %s list: %w", r.collection, err)
		}
		out := make([]Entity, 0, len(items))
		for _, it := range items {
			e, err := r.codec.Decode(it)
			if err != nil {
				return nil, fmt.Errorf("decode %s record: %w", r.collection, err)
			}
			out = append(out, e)
		}
		return out, nil
	})
}

func (r *HTTPRemote) roundTripEntity(ctx context.Context, method, url string, e Entity) (Entity, error) {
	var body io.Reader
	if e != nil {
		payload, err := r.codec.Encode(e)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := r.newRequest(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	resp, err := r.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, statusError(resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	confirmed, err := r.codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", r.collection, err)
	}
	return confirmed, nil
}

func (r *HTTPRemote) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	if r.cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if r.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.AuthToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (r *HTTPRemote) waitWrite(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

func (r *HTTPRemote) collectionURL() string {
	return fmt.Sprintf("%s/v1/%s", r.cfg.BaseURL, url.PathEscape(r.collection))
}

func (r *HTTPRemote) recordURL(id string) string {
	return fmt.Sprintf("%s/%s", r.collectionURL(), url.PathEscape(id))
}

// statusError maps HTTP responses onto the engine error taxonomy.
func statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	var base error
	switch {
	case resp.StatusCode == http.StatusNotFound:
		base = ErrNotFound
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed:
		base = ErrVersionMismatch
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		base = ErrPermissionDenied
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		base = ErrMalformedPayload
	case resp.StatusCode >= 500:
		base = ErrServerError
	default:
		base = ErrNetworkFailure
	}
	if len(detail) > 0 {
		return fmt.Errorf("%w: %s: %s", base, resp.Status, bytes.TrimSpace(detail))
	}
	return fmt.Errorf("%w: %s", base, resp.Status)
}
