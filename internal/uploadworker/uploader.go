package uploadworker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ventodeco/submission-intake/internal/jobs"
)

// ErrURLExpired signals the upload side effect's fast-fail path: the
// document URL is classified as expired and must not be retried by the
// upload pool (it is routed straight to the DLQ for the DLQ pool's
// recovery attempt instead).
var ErrURLExpired = fmt.Errorf("upload: document url expired")

// ErrUploadFailed wraps a non-recoverable transfer failure.
type ErrUploadFailed struct {
	Msg string
}

func (e *ErrUploadFailed) Error() string { return "upload: upload failed: " + e.Msg }

// URLExpiryPredicate classifies a document URL as expired or not. It is a
// func type, not a hardcoded substring check, so a production deployment
// can substitute signed-URL expiry parsing without touching consumer code
// (per the "dynamic classification by substring" design note).
type URLExpiryPredicate func(documentURL string) bool

// DefaultURLExpiryPredicate preserves the original substring-based
// classification: a URL containing "expired" is treated as expired.
func DefaultURLExpiryPredicate(documentURL string) bool {
	return strings.Contains(documentURL, "expired")
}

// Uploader performs the upload side effect for a job: fetch document_url
// and forward it to its final destination. The transfer implementation is
// intentionally outside this specification's subject matter (object
// storage, presigning, and the destination service are external
// collaborators); only the fast-fail/timeout contract matters here.
type Uploader interface {
	Upload(ctx context.Context, job jobs.Job) error
}

// HTTPUploader is the default Uploader: it issues a bounded-timeout HTTP GET
// to document_url, reads the response body and discards it; nothing is
// forwarded to a destination. A 2xx response is success. Transport errors,
// 429 and 5xx responses are retried with a bounded backoff distinct from the
// job-level retry/DLQ policy (which operates across process() calls, not
// within a single upload attempt); any other non-2xx response fails at once.
// Every failure is returned as an ErrUploadFailed.
type HTTPUploader struct {
	Client         *http.Client
	Timeout        time.Duration
	ExpiryPredicate URLExpiryPredicate
}

// NewHTTPUploader builds an HTTPUploader with the given bounded timeout.
func NewHTTPUploader(timeout time.Duration) *HTTPUploader {
	return &HTTPUploader{
		Client:          &http.Client{},
		Timeout:         timeout,
		ExpiryPredicate: DefaultURLExpiryPredicate,
	}
}

// Upload implements Uploader.
func (u *HTTPUploader) Upload(ctx context.Context, job jobs.Job) error {
	predicate := u.ExpiryPredicate
	if predicate == nil {
		predicate = DefaultURLExpiryPredicate
	}
	if predicate(job.DocumentURL) {
		return ErrURLExpired
	}

	ctx, cancel := context.WithTimeout(ctx, u.Timeout)
	defer cancel()

	boff := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.DocumentURL, nil)
		if err != nil {
			return backoff.Permanent(&ErrUploadFailed{Msg: err.Error()})
		}
		resp, err := u.Client.Do(req)
		if err != nil {
			// Network-level errors are transient: let backoff retry within
			// the bounded timeout.
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("transient upstream status %d", resp.StatusCode)
		default:
			return backoff.Permanent(&ErrUploadFailed{Msg: fmt.Sprintf("upstream status %d", resp.StatusCode)})
		}
	}

	if err := backoff.Retry(op, boff); err != nil {
		var failed *ErrUploadFailed
		if asUploadFailed(err, &failed) {
			return failed
		}
		return &ErrUploadFailed{Msg: err.Error()}
	}
	return nil
}

func asUploadFailed(err error, target **ErrUploadFailed) bool {
	uf, ok := err.(*ErrUploadFailed)
	if !ok {
		return false
	}
	*target = uf
	return true
}
