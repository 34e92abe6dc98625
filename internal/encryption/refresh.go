package encryption

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// aeadLoader loads an AEAD from external key material.
type aeadLoader func(ctx context.Context) (tink.AEAD, error)

// RefreshableAEAD wraps a tink.AEAD and reloads its keyset periodically, so a
// rotated keyset is picked up without a restart. Refresh failures are logged
// and the existing keyset stays in use.
type RefreshableAEAD struct {
	mu     sync.RWMutex
	aead   tink.AEAD
	loader aeadLoader
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRefreshableAEAD loads a KMS-wrapped keyset from Secrets Manager and
// refreshes it every 15 minutes.
func NewRefreshableAEAD(ctx context.Context, keysetURI, kmsEnvelopeKeyURI string) (*RefreshableAEAD, error) {
	loader := func(ctx context.Context) (tink.AEAD, error) {
		return NewAEADFromKMS(ctx, keysetURI, kmsEnvelopeKeyURI)
	}

	return newRefreshableAEAD(ctx, loader, 15*time.Minute)
}

// NewRefreshableAEADFromFile loads a cleartext keyset file and re-reads it
// every minute.
func NewRefreshableAEADFromFile(ctx context.Context, path string) (*RefreshableAEAD, error) {
	loader := func(context.Context) (tink.AEAD, error) {
		return NewAEADFromFile(path)
	}

	return newRefreshableAEAD(ctx, loader, time.Minute)
}

// newRefreshableAEAD loads the initial keyset synchronously; if that fails no
// goroutine is started.
func newRefreshableAEAD(ctx context.Context, loader aeadLoader, interval time.Duration) (*RefreshableAEAD, error) {
	initial, err := loader(ctx)
	if err != nil {
		return nil, err
	}

	r := &RefreshableAEAD{
		aead:   initial,
		loader: loader,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go r.refreshLoop(ctx, interval)

	return r, nil
}

func (r *RefreshableAEAD) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aead.Encrypt(plaintext, associatedData)
}

func (r *RefreshableAEAD) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aead.Decrypt(ciphertext, associatedData)
}

// Close stops the refresh goroutine and waits for it to exit.
func (r *RefreshableAEAD) Close() error {
	close(r.stopCh)
	<-r.doneCh
	return nil
}

func (r *RefreshableAEAD) refreshLoop(ctx context.Context, interval time.Duration) {
	defer close(r.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *RefreshableAEAD) refresh(ctx context.Context) {
	next, err := r.loader(ctx)
	if err != nil {
		log.Warn().
			Err(err).
			Msg("failed to refresh encryption keyset, continuing with current keyset")
		return
	}

	r.mu.Lock()
	r.aead = next
	r.mu.Unlock()

	log.Debug().Msg("encryption keyset refreshed")
}
