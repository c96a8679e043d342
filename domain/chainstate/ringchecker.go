package chainstate

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/cryonero/cryonerod/domain/cncrypto"
)

// ringChecker fans ring-signature verification out to a bounded worker
// pool. Each block performs a single start→await cycle; the caller blocks
// on the join before committing its delta, so the parallelism is invisible
// to everyone else.
type ringChecker struct {
	verifier    cncrypto.RingVerifier
	workerCount int
}

func newRingChecker(verifier cncrypto.RingVerifier) *ringChecker {
	workerCount := runtime.NumCPU()
	if workerCount < 1 {
		workerCount = 1
	}
	return &ringChecker{verifier: verifier, workerCount: workerCount}
}

// verifyAll checks the rings until a failure of either kind is recorded;
// after that the workers skip the rings still queued. When both kinds were
// recorded, corruption wins over a plain bad signature, since it signals
// database damage rather than an invalid block.
func (rc *ringChecker) verifyAll(work []ringWork) error {
	if len(work) == 0 {
		return nil
	}
	var badSignatures, corruptedKeys atomic.Bool
	jobs := make(chan ringWork, len(work))
	var wg sync.WaitGroup
	for i := 0; i < rc.workerCount; i++ {
		wg.Add(1)
		spawn(func() {
			defer wg.Done()
			for w := range jobs {
				if badSignatures.Load() || corruptedKeys.Load() {
					continue
				}
				switch rc.verifier.CheckRingSignature(w.prefixHash, w.keyImage, w.outputKeys, w.signatures) {
				case cncrypto.RingBadSignature:
					badSignatures.Store(true)
				case cncrypto.RingKeyCorrupted:
					corruptedKeys.Store(true)
				}
			}
		})
	}
	for _, w := range work {
		jobs <- w
	}
	close(jobs)
	wg.Wait()
	if corruptedKeys.Load() {
		return ErrInputCorruptedSignatures
	}
	if badSignatures.Load() {
		return ErrInputInvalidSignatures
	}
	return nil
}
