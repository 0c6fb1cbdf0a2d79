package ledger

import (
	"context"
	"strconv"

	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
)

// MaxReportedViolations caps the violations kept in a report.
const MaxReportedViolations = 50

// EntryScanner iterates committed entries in ascending position order over a
// consistent snapshot.
type EntryScanner interface {
	ScanEntries(ctx context.Context, fn func(entry models.LedgerEntry) error) error
}

// Verify replays the chain from genesis. Each entry is checked twice: its
// stored digest against a recomputation over its own stored fields, and its
// stored prev_digest against the digest of the entry before it. It never
// stops early; a broken chain is data, only a failed scan is an error.
func Verify(ctx context.Context, scanner EntryScanner) (models.VerificationReport, error) {
	report := models.VerificationReport{Errors: make([]models.Violation, 0)}
	expectedPrev := GenesisDigest
	expectedPosition := uint64(1)
	found := 0

	record := func(v models.Violation) {
		found++
		if len(report.Errors) < MaxReportedViolations {
			report.Errors = append(report.Errors, v)
		}
	}

	err := scanner.ScanEntries(ctx, func(e models.LedgerEntry) error {
		report.EntryCount++

		if e.Position != expectedPosition {
			record(models.Violation{
				Position: e.Position,
				Kind:     models.PositionGap,
				Expected: strconv.FormatUint(expectedPosition, 10),
				Got:      strconv.FormatUint(e.Position, 10),
			})
		}
		if e.PrevDigest != expectedPrev {
			record(models.Violation{
				Position: e.Position,
				Kind:     models.PrevHashMismatch,
				Expected: expectedPrev,
				Got:      e.PrevDigest,
			})
		}
		// an amount with digits past AmountScale hashes like its truncation,
		// so it can only have been written around the executor
		if !e.Amount.Equal(Quantize(e.Amount)) {
			record(models.Violation{
				Position: e.Position,
				Kind:     models.BlockHashMismatch,
				Expected: FormatAmount(e.Amount),
				Got:      e.Amount.String(),
			})
		} else if EntryHash(e) != e.Digest {
			record(models.Violation{
				Position: e.Position,
				Kind:     models.BlockHashMismatch,
			})
		}

		expectedPrev = e.Digest
		expectedPosition = e.Position + 1
		return nil
	})
	if err != nil {
		return models.VerificationReport{}, err
	}

	report.OK = found == 0
	report.ViolationCount = found
	report.Truncated = found > len(report.Errors)
	return report, nil
}

// VerifyChain replays the stored chain. It never mutates state and does not
// block transfers.
func (l *Ledger) VerifyChain(ctx context.Context) (models.VerificationReport, error) {
	report, err := Verify(ctx, l.store)
	if err != nil {
		return models.VerificationReport{}, classify(err)
	}
	l.metrics.ChainVerified(report)
	if report.OK {
		l.logger.Infow("chain verified", "entries", report.EntryCount)
	} else {
		l.logger.Warnw("chain verification found violations",
			"entries", report.EntryCount,
			"violations", report.ViolationCount,
			"truncated", report.Truncated)
	}
	return report, nil
}
