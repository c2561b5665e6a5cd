package archiver

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"go.uber.org/zap"
)

const DefaultProbeTimeout = 5 * time.Second

// Matches the banner of both 7-Zip ("7-Zip [64] 16.02", "7-Zip (a) 19.00")
// and p7zip ("p7zip Version 16.02").
var versionPattern = regexp.MustCompile(`(?:7-Zip|p7zip Version)(?:\s+\(\w+\))?(?:\s+\[\d+\])?\s+(\d+\.\d+)`)

// Prober runs the archiver without arguments and reads its banner.
type Prober struct {
	timeout time.Duration
	logger  *logging.Logger
}

func NewProber(timeout time.Duration, logger *logging.Logger) *Prober {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Prober{timeout: timeout, logger: logger}
}

// Probe never fails: a binary that cannot be run, times out, or prints no
// recognisable banner yields a nil version.
func (p *Prober) Probe(ctx context.Context, binaryPath string) (*float64, string) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// 7-Zip exits non-zero on some versions when run bare; only the
	// output matters here.
	output, err := exec.CommandContext(timeoutCtx, binaryPath).CombinedOutput()
	if err != nil {
		p.logger.Debug("archiver probe returned an error",
			zap.String("binary", binaryPath),
			zap.Error(err),
		)
	}

	ver, raw, ok := ParseVersion(string(output))
	if !ok {
		p.logger.Warn("archiver version undetermined, using conservative flags",
			zap.String("binary", binaryPath),
		)
		return nil, ""
	}

	p.logger.Debug("archiver version probed",
		zap.String("binary", binaryPath),
		zap.String("version", raw),
	)
	return &ver, raw
}

func ParseVersion(output string) (float64, string, bool) {
	for _, match := range versionPattern.FindAllStringSubmatch(output, -1) {
		if v, err := strconv.ParseFloat(match[1], 64); err == nil {
			return v, match[1], true
		}
	}
	return 0, "", false
}
