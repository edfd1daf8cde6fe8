package trigger

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

var rateExpr = regexp.MustCompile(`^rate\((\d+)\s+(minute|minutes|hour|hours|day|days)\)$`)

// Schedule is a parsed schedule expression: "rate(<n> <unit>)", "cron(<expr>)" or a bare cron expression.
type Schedule struct {
	expr     string
	interval time.Duration
	cron     string
}

func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)

	if m := rateExpr.FindStringSubmatch(expr); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Schedule{}, fmt.Errorf("invalid rate value in %q", expr)
		}
		unit := time.Minute
		switch strings.TrimSuffix(m[2], "s") {
		case "hour":
			unit = time.Hour
		case "day":
			unit = 24 * time.Hour
		}
		return Schedule{expr: expr, interval: time.Duration(n) * unit}, nil
	}

	cron := expr
	if strings.HasPrefix(expr, "cron(") && strings.HasSuffix(expr, ")") {
		cron = strings.TrimSuffix(strings.TrimPrefix(expr, "cron("), ")")
	}
	if !gronx.IsValid(cron) {
		return Schedule{}, fmt.Errorf("invalid schedule expression %q", expr)
	}
	return Schedule{expr: expr, cron: cron}, nil
}

func (s Schedule) String() string {
	return s.expr
}

// Next returns the first fire time strictly after t.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	if s.interval > 0 {
		return t.Add(s.interval), nil
	}
	return gronx.NextTickAfter(s.cron, t, false)
}

// jitter picks a uniformly random offset in [0, window).
func jitter(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(window)))
}
