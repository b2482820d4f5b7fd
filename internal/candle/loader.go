package candle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"backtest-engine/internal/errs"
)

// Input lines are comma-separated:
//
//	time_us, open, high, low, close, volume, close_time, ...
//
// Timestamps are microseconds since epoch and are floored to seconds.
// Trailing columns beyond volume are ignored.
const minColumns = 6

// Load reads candles from a CSV-ish stream, one candle per line. Blank
// lines are skipped; when the very first line does not parse as a
// candle it is treated as a header row and skipped.
func Load(r io.Reader) ([]Candle, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	candles := make([]Candle, 0, 4096)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c, err := ParseLine(line)
		if err != nil {
			if lineNo == 1 && len(candles) == 0 {
				// tolerate a single header row
				continue
			}
			if e, ok := err.(*errs.Error); ok {
				return nil, e.With("line", strconv.Itoa(lineNo))
			}
			return nil, err
		}
		candles = append(candles, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.New(errs.CandleFormatInvalid, "failed to read candle data").Wrap(err)
	}
	return candles, nil
}

// LoadFile opens and loads a candle file from disk.
func LoadFile(path string) ([]Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Newf(errs.CandleFormatInvalid, "cannot open candle file %s", path).Wrap(err)
	}
	defer f.Close()
	return Load(f)
}

// ParseLine parses a single candle line.
func ParseLine(line string) (Candle, error) {
	fields := strings.Split(line, ",")
	if len(fields) < minColumns {
		return Candle{}, errs.Newf(errs.CandleFormatInvalid,
			"expected at least %d columns, got %d", minColumns, len(fields))
	}

	timeUs, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return Candle{}, errs.New(errs.CandleFormatInvalid, "invalid time_us column").Wrap(err)
	}

	vals := make([]float64, 5)
	names := [5]string{"open", "high", "low", "close", "volume"}
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64)
		if err != nil {
			return Candle{}, errs.Newf(errs.CandleFormatInvalid, "invalid %s column", names[i]).Wrap(err)
		}
		vals[i] = v
	}

	c := Candle{
		Bucket: timeUs / 1_000_000,
		Open:   vals[0],
		High:   vals[1],
		Low:    vals[2],
		Close:  vals[3],
		Volume: vals[4],
	}
	if err := c.Validate(); err != nil {
		return Candle{}, err
	}
	return c, nil
}

// Digest returns a cheap identity string for a loaded series, used as a
// cache key component: first bucket, last bucket, and count.
func Digest(candles []Candle) string {
	if len(candles) == 0 {
		return "empty"
	}
	return fmt.Sprintf("%d-%d-%d", candles[0].Bucket, candles[len(candles)-1].Bucket, len(candles))
}
